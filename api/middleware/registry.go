package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/giftship-backend/api/responses"
	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
	"github.com/angelmondragon/giftship-backend/pkg/logger"
)

// RegistryParam is the chi URL parameter carrying the registry identifier.
const RegistryParam = "registryId"

var registryIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Registry resolves the registry path parameter and scopes the request to it.
func Registry(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			registryID := strings.TrimSpace(chi.URLParam(r, RegistryParam))
			if !registryIDPattern.MatchString(registryID) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid registry id"))
				return
			}

			ctx := WithRegistryID(r.Context(), registryID)
			if logg != nil {
				ctx = logg.WithRegistryID(ctx, registryID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
