package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRegistryScopesRequest(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Route("/registries/{registryId}", func(r chi.Router) {
		r.Use(Registry(nil))
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			seen = RegistryIDFromContext(r.Context())
		})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/registries/reg_42/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != "reg_42" {
		t.Fatalf("expected registry in context, got %q", seen)
	}
}

func TestRegistryRejectsMalformedID(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/registries/{registryId}", func(r chi.Router) {
		r.Use(Registry(nil))
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/registries/-bad%20id/ping", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
