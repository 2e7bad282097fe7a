package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftship-backend/api/middleware"
	"github.com/angelmondragon/giftship-backend/api/responses"
	"github.com/angelmondragon/giftship-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/giftship-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
	"github.com/angelmondragon/giftship-backend/pkg/logger"
	"github.com/angelmondragon/giftship-backend/pkg/types"
)

const maxInstructionsLength = 500

type splitRequest struct {
	Items        []types.CartItem       `json:"items" validate:"required,min=1,dive"`
	OwnerAddress types.ShippingAddress  `json:"owner_address"`
	BuyerAddress *types.ShippingAddress `json:"buyer_address,omitempty" validate:"omitempty"`
}

type createOrdersRequest struct {
	Groups  []types.ShippingGroup `json:"groups" validate:"required,min=1"`
	Session types.CheckoutSession `json:"session"`
}

type coordinateRequest struct {
	CheckoutID uuid.UUID                    `json:"checkout_id" validate:"required"`
	Preference types.CoordinationPreference `json:"preference"`
}

type notifyRequest struct {
	CheckoutID      uuid.UUID `json:"checkout_id" validate:"required"`
	RecipientEmails []string  `json:"recipient_emails,omitempty" validate:"omitempty,dive,email"`
}

type checkoutRequest struct {
	Items           []types.CartItem             `json:"items" validate:"required,min=1,dive"`
	OwnerAddress    types.ShippingAddress        `json:"owner_address"`
	Session         types.CheckoutSession        `json:"session"`
	Preference      types.CoordinationPreference `json:"preference"`
	RecipientEmails []string                     `json:"recipient_emails,omitempty" validate:"omitempty,dive,email"`
}

type shippingGroupsResponse struct {
	Groups []types.ShippingGroup `json:"groups"`
}

// SplitShippingGroups partitions a registry cart by destination and quotes each group.
func SplitShippingGroups(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload splitRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var buyer types.ShippingAddress
		if payload.BuyerAddress != nil {
			buyer = *payload.BuyerAddress
		}

		registryID := middleware.RegistryIDFromContext(r.Context())
		groups, err := svc.SplitOrderByShippingAddress(r.Context(), registryID, payload.Items, payload.OwnerAddress, buyer)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessWithWarnings(w, http.StatusOK, shippingGroupsResponse{Groups: groups}, groupWarnings(groups))
	}
}

// CreateOrders commits one order per shipping group. The Idempotency-Key
// header is the checkout's idempotency key.
func CreateOrders(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload createOrdersRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := idempotencyKey(r, payload.Session.IdempotencyKey)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payload.Session.IdempotencyKey = key

		registryID := middleware.RegistryIDFromContext(r.Context())
		result, err := svc.CreateMultiAddressOrders(r.Context(), registryID, payload.Groups, payload.Session)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, createdStatus(result.Replayed), result)
	}
}

// CoordinateDeliveries recomputes and stores the delivery plan of a committed checkout.
func CoordinateDeliveries(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload coordinateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payload.Preference.SpecialInstructions = sanitizeInstructions(payload.Preference.SpecialInstructions)

		registryID := middleware.RegistryIDFromContext(r.Context())
		result, err := svc.CoordinateDeliveries(r.Context(), registryID, payload.CheckoutID, payload.Preference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// SendNotifications announces the committed orders of a checkout. Delivery
// failures are deferred and reported as warnings, never as errors.
func SendNotifications(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload notifyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		registryID := middleware.RegistryIDFromContext(r.Context())
		result, err := svc.NotifyCheckout(r.Context(), registryID, payload.CheckoutID, payload.RecipientEmails)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessWithWarnings(w, http.StatusAccepted, result, result.Warnings)
	}
}

// Checkout runs the whole multi-destination pipeline in one request.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := idempotencyKey(r, payload.Session.IdempotencyKey)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payload.Session.IdempotencyKey = key
		payload.Preference.SpecialInstructions = sanitizeInstructions(payload.Preference.SpecialInstructions)

		result, err := svc.Checkout(r.Context(), checkoutsvc.CheckoutRequest{
			RegistryID:      middleware.RegistryIDFromContext(r.Context()),
			Items:           payload.Items,
			OwnerAddress:    payload.OwnerAddress,
			Session:         payload.Session,
			Preference:      payload.Preference,
			ExtraRecipients: payload.RecipientEmails,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessWithWarnings(w, createdStatus(result.Replayed), result, result.Warnings)
	}
}

func idempotencyKey(r *http.Request, fromBody string) (string, error) {
	header := validators.SanitizeString(r.Header.Get(middleware.IdempotencyHeader), 255)
	body := strings.TrimSpace(fromBody)
	switch {
	case header == "" && body == "":
		return "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required")
	case header == "":
		return body, nil
	case body != "" && body != header:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "idempotency key in body does not match header")
	}
	return header, nil
}

func sanitizeInstructions(value *string) *string {
	if value == nil {
		return nil
	}
	clean := validators.SanitizeString(*value, maxInstructionsLength)
	return &clean
}

func groupWarnings(groups []types.ShippingGroup) []types.Warning {
	var warnings []types.Warning
	for _, group := range groups {
		warnings = append(warnings, group.Warnings...)
	}
	return warnings
}

func createdStatus(replayed bool) int {
	if replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

