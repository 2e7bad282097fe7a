package helpers

import (
	"strings"

	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
	"github.com/angelmondragon/giftship-backend/pkg/types"
)

// ValidateCartItems rejects empty carts, blank or duplicate item IDs, and non-positive quantities.
func ValidateCartItems(items []types.CartItem) error {
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart has no items")
	}
	seen := make(map[string]struct{}, len(items))
	violations := map[string]string{}
	for _, item := range items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			violations["items.id"] = "is required"
			continue
		}
		if _, dup := seen[id]; dup {
			violations[id] = "appears more than once"
			continue
		}
		seen[id] = struct{}{}
		if item.Quantity <= 0 {
			violations[id] = "quantity must be at least 1"
		}
	}
	if len(violations) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid cart items").WithDetails(violations)
	}
	return nil
}

// ValidateCheckoutSession checks the buyer context consumed by order creation.
func ValidateCheckoutSession(session types.CheckoutSession) error {
	violations := map[string]string{}
	if strings.TrimSpace(session.IdempotencyKey) == "" {
		violations["idempotency_key"] = "is required"
	}
	if strings.TrimSpace(session.PaymentReference) == "" {
		violations["payment_reference"] = "is required"
	}
	if strings.TrimSpace(session.Buyer.Email) == "" {
		violations["buyer.email"] = "is required"
	}
	if len(violations) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid checkout session").WithDetails(violations)
	}
	return nil
}
