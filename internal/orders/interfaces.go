package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftship-backend/internal/carrier"
	"github.com/angelmondragon/giftship-backend/pkg/db/models"
)

// Repository defines persistence operations for the checkouts and orders tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateCheckout(ctx context.Context, checkout *models.Checkout) error
	CreateOrders(ctx context.Context, orders []models.Order) error
	FindCheckoutByIdempotencyKey(ctx context.Context, key string) (*models.Checkout, error)
	FindCheckout(ctx context.Context, checkoutID uuid.UUID) (*models.Checkout, error)
	UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
}

// Booker purchases a carrier label for a group's selected rate.
type Booker interface {
	Book(ctx context.Context, req carrier.BookRequest) (*carrier.Booking, error)
}

// Voider cancels labels booked by a transaction that later rolled back.
type Voider interface {
	Void(ctx context.Context, labelID string) error
}
