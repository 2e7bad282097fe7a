package payloads

import (
	"time"

	"github.com/google/uuid"
)

// ConfirmedOrder summarizes one booked destination order.
type ConfirmedOrder struct {
	OrderID            uuid.UUID  `json:"order_id"`
	GroupID            string     `json:"group_id"`
	TrackingNumber     string     `json:"tracking_number"`
	Carrier            string     `json:"carrier"`
	RateID             string     `json:"rate_id"`
	RatesEstimated     bool       `json:"rates_estimated"`
	TargetDeliveryDate *time.Time `json:"target_delivery_date,omitempty"`
}

// OrdersConfirmedEvent is emitted once per checkout after every destination order is booked.
type OrdersConfirmedEvent struct {
	CheckoutID     uuid.UUID        `json:"checkout_id"`
	RegistryID     string           `json:"registry_id"`
	IdempotencyKey string           `json:"idempotency_key"`
	BuyerEmail     string           `json:"buyer_email"`
	Orders         []ConfirmedOrder `json:"orders"`
}

// CoordinatedOrder carries the persisted delivery plan of one order.
type CoordinatedOrder struct {
	OrderID            uuid.UUID  `json:"order_id"`
	TargetDeliveryDate time.Time  `json:"target_delivery_date"`
	ShipNoEarlierThan  *time.Time `json:"ship_no_earlier_than,omitempty"`
}

// DeliveriesCoordinatedEvent is emitted when delivery plans are stored for a checkout.
type DeliveriesCoordinatedEvent struct {
	CheckoutID   uuid.UUID          `json:"checkout_id"`
	RegistryID   string             `json:"registry_id"`
	Synchronized bool               `json:"synchronized"`
	Orders       []CoordinatedOrder `json:"orders"`
}

// NotificationDeferredEvent records a shipping notification the worker stopped retrying.
type NotificationDeferredEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	RegistryID string    `json:"registry_id"`
	Recipients []string  `json:"recipients"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
}
