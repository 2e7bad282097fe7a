package types

import (
	"time"

	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
)

// ShippingGroup is the set of cart items bound for one normalized destination.
type ShippingGroup struct {
	ID              string          `json:"id"`
	Key             string          `json:"key"`
	Address         ShippingAddress `json:"address"`
	Items           []CartItem      `json:"items"`
	RateOptions     []RateOption    `json:"rate_options,omitempty"`
	RatesEstimated  bool            `json:"rates_estimated"`
	RequestedRateID string          `json:"requested_rate_id,omitempty"`
	SelectedRate    *RateOption     `json:"selected_rate,omitempty"`
	DeliveryPlan    *DeliveryPlan   `json:"delivery_plan,omitempty"`
	Warnings        []Warning       `json:"warnings,omitempty"`
}

// ItemCount sums item quantities.
func (g ShippingGroup) ItemCount() int {
	total := 0
	for _, item := range g.Items {
		total += item.Quantity
	}
	return total
}

// Warning is a non-fatal condition surfaced alongside a successful result.
type Warning struct {
	Code    pkgerrors.Code `json:"code"`
	Message string         `json:"message"`
}

// CoordinationPreference is the buyer's delivery timing request.
type CoordinationPreference struct {
	SynchronizeDelivery   bool       `json:"synchronize_delivery"`
	PreferredDeliveryDate *time.Time `json:"preferred_delivery_date,omitempty"`
	SpecialInstructions   *string    `json:"special_instructions,omitempty"`
}

// DeliveryPlan is the coordinated schedule for one group.
type DeliveryPlan struct {
	TargetDeliveryDate  time.Time  `json:"target_delivery_date"`
	ShipNoEarlierThan   *time.Time `json:"ship_no_earlier_than,omitempty"`
	Synchronized        bool       `json:"synchronized"`
	SpecialInstructions *string    `json:"special_instructions,omitempty"`
}

// BuyerContact identifies the gift giver.
type BuyerContact struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty"`
}

// CheckoutSession carries the buyer-level context consumed once by order creation.
type CheckoutSession struct {
	BuyerAddress     ShippingAddress `json:"buyer_address"`
	Buyer            BuyerContact    `json:"buyer"`
	PaymentReference string          `json:"payment_reference"`
	IdempotencyKey   string          `json:"idempotency_key"`
}
