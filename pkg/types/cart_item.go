package types

import "github.com/shopspring/decimal"

// CartItem is one registry line as submitted at checkout.
type CartItem struct {
	ID          string          `json:"id" validate:"required"`
	ProductID   string          `json:"product_id" validate:"required"`
	VariantID   string          `json:"variant_id,omitempty"`
	Quantity    int             `json:"quantity" validate:"min=1"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	WeightGrams int             `json:"weight_grams" validate:"min=0"`
	Destination Destination     `json:"destination"`
	GiftMessage *string         `json:"gift_message,omitempty"`
	GiftWrap    bool            `json:"gift_wrap"`
}

// LineTotal returns unit price times quantity.
func (c CartItem) LineTotal() decimal.Decimal {
	return c.UnitPrice.Mul(decimal.NewFromInt(int64(c.Quantity)))
}
