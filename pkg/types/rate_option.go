package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateOption is a single carrier quote for a destination.
type RateOption struct {
	ID                      string          `json:"id"`
	Label                   string          `json:"label"`
	Carrier                 string          `json:"carrier"`
	Price                   decimal.Decimal `json:"price"`
	Currency                string          `json:"currency"`
	EstimatedDelivery       time.Time       `json:"estimated_delivery"`
	EstimatedDeliveryLatest *time.Time      `json:"estimated_delivery_latest,omitempty"`
	Estimated               bool            `json:"estimated"`
}

// NaturalDeliveryDate is the latest date the option promises, as a UTC calendar day.
func (r RateOption) NaturalDeliveryDate() time.Time {
	if r.EstimatedDeliveryLatest != nil && !r.EstimatedDeliveryLatest.IsZero() {
		return DateOf(*r.EstimatedDeliveryLatest)
	}
	return DateOf(r.EstimatedDelivery)
}

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
