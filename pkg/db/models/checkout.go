package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Checkout claims an idempotency key for one multi-destination submission.
type Checkout struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IdempotencyKey   string    `gorm:"column:idempotency_key;not null;uniqueIndex:ux_checkouts_idempotency_key"`
	RegistryID       string    `gorm:"column:registry_id;not null"`
	BuyerEmail       string    `gorm:"column:buyer_email;not null"`
	PaymentReference string    `gorm:"column:payment_reference;not null"`
	Orders           []Order   `gorm:"foreignKey:CheckoutID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (c *Checkout) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
