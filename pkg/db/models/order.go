package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftship-backend/pkg/enums"
	"github.com/angelmondragon/giftship-backend/pkg/types"
)

// Order is the persisted shipment for one destination group of a checkout.
type Order struct {
	ID                  uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CheckoutID          uuid.UUID             `gorm:"column:checkout_id;type:uuid;not null"`
	IdempotencyKey      string                `gorm:"column:idempotency_key;not null"`
	RegistryID          string                `gorm:"column:registry_id;not null"`
	GroupID             string                `gorm:"column:group_id;not null"`
	Position            int                   `gorm:"column:position;not null"`
	Status              enums.OrderStatus     `gorm:"column:status;type:text;not null;default:'pending'"`
	ShippingAddress     types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`
	Items               []types.CartItem      `gorm:"column:items;type:jsonb;serializer:json;not null"`
	SelectedRate        *types.RateOption     `gorm:"column:selected_rate;type:jsonb;serializer:json"`
	RatesEstimated      bool                  `gorm:"column:rates_estimated;not null;default:false"`
	TrackingNumber      *string               `gorm:"column:tracking_number"`
	LabelID             *string               `gorm:"column:label_id"`
	TargetDeliveryDate  *time.Time            `gorm:"column:target_delivery_date"`
	ShipNoEarlierThan   *time.Time            `gorm:"column:ship_no_earlier_than"`
	Synchronized        bool                  `gorm:"column:synchronized;not null;default:false"`
	SpecialInstructions *string               `gorm:"column:special_instructions"`
	BuyerEmail          string                `gorm:"column:buyer_email;not null"`
	PaymentReference    string                `gorm:"column:payment_reference;not null"`
	CreatedAt           time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
