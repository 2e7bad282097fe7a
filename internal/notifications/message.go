package notifications

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftship-backend/internal/orders"
	"github.com/angelmondragon/giftship-backend/pkg/db/models"
)

const templateShippingConfirmation = "shipping_confirmation"

// Message is the tracking/delivery payload sent for one destination order.
type Message struct {
	Template            string     `json:"template"`
	RegistryID          string     `json:"registry_id"`
	OrderID             uuid.UUID  `json:"order_id"`
	GroupID             string     `json:"group_id"`
	TrackingNumber      string     `json:"tracking_number,omitempty"`
	Carrier             string     `json:"carrier,omitempty"`
	RateLabel           string     `json:"rate_label,omitempty"`
	RatesEstimated      bool       `json:"rates_estimated"`
	TargetDeliveryDate  *time.Time `json:"target_delivery_date,omitempty"`
	ShipNoEarlierThan   *time.Time `json:"ship_no_earlier_than,omitempty"`
	Synchronized        bool       `json:"synchronized"`
	SpecialInstructions *string    `json:"special_instructions,omitempty"`
	ItemCount           int        `json:"item_count"`
}

func buildMessage(registryID string, order models.Order, tracking *orders.TrackingInfo) Message {
	msg := Message{
		Template:            templateShippingConfirmation,
		RegistryID:          registryID,
		OrderID:             order.ID,
		GroupID:             order.GroupID,
		RatesEstimated:      order.RatesEstimated,
		TargetDeliveryDate:  order.TargetDeliveryDate,
		ShipNoEarlierThan:   order.ShipNoEarlierThan,
		Synchronized:        order.Synchronized,
		SpecialInstructions: order.SpecialInstructions,
	}
	if order.TrackingNumber != nil {
		msg.TrackingNumber = *order.TrackingNumber
	}
	if order.SelectedRate != nil {
		msg.Carrier = order.SelectedRate.Carrier
		msg.RateLabel = order.SelectedRate.Label
	}
	for _, item := range order.Items {
		msg.ItemCount += item.Quantity
	}
	if tracking != nil {
		if tracking.TrackingNumber != "" {
			msg.TrackingNumber = tracking.TrackingNumber
		}
		if tracking.Carrier != "" {
			msg.Carrier = tracking.Carrier
		}
		if tracking.TargetDeliveryDate != nil {
			msg.TargetDeliveryDate = tracking.TargetDeliveryDate
		}
		if tracking.ShipNoEarlierThan != nil {
			msg.ShipNoEarlierThan = tracking.ShipNoEarlierThan
		}
	}
	return msg
}

// Recipients lowercases, trims and de-duplicates addresses, keeping first-seen order.
func Recipients(lists ...[]string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, list := range lists {
		for _, raw := range list {
			email := strings.ToLower(strings.TrimSpace(raw))
			if email == "" {
				continue
			}
			if _, ok := seen[email]; ok {
				continue
			}
			seen[email] = struct{}{}
			out = append(out, email)
		}
	}
	return out
}
