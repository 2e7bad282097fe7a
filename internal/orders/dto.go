package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftship-backend/pkg/db/models"
	"github.com/angelmondragon/giftship-backend/pkg/types"
)

// CreateOrdersInput is everything needed to commit one multi-destination checkout.
type CreateOrdersInput struct {
	RegistryID string
	Groups     []types.ShippingGroup
	Session    types.CheckoutSession
}

// CreateOrdersResult is the committed (or replayed) order set.
type CreateOrdersResult struct {
	CheckoutID uuid.UUID      `json:"checkout_id"`
	RegistryID string         `json:"registry_id"`
	Orders     []models.Order `json:"orders"`
	Tracking   []TrackingInfo `json:"tracking"`
	Replayed   bool           `json:"replayed"`
}

// TrackingInfo is the carrier booking of one order.
type TrackingInfo struct {
	OrderID            uuid.UUID  `json:"order_id"`
	GroupID            string     `json:"group_id"`
	TrackingNumber     string     `json:"tracking_number"`
	Carrier            string     `json:"carrier"`
	RateLabel          string     `json:"rate_label"`
	TargetDeliveryDate *time.Time `json:"target_delivery_date,omitempty"`
	ShipNoEarlierThan  *time.Time `json:"ship_no_earlier_than,omitempty"`
}

// RecordPlansInput carries recomputed delivery plans for a committed checkout.
type RecordPlansInput struct {
	CheckoutID uuid.UUID
	Groups     []types.ShippingGroup
}

// GroupsFromOrders rebuilds coordination input from persisted orders, pinning
// each group to the rate it was booked with.
func GroupsFromOrders(orders []models.Order) []types.ShippingGroup {
	groups := make([]types.ShippingGroup, 0, len(orders))
	for _, order := range orders {
		group := types.ShippingGroup{
			ID:             order.GroupID,
			Address:        order.ShippingAddress,
			Items:          order.Items,
			RatesEstimated: order.RatesEstimated,
		}
		if order.SelectedRate != nil {
			group.RateOptions = []types.RateOption{*order.SelectedRate}
			group.RequestedRateID = order.SelectedRate.ID
		}
		groups = append(groups, group)
	}
	return groups
}

func trackingFor(orders []models.Order) []TrackingInfo {
	tracking := make([]TrackingInfo, 0, len(orders))
	for _, order := range orders {
		info := TrackingInfo{
			OrderID:            order.ID,
			GroupID:            order.GroupID,
			TargetDeliveryDate: order.TargetDeliveryDate,
			ShipNoEarlierThan:  order.ShipNoEarlierThan,
		}
		if order.TrackingNumber != nil {
			info.TrackingNumber = *order.TrackingNumber
		}
		if order.SelectedRate != nil {
			info.Carrier = order.SelectedRate.Carrier
			info.RateLabel = order.SelectedRate.Label
		}
		tracking = append(tracking, info)
	}
	return tracking
}
