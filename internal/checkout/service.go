package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftship-backend/internal/checkout/helpers"
	"github.com/angelmondragon/giftship-backend/internal/delivery"
	"github.com/angelmondragon/giftship-backend/internal/notifications"
	"github.com/angelmondragon/giftship-backend/internal/orders"
	"github.com/angelmondragon/giftship-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
	"github.com/angelmondragon/giftship-backend/pkg/logger"
	"github.com/angelmondragon/giftship-backend/pkg/types"
)

type rateResolver interface {
	ResolveAll(ctx context.Context, groups []types.ShippingGroup) ([]types.ShippingGroup, error)
}

type orderFactory interface {
	CreateOrders(ctx context.Context, input orders.CreateOrdersInput) (*orders.CreateOrdersResult, error)
	RecordDeliveryPlans(ctx context.Context, input orders.RecordPlansInput) (*orders.CreateOrdersResult, error)
	FindCheckout(ctx context.Context, checkoutID uuid.UUID) (*orders.CreateOrdersResult, error)
	FindByIdempotencyKey(ctx context.Context, registryID, key string) (*orders.CreateOrdersResult, error)
}

type notifier interface {
	Notify(ctx context.Context, input notifications.NotifyInput) notifications.NotificationResult
}

// Service exposes the multi-destination checkout operations.
type Service interface {
	SplitOrderByShippingAddress(ctx context.Context, registryID string, items []types.CartItem, owner, buyer types.ShippingAddress) ([]types.ShippingGroup, error)
	CreateMultiAddressOrders(ctx context.Context, registryID string, groups []types.ShippingGroup, session types.CheckoutSession) (*orders.CreateOrdersResult, error)
	CoordinateDeliveries(ctx context.Context, registryID string, checkoutID uuid.UUID, pref types.CoordinationPreference) (*orders.CreateOrdersResult, error)
	SendShippingNotifications(ctx context.Context, registryID string, placed []models.Order, tracking []orders.TrackingInfo, recipientEmails []string) notifications.NotificationResult
	NotifyCheckout(ctx context.Context, registryID string, checkoutID uuid.UUID, recipientEmails []string) (notifications.NotificationResult, error)
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
}

// CheckoutRequest is the input of the single-call pipeline.
type CheckoutRequest struct {
	RegistryID      string
	Items           []types.CartItem
	OwnerAddress    types.ShippingAddress
	Session         types.CheckoutSession
	Preference      types.CoordinationPreference
	ExtraRecipients []string
}

// CheckoutResult is the outcome of the pipeline. Notifications is nil when the
// request replayed an earlier checkout.
type CheckoutResult struct {
	*orders.CreateOrdersResult
	Groups        []types.ShippingGroup             `json:"groups"`
	Notifications *notifications.NotificationResult `json:"notifications,omitempty"`
	Warnings      []types.Warning                   `json:"warnings,omitempty"`
}

type service struct {
	resolver rateResolver
	factory  orderFactory
	notifier notifier
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the checkout facade.
func NewService(resolver rateResolver, factory orderFactory, notifier notifier, logg *logger.Logger) (Service, error) {
	if resolver == nil {
		return nil, fmt.Errorf("rate resolver required")
	}
	if factory == nil {
		return nil, fmt.Errorf("order factory required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		resolver: resolver,
		factory:  factory,
		notifier: notifier,
		logg:     logg,
		now:      time.Now,
	}, nil
}

func (s *service) SplitOrderByShippingAddress(ctx context.Context, registryID string, items []types.CartItem, owner, buyer types.ShippingAddress) ([]types.ShippingGroup, error) {
	if err := requireRegistry(registryID); err != nil {
		return nil, err
	}
	if err := helpers.ValidateCartItems(items); err != nil {
		return nil, err
	}
	ctx = s.logg.WithRegistryID(ctx, registryID)

	groups, err := helpers.PartitionByDestination(items, owner, buyer)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolver.ResolveAll(ctx, groups)
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "group_count", len(resolved)), "cart split by destination")
	return resolved, nil
}

func (s *service) CreateMultiAddressOrders(ctx context.Context, registryID string, groups []types.ShippingGroup, session types.CheckoutSession) (*orders.CreateOrdersResult, error) {
	if err := requireRegistry(registryID); err != nil {
		return nil, err
	}
	selected, err := delivery.Coordinate(pinSelections(groups), types.CoordinationPreference{}, s.now())
	if err != nil {
		return nil, err
	}
	return s.factory.CreateOrders(ctx, orders.CreateOrdersInput{
		RegistryID: registryID,
		Groups:     selected,
		Session:    session,
	})
}

func (s *service) CoordinateDeliveries(ctx context.Context, registryID string, checkoutID uuid.UUID, pref types.CoordinationPreference) (*orders.CreateOrdersResult, error) {
	current, err := s.loadCheckout(ctx, registryID, checkoutID)
	if err != nil {
		return nil, err
	}
	planned, err := delivery.Coordinate(orders.GroupsFromOrders(current.Orders), pref, s.now())
	if err != nil {
		return nil, err
	}
	return s.factory.RecordDeliveryPlans(ctx, orders.RecordPlansInput{
		CheckoutID: checkoutID,
		Groups:     planned,
	})
}

func (s *service) SendShippingNotifications(ctx context.Context, registryID string, placed []models.Order, tracking []orders.TrackingInfo, recipientEmails []string) notifications.NotificationResult {
	return s.notifier.Notify(ctx, notifications.NotifyInput{
		RegistryID:      registryID,
		Orders:          placed,
		Tracking:        tracking,
		ExtraRecipients: recipientEmails,
	})
}

// NotifyCheckout announces every confirmed order of a committed checkout.
func (s *service) NotifyCheckout(ctx context.Context, registryID string, checkoutID uuid.UUID, recipientEmails []string) (notifications.NotificationResult, error) {
	current, err := s.loadCheckout(ctx, registryID, checkoutID)
	if err != nil {
		return notifications.NotificationResult{}, err
	}
	return s.SendShippingNotifications(ctx, registryID, current.Orders, current.Tracking, recipientEmails), nil
}

// Checkout runs partition, rate resolution, coordination, order creation and
// notification in one call. Replayed checkouts are not announced again.
func (s *service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := requireRegistry(req.RegistryID); err != nil {
		return nil, err
	}
	if err := helpers.ValidateCheckoutSession(req.Session); err != nil {
		return nil, err
	}
	ctx = s.logg.WithIdempotencyKey(ctx, req.Session.IdempotencyKey)

	existing, err := s.factory.FindByIdempotencyKey(ctx, req.RegistryID, req.Session.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logg.Info(ctx, "checkout replayed, notifications skipped")
		return &CheckoutResult{CreateOrdersResult: existing, Groups: orders.GroupsFromOrders(existing.Orders)}, nil
	}

	groups, err := s.SplitOrderByShippingAddress(ctx, req.RegistryID, req.Items, req.OwnerAddress, req.Session.BuyerAddress)
	if err != nil {
		return nil, err
	}
	planned, err := delivery.Coordinate(groups, req.Preference, s.now())
	if err != nil {
		return nil, err
	}
	created, err := s.factory.CreateOrders(ctx, orders.CreateOrdersInput{
		RegistryID: req.RegistryID,
		Groups:     planned,
		Session:    req.Session,
	})
	if err != nil {
		return nil, err
	}

	result := &CheckoutResult{CreateOrdersResult: created, Groups: planned}
	for _, group := range planned {
		result.Warnings = append(result.Warnings, group.Warnings...)
	}
	if created.Replayed {
		s.logg.Info(ctx, "checkout replayed, notifications skipped")
		return result, nil
	}

	notified := s.SendShippingNotifications(ctx, req.RegistryID, created.Orders, created.Tracking, req.ExtraRecipients)
	result.Notifications = &notified
	result.Warnings = append(result.Warnings, notified.Warnings...)
	return result, nil
}

func (s *service) loadCheckout(ctx context.Context, registryID string, checkoutID uuid.UUID) (*orders.CreateOrdersResult, error) {
	if err := requireRegistry(registryID); err != nil {
		return nil, err
	}
	if checkoutID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout id required")
	}
	current, err := s.factory.FindCheckout(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if current.RegistryID != registryID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout not found")
	}
	return current, nil
}

// pinSelections turns an existing SelectedRate into an explicit request so
// coordination keeps it. A rate the group was never quoted fails coordination.
func pinSelections(groups []types.ShippingGroup) []types.ShippingGroup {
	out := make([]types.ShippingGroup, len(groups))
	for i, group := range groups {
		if group.SelectedRate != nil {
			group.RequestedRateID = group.SelectedRate.ID
		}
		out[i] = group
	}
	return out
}

func requireRegistry(registryID string) error {
	if strings.TrimSpace(registryID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "registry id required")
	}
	return nil
}
