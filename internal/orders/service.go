package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftship-backend/internal/carrier"
	"github.com/angelmondragon/giftship-backend/pkg/db"
	"github.com/angelmondragon/giftship-backend/pkg/db/models"
	"github.com/angelmondragon/giftship-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
	"github.com/angelmondragon/giftship-backend/pkg/logger"
	"github.com/angelmondragon/giftship-backend/pkg/metrics"
	"github.com/angelmondragon/giftship-backend/pkg/outbox"
	"github.com/angelmondragon/giftship-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/giftship-backend/pkg/types"
)

const (
	idempotencyConstraint = "ux_checkouts_idempotency_key"
	bookAttempts          = 2
	defaultBookTimeout    = 10 * time.Second
	eventSourceService    = "giftship-api"
)

var errKeyClaimed = errors.New("idempotency key already claimed")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// FactoryParams wires the order factory.
type FactoryParams struct {
	Repo        Repository
	Tx          txRunner
	Outbox      outboxPublisher
	Booker      Booker
	Logger      *logger.Logger
	Metrics     *metrics.CheckoutMetrics
	BookTimeout time.Duration
}

// Factory commits one order per shipping group atomically and idempotently.
type Factory struct {
	repo        Repository
	tx          txRunner
	outbox      outboxPublisher
	booker      Booker
	logg        *logger.Logger
	metrics     *metrics.CheckoutMetrics
	bookTimeout time.Duration
}

// NewFactory builds an order factory with the required dependencies.
func NewFactory(params FactoryParams) (*Factory, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Booker == nil {
		return nil, fmt.Errorf("carrier booker required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	timeout := params.BookTimeout
	if timeout <= 0 {
		timeout = defaultBookTimeout
	}
	return &Factory{
		repo:        params.Repo,
		tx:          params.Tx,
		outbox:      params.Outbox,
		booker:      params.Booker,
		logg:        params.Logger,
		metrics:     params.Metrics,
		bookTimeout: timeout,
	}, nil
}

// CreateOrders returns the orders already committed under the session's
// idempotency key, or books and commits a new order per group. Either every
// order is confirmed and visible or none is.
func (f *Factory) CreateOrders(ctx context.Context, input CreateOrdersInput) (*CreateOrdersResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	key := strings.TrimSpace(input.Session.IdempotencyKey)
	ctx = f.logg.WithIdempotencyKey(f.logg.WithRegistryID(ctx, input.RegistryID), key)

	if existing, err := f.replay(ctx, key, input.RegistryID); err != nil || existing != nil {
		return existing, err
	}

	var (
		result *CreateOrdersResult
		booked []carrier.Booking
	)
	err := f.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := f.repo.WithTx(tx)

		checkout := &models.Checkout{
			IdempotencyKey:   key,
			RegistryID:       input.RegistryID,
			BuyerEmail:       strings.ToLower(strings.TrimSpace(input.Session.Buyer.Email)),
			PaymentReference: input.Session.PaymentReference,
		}
		if err := repo.CreateCheckout(ctx, checkout); err != nil {
			if db.IsUniqueViolation(err, idempotencyConstraint) {
				return errKeyClaimed
			}
			return fmt.Errorf("insert checkout: %w", err)
		}

		orders := buildOrders(checkout, input)
		if err := repo.CreateOrders(ctx, orders); err != nil {
			return fmt.Errorf("insert orders: %w", err)
		}

		for i := range orders {
			group := input.Groups[i]
			booking, err := f.book(ctx, key, group)
			if err != nil {
				return fmt.Errorf("book %s: %w", group.ID, err)
			}
			booked = append(booked, *booking)

			tracking := booking.TrackingNumber
			labelID := booking.LabelID
			updates := map[string]any{
				"tracking_number": tracking,
				"label_id":        labelID,
				"status":          enums.OrderStatusConfirmed,
			}
			if err := repo.UpdateOrder(ctx, orders[i].ID, updates); err != nil {
				return fmt.Errorf("confirm order %s: %w", orders[i].ID, err)
			}
			orders[i].TrackingNumber = &tracking
			orders[i].LabelID = &labelID
			orders[i].Status = enums.OrderStatusConfirmed
		}

		if err := f.outbox.Emit(ctx, tx, confirmedEvent(checkout, orders)); err != nil {
			return fmt.Errorf("emit confirmation event: %w", err)
		}

		result = &CreateOrdersResult{
			CheckoutID: checkout.ID,
			RegistryID: checkout.RegistryID,
			Orders:     orders,
			Tracking:   trackingFor(orders),
		}
		return ctx.Err()
	})

	if errors.Is(err, errKeyClaimed) {
		return f.resolveClaim(ctx, key, input.RegistryID)
	}
	if err != nil {
		f.voidLabels(ctx, booked)
		f.metrics.IncOrders("failed")
		f.logg.Error(ctx, "multi-destination order creation failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeOrderCreationFailed, err, "orders could not be created").
			WithDetails(map[string]any{"idempotency_key": key})
	}

	f.metrics.IncOrders("created")
	f.logg.Info(f.logg.WithFields(ctx, map[string]any{
		"checkout_id": result.CheckoutID.String(),
		"order_count": len(result.Orders),
	}), "multi-destination orders confirmed")
	return result, nil
}

// RecordDeliveryPlans stores coordinated delivery plans on a checkout's orders
// and announces them through the outbox.
func (f *Factory) RecordDeliveryPlans(ctx context.Context, input RecordPlansInput) (*CreateOrdersResult, error) {
	if input.CheckoutID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout id is required")
	}
	plans := make(map[string]*types.ShippingGroup, len(input.Groups))
	for i := range input.Groups {
		if input.Groups[i].DeliveryPlan == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("group %s has no delivery plan", input.Groups[i].ID))
		}
		plans[input.Groups[i].ID] = &input.Groups[i]
	}

	var result *CreateOrdersResult
	err := f.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := f.repo.WithTx(tx)
		checkout, err := repo.FindCheckout(ctx, input.CheckoutID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "checkout not found")
			}
			return err
		}

		synchronized := false
		coordinated := make([]payloads.CoordinatedOrder, 0, len(checkout.Orders))
		for i := range checkout.Orders {
			order := &checkout.Orders[i]
			group, ok := plans[order.GroupID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("no delivery plan for group %s", order.GroupID))
			}
			plan := group.DeliveryPlan
			target := plan.TargetDeliveryDate
			updates := map[string]any{
				"target_delivery_date": target,
				"ship_no_earlier_than": plan.ShipNoEarlierThan,
				"synchronized":         plan.Synchronized,
				"special_instructions": plan.SpecialInstructions,
			}
			if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
				return fmt.Errorf("store delivery plan for %s: %w", order.ID, err)
			}
			order.TargetDeliveryDate = &target
			order.ShipNoEarlierThan = plan.ShipNoEarlierThan
			order.Synchronized = plan.Synchronized
			order.SpecialInstructions = plan.SpecialInstructions
			synchronized = synchronized || plan.Synchronized
			coordinated = append(coordinated, payloads.CoordinatedOrder{
				OrderID:            order.ID,
				TargetDeliveryDate: target,
				ShipNoEarlierThan:  plan.ShipNoEarlierThan,
			})
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventDeliveriesCoordinated,
			AggregateType: enums.AggregateCheckout,
			AggregateID:   checkout.ID,
			Source:        &outbox.SourceRef{Service: eventSourceService, RegistryID: checkout.RegistryID},
			Data: payloads.DeliveriesCoordinatedEvent{
				CheckoutID:   checkout.ID,
				RegistryID:   checkout.RegistryID,
				Synchronized: synchronized,
				Orders:       coordinated,
			},
		}
		if err := f.outbox.Emit(ctx, tx, event); err != nil {
			return fmt.Errorf("emit coordination event: %w", err)
		}

		result = resultFromCheckout(checkout, false)
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delivery plans could not be stored")
	}
	return result, nil
}

// FindCheckout loads a committed checkout with its orders.
func (f *Factory) FindCheckout(ctx context.Context, checkoutID uuid.UUID) (*CreateOrdersResult, error) {
	checkout, err := f.repo.FindCheckout(ctx, checkoutID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout")
	}
	return resultFromCheckout(checkout, false), nil
}

// FindByIdempotencyKey returns the checkout already committed under key, or
// nil when the key is unused.
func (f *Factory) FindByIdempotencyKey(ctx context.Context, registryID, key string) (*CreateOrdersResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	ctx = f.logg.WithIdempotencyKey(f.logg.WithRegistryID(ctx, registryID), key)
	return f.replay(ctx, key, registryID)
}

func (f *Factory) replay(ctx context.Context, key, registryID string) (*CreateOrdersResult, error) {
	checkout, err := f.repo.FindCheckoutByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeOrderCreationFailed, err, "lookup idempotency key")
	}
	if checkout.RegistryID != registryID {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key was used for another registry").
			WithDetails(map[string]any{"idempotency_key": key})
	}
	f.metrics.IncOrders("replayed")
	f.logg.Info(ctx, "returning orders committed by earlier submission")
	return resultFromCheckout(checkout, true), nil
}

// resolveClaim handles a concurrent submission that won the idempotency key.
func (f *Factory) resolveClaim(ctx context.Context, key, registryID string) (*CreateOrdersResult, error) {
	existing, err := f.replay(ctx, key, registryID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "a checkout with this idempotency key is still in progress").
		WithDetails(map[string]any{"idempotency_key": key, "retryable": true})
}

func (f *Factory) book(ctx context.Context, key string, group types.ShippingGroup) (*carrier.Booking, error) {
	req := carrier.BookRequest{
		GroupID:        group.ID,
		IdempotencyKey: key + ":" + group.ID,
		Destination:    group.Address,
		RateID:         group.SelectedRate.ID,
		Estimated:      group.SelectedRate.Estimated,
	}
	var lastErr error
	for attempt := 1; attempt <= bookAttempts; attempt++ {
		bookCtx, cancel := context.WithTimeout(ctx, f.bookTimeout)
		booking, err := f.booker.Book(bookCtx, req)
		cancel()
		if err == nil && booking != nil {
			return booking, nil
		}
		if err == nil {
			err = errors.New("carrier returned no booking")
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		f.logg.Warn(f.logg.WithFields(ctx, map[string]any{
			"group_id": group.ID,
			"attempt":  attempt,
			"error":    err.Error(),
		}), "carrier booking failed")
	}
	return nil, lastErr
}

func (f *Factory) voidLabels(ctx context.Context, booked []carrier.Booking) {
	if len(booked) == 0 {
		return
	}
	voider, ok := f.booker.(Voider)
	if !ok {
		f.logg.Warn(f.logg.WithField(ctx, "labels", len(booked)), "booked labels left active after rollback")
		return
	}
	base := context.WithoutCancel(ctx)
	for _, booking := range booked {
		voidCtx, cancel := context.WithTimeout(base, f.bookTimeout)
		if err := voider.Void(voidCtx, booking.LabelID); err != nil {
			f.logg.Error(f.logg.WithField(base, "label_id", booking.LabelID), "failed to void label after rollback", err)
		}
		cancel()
	}
}

func validateInput(input CreateOrdersInput) error {
	violations := map[string]string{}
	if strings.TrimSpace(input.RegistryID) == "" {
		violations["registry_id"] = "is required"
	}
	if strings.TrimSpace(input.Session.IdempotencyKey) == "" {
		violations["idempotency_key"] = "is required"
	}
	if strings.TrimSpace(input.Session.Buyer.Email) == "" {
		violations["buyer.email"] = "is required"
	}
	if strings.TrimSpace(input.Session.PaymentReference) == "" {
		violations["payment_reference"] = "is required"
	}
	if len(input.Groups) == 0 {
		violations["groups"] = "at least one shipping group is required"
	}
	groupIDs := make(map[string]struct{}, len(input.Groups))
	itemGroup := map[string]string{}
	for i, group := range input.Groups {
		if strings.TrimSpace(group.ID) == "" {
			violations[fmt.Sprintf("groups[%d].id", i)] = "is required"
			continue
		}
		if _, dup := groupIDs[group.ID]; dup {
			violations[group.ID] = "duplicate group id"
			continue
		}
		groupIDs[group.ID] = struct{}{}

		switch {
		case len(group.Items) == 0:
			violations[group.ID] = "group has no items"
		case !group.Address.Complete():
			violations[group.ID] = "shipping address is incomplete"
		case group.SelectedRate == nil:
			violations[group.ID] = "no rate selected"
		case !offered(group.RateOptions, *group.SelectedRate):
			violations[group.ID] = "selected rate is not offered for this group"
		}
		for _, item := range group.Items {
			if owner, seen := itemGroup[item.ID]; seen {
				violations["items."+item.ID] = fmt.Sprintf("item appears in groups %s and %s", owner, group.ID)
				continue
			}
			itemGroup[item.ID] = group.ID
		}
	}
	if len(violations) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid order creation request").WithDetails(violations)
	}
	return nil
}

// offered reports whether the selected rate is one of the group's quoted
// options at the quoted price.
func offered(options []types.RateOption, selected types.RateOption) bool {
	for _, option := range options {
		if option.ID == selected.ID {
			return option.Price.Equal(selected.Price)
		}
	}
	return false
}

func buildOrders(checkout *models.Checkout, input CreateOrdersInput) []models.Order {
	orders := make([]models.Order, 0, len(input.Groups))
	for i, group := range input.Groups {
		rate := *group.SelectedRate
		order := models.Order{
			ID:               uuid.New(),
			CheckoutID:       checkout.ID,
			IdempotencyKey:   checkout.IdempotencyKey,
			RegistryID:       checkout.RegistryID,
			GroupID:          group.ID,
			Position:         i,
			Status:           enums.OrderStatusPending,
			ShippingAddress:  group.Address,
			Items:            group.Items,
			SelectedRate:     &rate,
			RatesEstimated:   group.RatesEstimated || rate.Estimated,
			BuyerEmail:       checkout.BuyerEmail,
			PaymentReference: checkout.PaymentReference,
		}
		if plan := group.DeliveryPlan; plan != nil {
			target := plan.TargetDeliveryDate
			order.TargetDeliveryDate = &target
			order.ShipNoEarlierThan = plan.ShipNoEarlierThan
			order.Synchronized = plan.Synchronized
			order.SpecialInstructions = plan.SpecialInstructions
		}
		orders = append(orders, order)
	}
	return orders
}

func confirmedEvent(checkout *models.Checkout, orders []models.Order) outbox.DomainEvent {
	confirmed := make([]payloads.ConfirmedOrder, 0, len(orders))
	for _, order := range orders {
		item := payloads.ConfirmedOrder{
			OrderID:            order.ID,
			GroupID:            order.GroupID,
			RatesEstimated:     order.RatesEstimated,
			TargetDeliveryDate: order.TargetDeliveryDate,
		}
		if order.TrackingNumber != nil {
			item.TrackingNumber = *order.TrackingNumber
		}
		if order.SelectedRate != nil {
			item.Carrier = order.SelectedRate.Carrier
			item.RateID = order.SelectedRate.ID
		}
		confirmed = append(confirmed, item)
	}
	return outbox.DomainEvent{
		EventType:     enums.EventOrdersConfirmed,
		AggregateType: enums.AggregateCheckout,
		AggregateID:   checkout.ID,
		Source:        &outbox.SourceRef{Service: eventSourceService, RegistryID: checkout.RegistryID},
		Data: payloads.OrdersConfirmedEvent{
			CheckoutID:     checkout.ID,
			RegistryID:     checkout.RegistryID,
			IdempotencyKey: checkout.IdempotencyKey,
			BuyerEmail:     checkout.BuyerEmail,
			Orders:         confirmed,
		},
	}
}

func resultFromCheckout(checkout *models.Checkout, replayed bool) *CreateOrdersResult {
	return &CreateOrdersResult{
		CheckoutID: checkout.ID,
		RegistryID: checkout.RegistryID,
		Orders:     checkout.Orders,
		Tracking:   trackingFor(checkout.Orders),
		Replayed:   replayed,
	}
}
