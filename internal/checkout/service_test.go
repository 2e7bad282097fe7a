package checkout

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/giftship-backend/internal/notifications"
	"github.com/angelmondragon/giftship-backend/internal/orders"
	"github.com/angelmondragon/giftship-backend/pkg/db/models"
	"github.com/angelmondragon/giftship-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
	"github.com/angelmondragon/giftship-backend/pkg/logger"
	"github.com/angelmondragon/giftship-backend/pkg/types"
)

var (
	testOwner = types.ShippingAddress{Name: "Jamie Rivera", Line1: "12 Elm St", City: "Springfield", Province: "IL", PostalCode: "62701", Country: "US", Email: "jamie@example.com"}
	testBuyer = types.ShippingAddress{Name: "Sam Ortiz", Line1: "400 Oak Ave", City: "Portland", Province: "OR", PostalCode: "97201", Country: "US", Email: "sam@example.com"}
	testNow   = time.Date(2026, 11, 1, 15, 0, 0, 0, time.UTC)
)

type stubResolver struct {
	calls int
	err   error
}

func (s *stubResolver) ResolveAll(ctx context.Context, groups []types.ShippingGroup) ([]types.ShippingGroup, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]types.ShippingGroup, len(groups))
	for i, group := range groups {
		days := 3 + 2*i
		group.RateOptions = []types.RateOption{
			{ID: "ground", Label: "Ground", Carrier: "acme", Price: decimal.RequireFromString("8.50"), EstimatedDelivery: testNow.AddDate(0, 0, days)},
			{ID: "express", Label: "Express", Carrier: "acme", Price: decimal.RequireFromString("21.00"), EstimatedDelivery: testNow.AddDate(0, 0, 1)},
		}
		out[i] = group
	}
	return out, nil
}

type stubFactory struct {
	createFn  func(input orders.CreateOrdersInput) (*orders.CreateOrdersResult, error)
	created   []orders.CreateOrdersInput
	committed map[string]*orders.CreateOrdersResult
	lookups   int
	found     *orders.CreateOrdersResult
	recorded  []orders.RecordPlansInput
	recordErr error
}

func (s *stubFactory) CreateOrders(ctx context.Context, input orders.CreateOrdersInput) (*orders.CreateOrdersResult, error) {
	s.created = append(s.created, input)
	if s.createFn != nil {
		return s.createFn(input)
	}
	result := &orders.CreateOrdersResult{CheckoutID: uuid.New(), RegistryID: input.RegistryID}
	defer func() {
		if s.committed == nil {
			s.committed = map[string]*orders.CreateOrdersResult{}
		}
		replayed := *result
		replayed.Replayed = true
		s.committed[input.Session.IdempotencyKey] = &replayed
	}()
	for i, group := range input.Groups {
		result.Orders = append(result.Orders, models.Order{
			ID:              uuid.New(),
			GroupID:         group.ID,
			Position:        i,
			Status:          enums.OrderStatusConfirmed,
			ShippingAddress: group.Address,
			Items:           group.Items,
			SelectedRate:    group.SelectedRate,
		})
	}
	return result, nil
}

func (s *stubFactory) RecordDeliveryPlans(ctx context.Context, input orders.RecordPlansInput) (*orders.CreateOrdersResult, error) {
	s.recorded = append(s.recorded, input)
	if s.recordErr != nil {
		return nil, s.recordErr
	}
	return &orders.CreateOrdersResult{CheckoutID: input.CheckoutID}, nil
}

func (s *stubFactory) FindCheckout(ctx context.Context, checkoutID uuid.UUID) (*orders.CreateOrdersResult, error) {
	if s.found == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout not found")
	}
	return s.found, nil
}

func (s *stubFactory) FindByIdempotencyKey(ctx context.Context, registryID, key string) (*orders.CreateOrdersResult, error) {
	s.lookups++
	return s.committed[key], nil
}

type stubNotifier struct {
	inputs []notifications.NotifyInput
}

func (s *stubNotifier) Notify(ctx context.Context, input notifications.NotifyInput) notifications.NotificationResult {
	s.inputs = append(s.inputs, input)
	return notifications.NotificationResult{Sent: len(input.Orders)}
}

func newTestService(t *testing.T, resolver *stubResolver, factory *stubFactory, notifier *stubNotifier) *service {
	t.Helper()
	svc, err := NewService(resolver, factory, notifier, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	impl := svc.(*service)
	impl.now = func() time.Time { return testNow }
	return impl
}

func threeItemCart() []types.CartItem {
	item := func(id string, dest types.Destination) types.CartItem {
		return types.CartItem{ID: id, ProductID: "prod-" + id, Quantity: 1, UnitPrice: decimal.RequireFromString("20.00"), WeightGrams: 400, Destination: dest}
	}
	return []types.CartItem{
		item("a", types.ShipToRecipient()),
		item("b", types.ShipToGiver()),
		item("c", types.ShipToRecipient()),
	}
}

func testSession(key string) types.CheckoutSession {
	return types.CheckoutSession{
		BuyerAddress:     testBuyer,
		Buyer:            types.BuyerContact{Name: "Sam Ortiz", Email: "sam@example.com"},
		PaymentReference: "pay_123",
		IdempotencyKey:   key,
	}
}

func TestSplitOrderByShippingAddressGroupsAndResolves(t *testing.T) {
	t.Parallel()
	resolver := &stubResolver{}
	svc := newTestService(t, resolver, &stubFactory{}, &stubNotifier{})

	groups, err := svc.SplitOrderByShippingAddress(context.Background(), "reg-1", threeItemCart(), testOwner, testBuyer)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups[0].Items) != 2 || len(groups[1].Items) != 1 {
		t.Fatalf("unexpected item split %d/%d", len(groups[0].Items), len(groups[1].Items))
	}
	if len(groups[0].RateOptions) == 0 || resolver.calls != 1 {
		t.Fatal("expected rates to be resolved once for all groups")
	}
}

func TestSplitOrderByShippingAddressRejectsBadItemsBeforeQuoting(t *testing.T) {
	t.Parallel()
	resolver := &stubResolver{}
	svc := newTestService(t, resolver, &stubFactory{}, &stubNotifier{})

	items := threeItemCart()
	items[1].Destination = types.Destination{}
	_, err := svc.SplitOrderByShippingAddress(context.Background(), "reg-1", items, testOwner, testBuyer)
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidItemAddress) {
		t.Fatalf("expected invalid item address, got %v", err)
	}
	if resolver.calls != 0 {
		t.Fatal("expected no rate lookups for an invalid cart")
	}
}

func TestSplitOrderByShippingAddressPropagatesUnshippable(t *testing.T) {
	t.Parallel()
	resolver := &stubResolver{err: pkgerrors.New(pkgerrors.CodeUnshippableAddress, "carrier rejected address")}
	svc := newTestService(t, resolver, &stubFactory{}, &stubNotifier{})

	_, err := svc.SplitOrderByShippingAddress(context.Background(), "reg-1", threeItemCart(), testOwner, testBuyer)
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnshippableAddress) {
		t.Fatalf("expected unshippable address, got %v", err)
	}
}

func TestCreateMultiAddressOrdersKeepsExplicitSelection(t *testing.T) {
	t.Parallel()
	factory := &stubFactory{}
	svc := newTestService(t, &stubResolver{}, factory, &stubNotifier{})

	groups, err := svc.SplitOrderByShippingAddress(context.Background(), "reg-1", threeItemCart(), testOwner, testBuyer)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	express := groups[1].RateOptions[1]
	groups[1].SelectedRate = &express

	if _, err := svc.CreateMultiAddressOrders(context.Background(), "reg-1", groups, testSession("key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(factory.created) != 1 {
		t.Fatalf("expected one factory call, got %d", len(factory.created))
	}
	sent := factory.created[0].Groups
	if sent[0].SelectedRate.ID != "ground" {
		t.Fatalf("expected cheapest rate for unselected group, got %s", sent[0].SelectedRate.ID)
	}
	if sent[1].SelectedRate.ID != "express" {
		t.Fatalf("expected explicit selection to be kept, got %s", sent[1].SelectedRate.ID)
	}
	if sent[0].DeliveryPlan == nil || sent[0].DeliveryPlan.Synchronized {
		t.Fatal("expected an unsynchronized plan")
	}
}

func TestCoordinateDeliveriesRecordsSharedDate(t *testing.T) {
	t.Parallel()
	checkoutID := uuid.New()
	fast := types.RateOption{ID: "ground", Price: decimal.RequireFromString("8.50"), EstimatedDelivery: testNow.AddDate(0, 0, 3)}
	slow := types.RateOption{ID: "ground", Price: decimal.RequireFromString("8.50"), EstimatedDelivery: testNow.AddDate(0, 0, 6)}
	factory := &stubFactory{found: &orders.CreateOrdersResult{
		CheckoutID: checkoutID,
		RegistryID: "reg-1",
		Orders: []models.Order{
			{ID: uuid.New(), GroupID: "group-1", SelectedRate: &fast, Status: enums.OrderStatusConfirmed},
			{ID: uuid.New(), GroupID: "group-2", SelectedRate: &slow, Status: enums.OrderStatusConfirmed},
		},
	}}
	svc := newTestService(t, &stubResolver{}, factory, &stubNotifier{})

	note := "leave at the side door"
	_, err := svc.CoordinateDeliveries(context.Background(), "reg-1", checkoutID, types.CoordinationPreference{SynchronizeDelivery: true, SpecialInstructions: &note})
	if err != nil {
		t.Fatalf("coordinate: %v", err)
	}
	if len(factory.recorded) != 1 {
		t.Fatalf("expected plans to be recorded once, got %d", len(factory.recorded))
	}
	groups := factory.recorded[0].Groups
	want := types.DateOf(testNow.AddDate(0, 0, 6))
	for _, group := range groups {
		if !group.DeliveryPlan.TargetDeliveryDate.Equal(want) {
			t.Fatalf("group %s target %s, want %s", group.ID, group.DeliveryPlan.TargetDeliveryDate, want)
		}
		if group.DeliveryPlan.SpecialInstructions == nil || *group.DeliveryPlan.SpecialInstructions != note {
			t.Fatalf("expected instructions on group %s", group.ID)
		}
	}
	holdUntil := groups[0].DeliveryPlan.ShipNoEarlierThan
	if holdUntil == nil || !holdUntil.Equal(types.DateOf(testNow.AddDate(0, 0, 3))) {
		t.Fatalf("expected faster group to be held back, got %v", holdUntil)
	}
	if groups[1].DeliveryPlan.ShipNoEarlierThan != nil {
		t.Fatal("slowest group should ship immediately")
	}
}

func TestCoordinateDeliveriesUnknownCheckout(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, &stubResolver{}, &stubFactory{}, &stubNotifier{})
	_, err := svc.CoordinateDeliveries(context.Background(), "reg-1", uuid.New(), types.CoordinationPreference{})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCoordinateDeliveriesHidesOtherRegistries(t *testing.T) {
	t.Parallel()
	factory := &stubFactory{found: &orders.CreateOrdersResult{CheckoutID: uuid.New(), RegistryID: "reg-2"}}
	svc := newTestService(t, &stubResolver{}, factory, &stubNotifier{})
	_, err := svc.CoordinateDeliveries(context.Background(), "reg-1", factory.found.CheckoutID, types.CoordinationPreference{})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(factory.recorded) != 0 {
		t.Fatal("no plans should be recorded")
	}
}

func TestNotifyCheckoutLoadsCommittedOrders(t *testing.T) {
	t.Parallel()
	checkoutID := uuid.New()
	factory := &stubFactory{found: &orders.CreateOrdersResult{
		CheckoutID: checkoutID,
		RegistryID: "reg-1",
		Orders:     []models.Order{{ID: uuid.New(), GroupID: "group-1", Status: enums.OrderStatusConfirmed}},
		Tracking:   []orders.TrackingInfo{{GroupID: "group-1", TrackingNumber: "TRK1"}},
	}}
	notifier := &stubNotifier{}
	svc := newTestService(t, &stubResolver{}, factory, notifier)

	result, err := svc.NotifyCheckout(context.Background(), "reg-1", checkoutID, []string{"aunt@example.com"})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if result.Sent != 1 || len(notifier.inputs) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if notifier.inputs[0].Tracking[0].TrackingNumber != "TRK1" {
		t.Fatal("expected tracking to be forwarded")
	}
}

func TestCheckoutRunsPipelineAndNotifies(t *testing.T) {
	t.Parallel()
	factory := &stubFactory{}
	notifier := &stubNotifier{}
	svc := newTestService(t, &stubResolver{}, factory, notifier)

	result, err := svc.Checkout(context.Background(), CheckoutRequest{
		RegistryID:      "reg-1",
		Items:           threeItemCart(),
		OwnerAddress:    testOwner,
		Session:         testSession("key-1"),
		Preference:      types.CoordinationPreference{SynchronizeDelivery: true},
		ExtraRecipients: []string{"aunt@example.com"},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(result.Orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(result.Orders))
	}
	if result.Notifications == nil || result.Notifications.Sent != 2 {
		t.Fatalf("expected notifications for both orders, got %+v", result.Notifications)
	}
	if len(notifier.inputs) != 1 || notifier.inputs[0].ExtraRecipients[0] != "aunt@example.com" {
		t.Fatalf("unexpected notify input %+v", notifier.inputs)
	}
	plans := factory.created[0].Groups
	if !plans[0].DeliveryPlan.TargetDeliveryDate.Equal(plans[1].DeliveryPlan.TargetDeliveryDate) {
		t.Fatal("expected synchronized target dates")
	}
}

func TestCheckoutReplayDoesNotNotify(t *testing.T) {
	t.Parallel()
	factory := &stubFactory{createFn: func(input orders.CreateOrdersInput) (*orders.CreateOrdersResult, error) {
		return &orders.CreateOrdersResult{CheckoutID: uuid.New(), RegistryID: input.RegistryID, Replayed: true}, nil
	}}
	notifier := &stubNotifier{}
	svc := newTestService(t, &stubResolver{}, factory, notifier)

	result, err := svc.Checkout(context.Background(), CheckoutRequest{
		RegistryID:   "reg-1",
		Items:        threeItemCart(),
		OwnerAddress: testOwner,
		Session:      testSession("key-1"),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !result.Replayed || result.Notifications != nil || len(notifier.inputs) != 0 {
		t.Fatal("expected replay to skip notifications")
	}
}

func TestCheckoutRetryReturnsCommittedOrdersWithoutRequoting(t *testing.T) {
	t.Parallel()
	resolver := &stubResolver{}
	factory := &stubFactory{}
	notifier := &stubNotifier{}
	svc := newTestService(t, resolver, factory, notifier)

	req := CheckoutRequest{
		RegistryID:   "reg-1",
		Items:        threeItemCart(),
		OwnerAddress: testOwner,
		Session:      testSession("key-1"),
	}
	first, err := svc.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	resolver.err = pkgerrors.New(pkgerrors.CodeUnshippableAddress, "carrier now rejects")
	second, err := svc.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !second.Replayed || second.CheckoutID != first.CheckoutID {
		t.Fatalf("expected replay of %s, got %+v", first.CheckoutID, second.CreateOrdersResult)
	}
	if len(second.Groups) != len(first.Orders) {
		t.Fatalf("expected %d groups, got %d", len(first.Orders), len(second.Groups))
	}
	if resolver.calls != 1 || len(factory.created) != 1 {
		t.Fatalf("expected no further quotes or writes, resolver=%d factory=%d", resolver.calls, len(factory.created))
	}
	if len(notifier.inputs) != 1 || second.Notifications != nil {
		t.Fatal("expected the retry to skip notifications")
	}
}

func TestCreateMultiAddressOrdersRejectsUnquotedRate(t *testing.T) {
	t.Parallel()
	factory := &stubFactory{}
	svc := newTestService(t, &stubResolver{}, factory, &stubNotifier{})

	groups, err := svc.SplitOrderByShippingAddress(context.Background(), "reg-1", threeItemCart(), testOwner, testBuyer)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	groups[0].SelectedRate = &types.RateOption{ID: "free-overnight", Label: "Overnight", Carrier: "acme", Price: decimal.Zero}

	_, err = svc.CreateMultiAddressOrders(context.Background(), "reg-1", groups, testSession("key-1"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(factory.created) != 0 {
		t.Fatal("expected no orders for an unquoted rate")
	}
}

func TestCheckoutSurfacesOrderCreationFailure(t *testing.T) {
	t.Parallel()
	factory := &stubFactory{createFn: func(orders.CreateOrdersInput) (*orders.CreateOrdersResult, error) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeOrderCreationFailed, errors.New("label service down"), "order creation failed")
	}}
	notifier := &stubNotifier{}
	svc := newTestService(t, &stubResolver{}, factory, notifier)

	_, err := svc.Checkout(context.Background(), CheckoutRequest{
		RegistryID:   "reg-1",
		Items:        threeItemCart(),
		OwnerAddress: testOwner,
		Session:      testSession("key-1"),
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeOrderCreationFailed) {
		t.Fatalf("expected order creation failure, got %v", err)
	}
	if len(notifier.inputs) != 0 {
		t.Fatal("no notifications expected on failure")
	}
}

func TestCheckoutRejectsIncompleteSession(t *testing.T) {
	t.Parallel()
	resolver := &stubResolver{}
	svc := newTestService(t, resolver, &stubFactory{}, &stubNotifier{})

	session := testSession("")
	_, err := svc.Checkout(context.Background(), CheckoutRequest{RegistryID: "reg-1", Items: threeItemCart(), OwnerAddress: testOwner, Session: session})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if resolver.calls != 0 {
		t.Fatal("expected no rate lookups")
	}
}
