package delivery

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
	"github.com/angelmondragon/giftship-backend/pkg/types"
)

var now = time.Date(2026, 11, 1, 18, 30, 0, 0, time.UTC)

func date(month time.Month, d int) time.Time {
	return time.Date(2026, month, d, 0, 0, 0, 0, time.UTC)
}

func rate(id, price string, eta time.Time) types.RateOption {
	return types.RateOption{ID: id, Price: decimal.RequireFromString(price), Currency: "USD", EstimatedDelivery: eta}
}

func threeGroups() []types.ShippingGroup {
	return []types.ShippingGroup{
		{ID: "group-1", RateOptions: []types.RateOption{rate("g1-ground", "8.00", date(11, 4)), rate("g1-air", "20.00", date(11, 2))}},
		{ID: "group-2", RateOptions: []types.RateOption{rate("g2-ground", "9.00", date(11, 7))}},
		{ID: "group-3", RateOptions: []types.RateOption{rate("g3-ground", "6.00", date(11, 5))}},
	}
}

func TestCoordinateSynchronizedSharesLatestNaturalDate(t *testing.T) {
	instructions := "  leave with the concierge "
	groups, err := Coordinate(threeGroups(), types.CoordinationPreference{SynchronizeDelivery: true, SpecialInstructions: &instructions}, now)
	if err != nil {
		t.Fatalf("coordinate: %v", err)
	}

	want := date(11, 7)
	for _, g := range groups {
		if g.DeliveryPlan == nil || !g.DeliveryPlan.TargetDeliveryDate.Equal(want) {
			t.Fatalf("%s: expected target %s, got %+v", g.ID, want, g.DeliveryPlan)
		}
		if !g.DeliveryPlan.Synchronized {
			t.Fatalf("%s: expected synchronized plan", g.ID)
		}
		if g.DeliveryPlan.SpecialInstructions == nil || *g.DeliveryPlan.SpecialInstructions != "leave with the concierge" {
			t.Fatalf("%s: instructions not copied", g.ID)
		}
	}

	if groups[0].SelectedRate.ID != "g1-ground" {
		t.Fatalf("expected cheapest rate, got %s", groups[0].SelectedRate.ID)
	}
	if sne := groups[0].DeliveryPlan.ShipNoEarlierThan; sne == nil || !sne.Equal(date(11, 4)) {
		t.Fatalf("group-1 should be held back 3 days, got %v", sne)
	}
	if sne := groups[2].DeliveryPlan.ShipNoEarlierThan; sne == nil || !sne.Equal(date(11, 3)) {
		t.Fatalf("group-3 should be held back 2 days, got %v", sne)
	}
	if groups[1].DeliveryPlan.ShipNoEarlierThan != nil {
		t.Fatal("slowest group ships at natural speed")
	}
}

func TestCoordinateSynchronizedUsesLaterPreferredDate(t *testing.T) {
	preferred := time.Date(2026, 11, 10, 9, 0, 0, 0, time.UTC)
	groups, err := Coordinate(threeGroups(), types.CoordinationPreference{SynchronizeDelivery: true, PreferredDeliveryDate: &preferred}, now)
	if err != nil {
		t.Fatalf("coordinate: %v", err)
	}
	for _, g := range groups {
		if !g.DeliveryPlan.TargetDeliveryDate.Equal(date(11, 10)) {
			t.Fatalf("%s: expected preferred date target, got %s", g.ID, g.DeliveryPlan.TargetDeliveryDate)
		}
		if g.DeliveryPlan.ShipNoEarlierThan == nil {
			t.Fatalf("%s: expected hold-back", g.ID)
		}
	}
}

func TestCoordinateUnsynchronizedKeepsNaturalDates(t *testing.T) {
	groups, err := Coordinate(threeGroups(), types.CoordinationPreference{}, now)
	if err != nil {
		t.Fatalf("coordinate: %v", err)
	}
	wants := []time.Time{date(11, 4), date(11, 7), date(11, 5)}
	for i, g := range groups {
		if !g.DeliveryPlan.TargetDeliveryDate.Equal(wants[i]) {
			t.Fatalf("%s: expected %s got %s", g.ID, wants[i], g.DeliveryPlan.TargetDeliveryDate)
		}
		if g.DeliveryPlan.Synchronized || g.DeliveryPlan.ShipNoEarlierThan != nil {
			t.Fatalf("%s: unexpected synchronization %+v", g.ID, g.DeliveryPlan)
		}
	}
}

func TestCoordinateHonoursRequestedRate(t *testing.T) {
	groups := threeGroups()
	groups[0].RequestedRateID = "g1-air"
	out, err := Coordinate(groups, types.CoordinationPreference{}, now)
	if err != nil {
		t.Fatalf("coordinate: %v", err)
	}
	if out[0].SelectedRate.ID != "g1-air" {
		t.Fatalf("expected requested rate, got %s", out[0].SelectedRate.ID)
	}
	if groups[0].SelectedRate != nil {
		t.Fatal("input groups must not be mutated")
	}
}

func TestCoordinateRejectsUnknownRequestedRate(t *testing.T) {
	groups := threeGroups()
	groups[1].RequestedRateID = "overnight"
	if _, err := Coordinate(groups, types.CoordinationPreference{}, now); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCoordinateRejectsGroupWithoutRates(t *testing.T) {
	groups := []types.ShippingGroup{{ID: "group-1"}}
	if _, err := Coordinate(groups, types.CoordinationPreference{SynchronizeDelivery: true}, now); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSelectRateTieBreaks(t *testing.T) {
	group := types.ShippingGroup{ID: "group-1", RateOptions: []types.RateOption{
		rate("b", "5.00", date(11, 6)),
		rate("c", "5.00", date(11, 4)),
		rate("a", "5.00", date(11, 4)),
	}}
	selected, err := SelectRate(group)
	if err != nil {
		t.Fatalf("select rate: %v", err)
	}
	if selected.ID != "a" {
		t.Fatalf("expected earliest date then lowest id, got %s", selected.ID)
	}
}

func TestCoordinateUsesLatestEstimateOfRange(t *testing.T) {
	latest := date(11, 9)
	groups := []types.ShippingGroup{
		{ID: "group-1", RateOptions: []types.RateOption{{ID: "range", Price: decimal.NewFromInt(4), EstimatedDelivery: date(11, 5), EstimatedDeliveryLatest: &latest}}},
		{ID: "group-2", RateOptions: []types.RateOption{rate("fixed", "4.00", date(11, 6))}},
	}
	out, err := Coordinate(groups, types.CoordinationPreference{SynchronizeDelivery: true}, now)
	if err != nil {
		t.Fatalf("coordinate: %v", err)
	}
	if !out[1].DeliveryPlan.TargetDeliveryDate.Equal(latest) {
		t.Fatalf("expected range end to drive the shared date, got %s", out[1].DeliveryPlan.TargetDeliveryDate)
	}
}
