package delivery

import (
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
	"github.com/angelmondragon/giftship-backend/pkg/types"
)

const day = 24 * time.Hour

// Coordinate selects one rate per group and attaches a delivery plan.
//
// Without synchronization every group keeps its natural delivery date, held to
// the preferred date when that is later. With synchronization every group
// targets the latest natural date (or the preferred date if later); faster
// groups are held back with a ship-no-earlier-than date and are never upgraded.
// The input groups are not modified.
func Coordinate(groups []types.ShippingGroup, pref types.CoordinationPreference, now time.Time) ([]types.ShippingGroup, error) {
	if len(groups) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one shipping group is required")
	}

	out := make([]types.ShippingGroup, len(groups))
	naturals := make([]time.Time, len(groups))
	for i, group := range groups {
		rate, err := SelectRate(group)
		if err != nil {
			return nil, err
		}
		group.SelectedRate = &rate
		out[i] = group
		naturals[i] = rate.NaturalDeliveryDate()
	}

	var preferred *time.Time
	if pref.PreferredDeliveryDate != nil && !pref.PreferredDeliveryDate.IsZero() {
		date := types.DateOf(*pref.PreferredDeliveryDate)
		preferred = &date
	}
	instructions := normalizeInstructions(pref.SpecialInstructions)
	today := types.DateOf(now)

	var shared time.Time
	if pref.SynchronizeDelivery {
		for _, natural := range naturals {
			if natural.After(shared) {
				shared = natural
			}
		}
		if preferred != nil && preferred.After(shared) {
			shared = *preferred
		}
	}

	for i := range out {
		natural := naturals[i]
		target := natural
		if pref.SynchronizeDelivery {
			target = shared
		} else if preferred != nil && preferred.After(natural) {
			target = *preferred
		}
		out[i].DeliveryPlan = &types.DeliveryPlan{
			TargetDeliveryDate:  target,
			ShipNoEarlierThan:   holdBack(today, natural, target),
			Synchronized:        pref.SynchronizeDelivery,
			SpecialInstructions: instructions,
		}
	}
	return out, nil
}

// SelectRate returns the explicitly requested option, or the cheapest one.
// Price ties go to the earliest natural delivery date, then the option ID.
func SelectRate(group types.ShippingGroup) (types.RateOption, error) {
	if len(group.RateOptions) == 0 {
		return types.RateOption{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("shipping group %s has no rate options", group.ID)).
			WithDetails(map[string]any{"group_id": group.ID})
	}

	if requested := strings.TrimSpace(group.RequestedRateID); requested != "" {
		for _, option := range group.RateOptions {
			if option.ID == requested {
				return option, nil
			}
		}
		return types.RateOption{}, pkgerrors.New(pkgerrors.CodeValidation, "requested rate is not offered for this group").
			WithDetails(map[string]any{"group_id": group.ID, "requested_rate_id": requested})
	}

	best := group.RateOptions[0]
	for _, option := range group.RateOptions[1:] {
		if cheaper(option, best) {
			best = option
		}
	}
	return best, nil
}

func cheaper(a, b types.RateOption) bool {
	if cmp := a.Price.Cmp(b.Price); cmp != 0 {
		return cmp < 0
	}
	an, bn := a.NaturalDeliveryDate(), b.NaturalDeliveryDate()
	if !an.Equal(bn) {
		return an.Before(bn)
	}
	return a.ID < b.ID
}

func holdBack(today, natural, target time.Time) *time.Time {
	if !target.After(natural) {
		return nil
	}
	days := int(target.Sub(natural) / day)
	date := today.AddDate(0, 0, days)
	return &date
}

func normalizeInstructions(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
