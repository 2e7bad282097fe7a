package helpers

import (
	"fmt"

	"github.com/angelmondragon/giftship-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
	"github.com/angelmondragon/giftship-backend/pkg/types"
)

// PartitionByDestination groups cart items by their resolved, normalized destination.
// Groups and the items inside them keep first-seen order; group IDs are group-1, group-2, ...
func PartitionByDestination(items []types.CartItem, ownerAddress, buyerAddress types.ShippingAddress) ([]types.ShippingGroup, error) {
	if err := ValidateCartItems(items); err != nil {
		return nil, err
	}

	groups := make([]types.ShippingGroup, 0, 1)
	indexByKey := make(map[string]int, len(items))
	for _, item := range items {
		addr, err := ResolveDestination(item, ownerAddress, buyerAddress)
		if err != nil {
			return nil, err
		}
		key := NormalizeAddress(addr)
		idx, ok := indexByKey[key]
		if !ok {
			idx = len(groups)
			indexByKey[key] = idx
			groups = append(groups, types.ShippingGroup{
				ID:      fmt.Sprintf("group-%d", idx+1),
				Key:     key,
				Address: addr,
			})
		}
		groups[idx].Items = append(groups[idx].Items, item)
	}

	if err := verifyPartition(items, groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// ResolveDestination returns the concrete address an item ships to.
func ResolveDestination(item types.CartItem, ownerAddress, buyerAddress types.ShippingAddress) (types.ShippingAddress, error) {
	if err := item.Destination.Validate(); err != nil {
		return types.ShippingAddress{}, invalidItemAddress(item, err.Error())
	}
	var addr types.ShippingAddress
	switch item.Destination.Preference() {
	case enums.ShippingPreferenceRecipient:
		addr = ownerAddress
	case enums.ShippingPreferenceGiver:
		addr = buyerAddress
	case enums.ShippingPreferenceCustom:
		addr, _ = item.Destination.CustomAddress()
	}
	if !addr.Complete() {
		return types.ShippingAddress{}, invalidItemAddress(item, fmt.Sprintf("%s address is incomplete", item.Destination.Preference()))
	}
	return addr, nil
}

func invalidItemAddress(item types.CartItem, reason string) error {
	return pkgerrors.New(pkgerrors.CodeInvalidItemAddress, "item has no usable shipping address").
		WithDetails(map[string]any{
			"item_id":    item.ID,
			"preference": item.Destination.Preference().String(),
			"reason":     reason,
		})
}

// verifyPartition checks every input item landed in exactly one group.
func verifyPartition(items []types.CartItem, groups []types.ShippingGroup) error {
	seen := make(map[string]int, len(items))
	total := 0
	for _, group := range groups {
		for _, item := range group.Items {
			seen[item.ID]++
			total++
		}
	}
	if total != len(items) {
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("partition lost items: %d of %d grouped", total, len(items)))
	}
	for _, item := range items {
		if seen[item.ID] != 1 {
			return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("item %s grouped %d times", item.ID, seen[item.ID]))
		}
	}
	return nil
}
