package types

import (
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/giftship-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftship-backend/pkg/errors"
)

// Destination says where a cart item ships. Only the custom variant carries an address;
// construct values with ShipToRecipient, ShipToGiver, or ShipToCustom. The zero value is invalid.
type Destination struct {
	preference enums.ShippingPreference
	address    *ShippingAddress
}

func ShipToRecipient() Destination {
	return Destination{preference: enums.ShippingPreferenceRecipient}
}

func ShipToGiver() Destination {
	return Destination{preference: enums.ShippingPreferenceGiver}
}

func ShipToCustom(addr ShippingAddress) Destination {
	return Destination{preference: enums.ShippingPreferenceCustom, address: &addr}
}

func (d Destination) Preference() enums.ShippingPreference {
	return d.preference
}

// CustomAddress returns the address of a custom destination.
func (d Destination) CustomAddress() (ShippingAddress, bool) {
	if d.preference != enums.ShippingPreferenceCustom || d.address == nil {
		return ShippingAddress{}, false
	}
	return *d.address, true
}

// Validate reports whether the destination is one of the three well-formed variants.
func (d Destination) Validate() error {
	switch d.preference {
	case enums.ShippingPreferenceRecipient, enums.ShippingPreferenceGiver:
		return nil
	case enums.ShippingPreferenceCustom:
		if d.address == nil || !d.address.Complete() {
			return pkgerrors.New(pkgerrors.CodeInvalidItemAddress, "custom destination requires a complete address")
		}
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeInvalidItemAddress, fmt.Sprintf("unknown shipping preference %q", d.preference))
	}
}

type destinationJSON struct {
	Preference enums.ShippingPreference `json:"preference"`
	Address    *ShippingAddress         `json:"address,omitempty"`
}

func (d Destination) MarshalJSON() ([]byte, error) {
	payload := destinationJSON{Preference: d.preference}
	if d.preference == enums.ShippingPreferenceCustom {
		payload.Address = d.address
	}
	return json.Marshal(payload)
}

func (d *Destination) UnmarshalJSON(data []byte) error {
	var payload destinationJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	pref, err := enums.ParseShippingPreference(payload.Preference.String())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInvalidItemAddress, err, "invalid shipping preference")
	}
	decoded := Destination{preference: pref}
	if pref == enums.ShippingPreferenceCustom {
		if payload.Address == nil {
			return pkgerrors.New(pkgerrors.CodeInvalidItemAddress, "custom destination requires an address")
		}
		addr := *payload.Address
		decoded.address = &addr
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*d = decoded
	return nil
}
