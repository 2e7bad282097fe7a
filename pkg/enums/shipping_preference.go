package enums

import "fmt"

// ShippingPreference names where a registry item should be delivered.
type ShippingPreference string

const (
	ShippingPreferenceRecipient ShippingPreference = "recipient"
	ShippingPreferenceGiver     ShippingPreference = "giver"
	ShippingPreferenceCustom    ShippingPreference = "custom"
)

var validShippingPreferences = []ShippingPreference{
	ShippingPreferenceRecipient,
	ShippingPreferenceGiver,
	ShippingPreferenceCustom,
}

// String implements fmt.Stringer.
func (p ShippingPreference) String() string {
	return string(p)
}

// IsValid reports whether the value is a known ShippingPreference.
func (p ShippingPreference) IsValid() bool {
	for _, candidate := range validShippingPreferences {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseShippingPreference converts raw input into a ShippingPreference.
func ParseShippingPreference(value string) (ShippingPreference, error) {
	for _, candidate := range validShippingPreferences {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipping preference %q", value)
}
