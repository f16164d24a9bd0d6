package enums

import "fmt"

// DestinationType maps to the destination_type column of webhook_payloads.
type DestinationType string

const (
	DestinationRegion     DestinationType = "region"
	DestinationThirdParty DestinationType = "third_party"
)

var validDestinationTypes = []DestinationType{
	DestinationRegion,
	DestinationThirdParty,
}

// IsValid reports whether the value matches a supported destination.
func (d DestinationType) IsValid() bool {
	for _, candidate := range validDestinationTypes {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDestinationType converts raw input into DestinationType.
func ParseDestinationType(value string) (DestinationType, error) {
	for _, candidate := range validDestinationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid destination type %q", value)
}
