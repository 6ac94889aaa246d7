package enums

import (
	"fmt"
	"strings"
)

// BillingProvider names the external payment provider backing a subscription.
type BillingProvider string

const (
	BillingProviderStripe BillingProvider = "stripe"
	BillingProviderSquare BillingProvider = "square"
)

var validBillingProviders = []BillingProvider{
	BillingProviderStripe,
	BillingProviderSquare,
}

// String implements fmt.Stringer.
func (p BillingProvider) String() string {
	return string(p)
}

// IsValid reports whether the value is a known BillingProvider.
func (p BillingProvider) IsValid() bool {
	for _, candidate := range validBillingProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseBillingProvider converts raw input into a BillingProvider. Matching is case-insensitive.
func ParseBillingProvider(value string) (BillingProvider, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validBillingProviders {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing provider %q", value)
}
