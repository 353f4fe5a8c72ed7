package types

import (
	"fmt"
	"strings"
)

// ProviderKind identifies one of the supported fitness-data providers.
// The set is closed: adding a provider means adding a Config record in pkg/providers.
type ProviderKind string

const (
	ProviderGarmin ProviderKind = "garmin"
	ProviderSuunto ProviderKind = "suunto"
	ProviderCoros  ProviderKind = "coros"
)

// AllProviders lists every supported provider in a stable order.
var AllProviders = []ProviderKind{ProviderGarmin, ProviderSuunto, ProviderCoros}

// ParseProviderKind accepts a provider name in any case.
func ParseProviderKind(s string) (ProviderKind, error) {
	k := ProviderKind(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range AllProviders {
		if p == k {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

func (k ProviderKind) String() string {
	return string(k)
}
