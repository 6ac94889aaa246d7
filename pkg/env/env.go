// Package env reads process settings that are needed before config.Load runs.
package env

import (
	"os"
	"strings"
)

// Prefix matches config.EnvPrefix.
const Prefix = "TENANTBILLING"

// Get returns TENANTBILLING_<key> if set, then <key>, then fallback. Values are trimmed.
func Get(key, fallback string) string {
	for _, name := range []string{Prefix + "_" + key, key} {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return fallback
}
