package env

import (
	"os"
	"strings"
)

const Prefix = "RELAY_"

// Get looks up RELAY_<key> first and then the bare key, returning fallback
// when neither is set.
func Get(key, fallback string) string {
	if val := First(Prefix+key, key); val != "" {
		return val
	}
	return fallback
}

// First returns the first non-blank value among keys.
func First(keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return ""
}
