package audit

import (
	"strings"
)

const redactedValue = "[REDACTED]"

// Metadata keys whose values never reach storage in the clear. Matching is
// case-insensitive on key fragments so "authorityToken" and "api_secret"
// both hit.
var deniedKeyFragments = []string{
	"token",
	"secret",
	"password",
	"credential",
	"authorization",
}

// Keys holding external account numbers keep only the last four digits.
var accountNumberKeyFragments = []string{
	"account_number",
	"destination_account",
	"iban",
}

// redactMetadata returns a copy of meta safe to persist. Nested maps are
// walked; slices and scalars pass through untouched unless their key is
// denied.
func redactMetadata(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return meta
	}
	out := make(map[string]any, len(meta))
	for key, value := range meta {
		lowered := strings.ToLower(key)
		switch {
		case matchesFragment(lowered, deniedKeyFragments):
			out[key] = redactedValue
		case matchesFragment(lowered, accountNumberKeyFragments):
			out[key] = maskAccountNumber(value)
		default:
			if nested, ok := value.(map[string]any); ok {
				out[key] = redactMetadata(nested)
				continue
			}
			out[key] = value
		}
	}
	return out
}

func matchesFragment(key string, fragments []string) bool {
	for _, fragment := range fragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}

// maskAccountNumber keeps the last four characters of a string value and
// masks the rest. Non-string values are fully redacted since their shape is
// unknown.
func maskAccountNumber(value any) any {
	s, ok := value.(string)
	if !ok {
		return redactedValue
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) <= 4 {
		return trimmed
	}
	return "****" + trimmed[len(trimmed)-4:]
}
