package db

import (
	"strings"
)

// IsUniqueViolation reports whether err is a unique-constraint failure,
// optionally scoped to a named constraint. Works against both the pgx
// error text and sqlite's variant so tests can share the check.
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraint != "" {
		return strings.Contains(msg, constraint)
	}
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
