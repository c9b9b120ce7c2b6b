package logging

import "strings"

// RedactedValue is the canonical placeholder used for sensitive fields in
// logs and sanitized configuration dumps.
const RedactedValue = "[REDACTED]"

// MaskValue returns the redacted placeholder for non-empty values. Empty
// values pass through unchanged so absent secrets stay visibly absent.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}
