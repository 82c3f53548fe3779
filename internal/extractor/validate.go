package extractor

import (
	"fmt"
	"regexp"
	"strings"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

var uuidSearch = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// IsUUID reports whether value is a canonical UUID.
func IsUUID(value string) bool {
	return uuidPattern.MatchString(value)
}

// RequiresUUID reports whether field holds entity references.
func RequiresUUID(field string) bool {
	return strings.HasSuffix(field, "_id") || strings.HasSuffix(field, "_ids")
}

// Validate checks an extracted value before it is substituted into field.
func Validate(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("extracted value for '%s' is empty", field)
	}
	if RequiresUUID(field) && !IsUUID(value) {
		return fmt.Errorf("field '%s' requires UUID format, but got: '%s'; this looks like an identifier or slug, not a UUID", field, value)
	}
	return nil
}
