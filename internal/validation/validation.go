// Package validation provides centralized input validation for agrimon.
package validation

import (
	"fmt"
	"regexp"
	"unicode"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for identifier names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// SensorIDRules returns the rules for sensor identifiers. Deployments
// scope sensors with dots ("field3.soil-7"), so dots are allowed.
func SensorIDRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    128,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateSensorID validates a sensor identifier.
func ValidateSensorID(id string) error {
	return ValidateName(id, SensorIDRules())
}

// =============================================================================
// Unit Validation
// =============================================================================

// maxUnitLength bounds unit strings; the longest real units ("µmol/m²/s")
// are far under this.
const maxUnitLength = 32

// ValidateUnit validates a measurement unit string. Units are free-form
// ("celsius", "°C", "l/min", "%") but must be short printable text.
func ValidateUnit(unit string) error {
	if unit == "" {
		return fmt.Errorf("unit cannot be empty")
	}
	if len(unit) > maxUnitLength {
		return fmt.Errorf("unit too long: maximum %d characters", maxUnitLength)
	}
	for i, r := range unit {
		if r < 32 || r == 127 {
			return fmt.Errorf("unit cannot contain control characters at position %d", i)
		}
	}
	return nil
}

// =============================================================================
// SQL LIKE Escaping
// =============================================================================

var sqlLikeMetaChars = regexp.MustCompile(`[%_\[\]\\]`)

// EscapeLikePattern escapes special characters in a LIKE pattern.
func EscapeLikePattern(pattern string) string {
	return sqlLikeMetaChars.ReplaceAllStringFunc(pattern, func(s string) string {
		return "\\" + s
	})
}

// SafeLikePrefix creates a safe LIKE prefix pattern.
func SafeLikePrefix(prefix string) string {
	return EscapeLikePattern(prefix) + "%"
}
