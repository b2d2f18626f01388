package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are accepted in order. Spreadsheet exports are inconsistent,
// so both ISO and the common slash forms are recognized.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"01/02/2006",
	"2 Jan 2006",
	time.RFC3339,
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ParseNumeric parses a spreadsheet numeric cell, tolerating thousands
// separators and a leading currency symbol.
func ParseNumeric(v string) (float64, error) {
	cleaned := strings.TrimSpace(v)
	cleaned = strings.TrimLeft(cleaned, "$€£")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("empty numeric value")
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", v)
	}
	return f, nil
}

// ParseDate parses a date cell against the accepted layouts.
func ParseDate(v string) (time.Time, error) {
	cleaned := strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date: %q", v)
}

// ValidEmail reports whether v looks like an email address.
func ValidEmail(v string) bool {
	return emailRe.MatchString(strings.TrimSpace(v))
}

// CheckValue validates one non-empty cell against its spec. It returns a
// short human message on failure; the caller attaches the machine code.
func CheckValue(v string, spec FieldSpec) error {
	switch spec.Type {
	case FieldNumeric, FieldCurrency:
		f, err := ParseNumeric(v)
		if err != nil {
			return err
		}
		if spec.Min != nil && f < *spec.Min {
			return fmt.Errorf("below minimum %v", *spec.Min)
		}
		if spec.Max != nil && f > *spec.Max {
			return fmt.Errorf("exceeds maximum %v", *spec.Max)
		}
	case FieldDate:
		if _, err := ParseDate(v); err != nil {
			return err
		}
	case FieldEmail:
		if !ValidEmail(v) {
			return fmt.Errorf("invalid email address: %q", v)
		}
	}
	if len(spec.Enum) > 0 {
		for _, allowed := range spec.Enum {
			if strings.EqualFold(strings.TrimSpace(v), allowed) {
				return nil
			}
		}
		return fmt.Errorf("value %q not one of %s", v, strings.Join(spec.Enum, ", "))
	}
	return nil
}

// BoundsExceeded reports whether the failure is a range violation rather
// than a format problem, so callers can pick the right issue code.
func BoundsExceeded(v string, spec FieldSpec) (belowMin, aboveMax bool) {
	if spec.Type != FieldNumeric && spec.Type != FieldCurrency {
		return false, false
	}
	f, err := ParseNumeric(v)
	if err != nil {
		return false, false
	}
	if spec.Min != nil && f < *spec.Min {
		belowMin = true
	}
	if spec.Max != nil && f > *spec.Max {
		aboveMax = true
	}
	return belowMin, aboveMax
}
