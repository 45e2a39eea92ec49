// Package forms provides field validators and formatters for the signup flow.
package forms

import (
	"errors"
	"regexp"
	"strings"
)

// Validation errors.
var (
	ErrRequired = errors.New("required")
	ErrInvalid  = errors.New("invalid")
)

// Validator validates a field value.
type Validator interface {
	// Validate checks if the value is valid.
	Validate(value string) error

	// Message returns the message key shown when validation fails.
	Message() string
}

var (
	emailRegex = regexp.MustCompile(`^[^\p{Z}\s@]+@[^\p{Z}\s@]+\.[^\p{Z}\s@]+$`)
	eanRegex   = regexp.MustCompile(`^\d{13}$`)
	cvrRegex   = regexp.MustCompile(`^\d{8}$`)
	nonDigit   = regexp.MustCompile(`\D`)
	whitespace = regexp.MustCompile(`\s+`)
)

// IsValidEmail reports whether s looks like a single-@ address with a dotted domain.
func IsValidEmail(s string) bool {
	return emailRegex.MatchString(s)
}

// IsValidEAN reports whether s is exactly 13 ASCII digits.
func IsValidEAN(s string) bool {
	return eanRegex.MatchString(s)
}

// IsValidCVR reports whether s is exactly 8 ASCII digits.
func IsValidCVR(s string) bool {
	return cvrRegex.MatchString(s)
}

// StripWhitespace removes every whitespace rune from s.
func StripWhitespace(s string) string {
	return whitespace.ReplaceAllString(s, "")
}

// IsValidDanishPhone accepts 8-digit national numbers and +45/0045 prefixed
// numbers with 8 digits after the prefix. Other international numbers are
// accepted without a length check.
func IsValidDanishPhone(s string) bool {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return false
	}
	digits := nonDigit.ReplaceAllString(raw, "")
	if strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "00") {
		switch {
		case strings.HasPrefix(digits, "45"):
			return len(digits) == 10
		case strings.HasPrefix(digits, "0045"):
			return len(digits) == 12
		default:
			return true
		}
	}
	return len(digits) == 8
}

// Required validates that a field is not blank.
type Required struct {
	Msg string
}

func (v Required) Validate(value string) error {
	if strings.TrimSpace(value) == "" {
		return ErrRequired
	}
	return nil
}

func (v Required) Message() string { return v.Msg }

// Email validates email format. Empty values pass (use Required for that).
type Email struct {
	Msg string
}

func (v Email) Validate(value string) error {
	if value == "" {
		return nil
	}
	if !IsValidEmail(value) {
		return ErrInvalid
	}
	return nil
}

func (v Email) Message() string { return v.Msg }

// EAN validates a 13 digit EAN number. Empty values pass.
type EAN struct {
	Msg string
}

func (v EAN) Validate(value string) error {
	if value == "" {
		return nil
	}
	if !IsValidEAN(value) {
		return ErrInvalid
	}
	return nil
}

func (v EAN) Message() string { return v.Msg }

// DanishPhone validates a phone number. Empty values pass.
type DanishPhone struct {
	Msg string
}

func (v DanishPhone) Validate(value string) error {
	if value == "" {
		return nil
	}
	if !IsValidDanishPhone(value) {
		return ErrInvalid
	}
	return nil
}

func (v DanishPhone) Message() string { return v.Msg }

// Check runs validators in order and returns the message of the first failure.
func Check(value string, validators ...Validator) (string, bool) {
	for _, v := range validators {
		if err := v.Validate(value); err != nil {
			return v.Message(), false
		}
	}
	return "", true
}
