package password

import (
	"errors"
	"unicode/utf8"
)

var (
	ErrTooShort     = errors.New("password is too short")
	ErrMissingLower = errors.New("password needs a lowercase letter")
	ErrMissingUpper = errors.New("password needs an uppercase letter")
	ErrMissingDigit = errors.New("password needs a digit")
)

// Policy describes the composition rules for a new password. Letter and digit
// classes are ASCII.
type Policy struct {
	MinLength    int
	RequireLower bool
	RequireUpper bool
	RequireDigit bool
}

// DefaultPolicy is at least 8 characters with one lowercase letter, one
// uppercase letter and one digit.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:    8,
		RequireLower: true,
		RequireUpper: true,
		RequireDigit: true,
	}
}

// Check returns the first rule pw violates, checked in the order length,
// lowercase, uppercase, digit.
func (p Policy) Check(pw string) error {
	if utf8.RuneCountInString(pw) < p.MinLength {
		return ErrTooShort
	}

	var lower, upper, digit bool
	for i := 0; i < len(pw); i++ {
		c := pw[i]
		switch {
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= '0' && c <= '9':
			digit = true
		}
	}

	if p.RequireLower && !lower {
		return ErrMissingLower
	}
	if p.RequireUpper && !upper {
		return ErrMissingUpper
	}
	if p.RequireDigit && !digit {
		return ErrMissingDigit
	}
	return nil
}
