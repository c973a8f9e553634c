// Package money provides exact minor-unit currency arithmetic.
//
// Amounts are held as integer cents. Binary floating point is never used for
// money; parsing and formatting go through shopspring/decimal so that values
// like "33.34" survive round trips exactly.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is a monetary amount in minor currency units (cents). Negative values
// represent debits.
type Cents int64

// ErrBadAmount is returned when an amount string is not a valid two-decimal
// currency value.
var ErrBadAmount = errors.New("invalid amount")

var hundred = decimal.NewFromInt(100)

// Parse converts a decimal string such as "89.99" into Cents. At most two
// decimal places are accepted.
func Parse(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal amount into Cents. At most two decimal
// places are accepted.
func FromDecimal(d decimal.Decimal) (Cents, error) {
	scaled := d.Mul(hundred)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: more than two decimal places", ErrBadAmount)
	}
	return Cents(scaled.IntPart()), nil
}

// Decimal returns the amount as an exact decimal value in major units.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String formats the amount with two decimal places, e.g. "33.34" or "-0.50".
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// Abs returns the absolute value.
func (c Cents) Abs() Cents {
	if c < 0 {
		return -c
	}
	return c
}

// MarshalJSON encodes the amount as a plain two-decimal JSON number, matching
// the wire format the frontend expects ("amount": 33.34).
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (c *Cents) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
