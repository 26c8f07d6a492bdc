package esmutils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidDecimal = errors.New("invalid decimal")

// Decimal is a fixed-precision number that remembers how it was written by the meter.
// Meter registers are never routed through float64, so "000123.450" keeps all of its digits.
type Decimal struct {
	value    decimal.Decimal
	scale    int32 // fractional digits as presented
	width    int   // integer digits as presented, leading zeros included
	negative bool
	plus     bool
}

// ParseDecimal accepts an optional sign, at least one integer digit
// and an optional fractional part: [+-]ddd[.ddd]
func ParseDecimal(s string) (Decimal, error) {
	raw := s
	d := Decimal{}
	if s == "" {
		return d, fmt.Errorf("%w: empty", ErrInvalidDecimal)
	}

	switch s[0] {
	case '-':
		d.negative = true
		s = s[1:]
	case '+':
		d.plus = true
		s = s[1:]
	}

	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if intPart == "" || !allDigits(intPart) {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidDecimal, raw)
	}
	if hasDot && (fracPart == "" || !allDigits(fracPart)) {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidDecimal, raw)
	}

	value, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("%w: %q: %v", ErrInvalidDecimal, raw, err)
	}
	if d.negative {
		value = value.Neg()
	}

	d.value = value
	d.scale = int32(len(fracPart))
	d.width = len(intPart)
	return d, nil
}

// MustParseDecimal panics on invalid input. Intended for tables and tests.
func MustParseDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Format reproduces the value exactly as it was parsed,
// including sign, leading zeros and trailing fractional zeros.
func (d Decimal) Format() string {
	intPart, fracPart := d.parts()
	for len(intPart) < d.width {
		intPart = "0" + intPart
	}

	var sb strings.Builder
	if d.negative {
		sb.WriteByte('-')
	} else if d.plus {
		sb.WriteByte('+')
	}
	sb.WriteString(intPart)
	if fracPart != "" {
		sb.WriteByte('.')
		sb.WriteString(fracPart)
	}
	return sb.String()
}

// String is the canonical form: no leading zeros, fractional digits kept.
func (d Decimal) String() string {
	intPart, fracPart := d.parts()
	s := intPart
	if fracPart != "" {
		s += "." + fracPart
	}
	if d.value.IsNegative() {
		return "-" + s
	}
	return s
}

func (d Decimal) parts() (string, string) {
	fixed := d.value.Abs().StringFixed(d.scale)
	intPart, fracPart, _ := strings.Cut(fixed, ".")
	return intPart, fracPart
}

// Shift moves the decimal point by exp places (value * 10^exp) without rounding.
func (d Decimal) Shift(exp int32) Decimal {
	if exp == 0 {
		return d
	}
	scale := d.scale - exp
	if scale < 0 {
		scale = 0
	}
	return Decimal{
		value:    d.value.Shift(exp),
		scale:    scale,
		negative: d.value.IsNegative(),
	}
}

func (d Decimal) Scale() int32 {
	return d.scale
}

func (d Decimal) Value() decimal.Decimal {
	return d.value
}

func (d Decimal) IsZero() bool {
	return d.value.IsZero()
}

// Equal compares numeric value only, "001.50" equals "1.5".
func (d Decimal) Equal(other Decimal) bool {
	return d.value.Equal(other.value)
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
