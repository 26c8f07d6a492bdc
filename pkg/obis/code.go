// Package obis holds the OBIS identifier model and the read-only registry
// that gives each code its meaning, unit and scale.
package obis

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedCode = errors.New("malformed OBIS code")

// Code is a parsed OBIS identifier A-B:C.D.E*F.
//
// A is the medium, B the channel, C the indicator (physical quantity),
// D the processing mode, E the tariff and F the storage.
// A and B are optional in the short C.D.E form, F is always optional.
// The zero value is not a valid code; use ParseCode or New.
type Code struct {
	a, b, c, d, e, f uint8
	hasAB, hasF      bool
}

// New builds a full A-B:C.D.E code.
func New(a, b, c, d, e uint8) Code {
	return Code{a: a, b: b, c: c, d: d, e: e, hasAB: true}
}

// MustParse is for static tables.
func MustParse(s string) Code {
	c, err := ParseCode(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseCode accepts "A-B:C.D.E", "A-B:C.D.E*F", "A-B:C.D.E.F", "C.D.E" and "C.D.E*F".
func ParseCode(s string) (Code, error) {
	raw := s
	s = strings.TrimSpace(s)
	var code Code

	if head, rest, ok := strings.Cut(s, ":"); ok {
		a, b, ok := strings.Cut(head, "-")
		if !ok {
			return Code{}, fmt.Errorf("%w: %q", ErrMalformedCode, raw)
		}
		var err error
		if code.a, err = component(a); err != nil {
			return Code{}, fmt.Errorf("%w: %q: %v", ErrMalformedCode, raw, err)
		}
		if code.b, err = component(b); err != nil {
			return Code{}, fmt.Errorf("%w: %q: %v", ErrMalformedCode, raw, err)
		}
		code.hasAB = true
		s = rest
	}

	if groups, storage, ok := strings.Cut(s, "*"); ok {
		f, err := component(storage)
		if err != nil {
			return Code{}, fmt.Errorf("%w: %q: %v", ErrMalformedCode, raw, err)
		}
		code.f, code.hasF = f, true
		s = groups
	}

	parts := strings.Split(s, ".")
	switch {
	case len(parts) == 4 && !code.hasF:
		f, err := component(parts[3])
		if err != nil {
			return Code{}, fmt.Errorf("%w: %q: %v", ErrMalformedCode, raw, err)
		}
		code.f, code.hasF = f, true
		parts = parts[:3]
	case len(parts) != 3:
		return Code{}, fmt.Errorf("%w: %q: want C.D.E", ErrMalformedCode, raw)
	}

	var err error
	if code.c, err = component(parts[0]); err != nil {
		return Code{}, fmt.Errorf("%w: %q: %v", ErrMalformedCode, raw, err)
	}
	if code.d, err = component(parts[1]); err != nil {
		return Code{}, fmt.Errorf("%w: %q: %v", ErrMalformedCode, raw, err)
	}
	if code.e, err = component(parts[2]); err != nil {
		return Code{}, fmt.Errorf("%w: %q: %v", ErrMalformedCode, raw, err)
	}
	return code, nil
}

func component(s string) (uint8, error) {
	if s == "" {
		return 0, errors.New("empty group")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("group %q is not a non-negative integer", s)
		}
	}
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("group %q out of range", s)
	}
	return uint8(v), nil
}

func (c Code) Medium() uint8    { return c.a }
func (c Code) Channel() uint8   { return c.b }
func (c Code) Indicator() uint8 { return c.c }
func (c Code) Mode() uint8      { return c.d }
func (c Code) Tariff() uint8    { return c.e }

// Storage returns F and whether it was present.
func (c Code) Storage() (uint8, bool) { return c.f, c.hasF }

// Short reports whether the code was written without A-B.
func (c Code) Short() bool { return !c.hasAB }

// WithoutStorage drops F, registry entries are keyed without it.
func (c Code) WithoutStorage() Code {
	c.f, c.hasF = 0, false
	return c
}

// Qualified fills in A-B for a short code. Full codes are returned unchanged.
func (c Code) Qualified(medium, channel uint8) Code {
	if c.hasAB {
		return c
	}
	c.a, c.b, c.hasAB = medium, channel, true
	return c
}

// IsAbstract reports medium 0, the group that carries identifiers and clocks.
func (c Code) IsAbstract() bool {
	return c.hasAB && c.a == 0
}

func (c Code) String() string {
	s := fmt.Sprintf("%d.%d.%d", c.c, c.d, c.e)
	if c.hasAB {
		s = fmt.Sprintf("%d-%d:%s", c.a, c.b, s)
	}
	if c.hasF {
		s = fmt.Sprintf("%s*%d", s, c.f)
	}
	return s
}

func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Code) UnmarshalText(text []byte) error {
	parsed, err := ParseCode(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
