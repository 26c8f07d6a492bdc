package types

import (
	"fmt"
	"strings"
)

// Mode is the IEC 62056-21 communication mode of a session.
type Mode uint8

const (
	ModeA Mode = iota + 1
	ModeB
	ModeC
	ModeD
)

func (m Mode) String() string {
	switch m {
	case ModeA:
		return "A"
	case ModeB:
		return "B"
	case ModeC:
		return "C"
	case ModeD:
		return "D"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ParseMode accepts "A".."D" and "mode c" style spellings.
func ParseMode(s string) (Mode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "MODE")
	switch strings.TrimSpace(s) {
	case "A":
		return ModeA, nil
	case "B":
		return ModeB, nil
	case "C":
		return ModeC, nil
	case "D":
		return ModeD, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Bidirectional modes send a request before the meter answers.
func (m Mode) Bidirectional() bool {
	return m == ModeA || m == ModeB || m == ModeC
}

func (m Mode) MarshalText() ([]byte, error) {
	if m == 0 {
		return []byte{}, nil
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*m = 0
		return nil
	}
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
