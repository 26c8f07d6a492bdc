package port_reader

import (
	"fmt"
	"io"
	"time"

	"github.com/NotCoffee418/iec62056_reader/pkg/decoder"
	"github.com/NotCoffee418/iec62056_reader/pkg/profile"
	"github.com/NotCoffee418/iec62056_reader/pkg/types"
	"github.com/rs/zerolog"
)

// Port is the transport a session owns exclusively.
// Read returns (0, nil) when nothing arrived within the port's poll interval.
type Port interface {
	io.ReadWriter
	SetBaudRate(baud uint) error
	BaudRate() uint
	Close() error
}

// State of the acquisition state machine.
type State uint8

const (
	StateIdle State = iota
	StateAwaitingIdentification
	StateNegotiatingBaud
	StateReceivingData
	StateTelegramComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingIdentification:
		return "awaiting_identification"
	case StateNegotiatingBaud:
		return "negotiating_baud"
	case StateReceivingData:
		return "receiving_data"
	case StateTelegramComplete:
		return "telegram_complete"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

const (
	DefaultIdentificationTimeout = 5 * time.Second
	DefaultDataTimeout           = 5 * time.Second
	DefaultAckSettle             = 300 * time.Millisecond
)

// SessionConfig is the per-meter acquisition setup.
type SessionConfig struct {
	// Name tags logs and metrics.
	Name string
	// DeviceID, when set, replaces the id derived from the telegram.
	DeviceID string
	Mode     types.Mode
	// DefaultBaud is the speed the port is opened at and restored to.
	// 300 for modes A to C, 2400 or 9600 for mode D.
	DefaultBaud uint
	// MaxBaud caps mode C negotiation on top of the profile's limit.
	MaxBaud uint
	// Address selects one meter on a shared bus: /?<address>!
	Address string

	IdentificationTimeout time.Duration
	// DataTimeout bounds silence on the line while receiving data.
	DataTimeout time.Duration
	// AckSettle is the pause between sending the mode C ack and switching speed,
	// so the ack leaves the UART at the old baud.
	AckSettle time.Duration
	// PollInterval is the pause between readouts in Run for modes A to C.
	PollInterval time.Duration

	MaxTelegramBytes int
	MaxTelegramLines int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Mode == 0 {
		c.Mode = types.ModeC
	}
	if c.DefaultBaud == 0 {
		c.DefaultBaud = 300
		if c.Mode == types.ModeD {
			c.DefaultBaud = 9600
		}
	}
	if c.IdentificationTimeout <= 0 {
		c.IdentificationTimeout = DefaultIdentificationTimeout
	}
	if c.DataTimeout <= 0 {
		c.DataTimeout = DefaultDataTimeout
	}
	if c.AckSettle < 0 {
		c.AckSettle = 0
	}
	if c.Name == "" {
		c.Name = c.DeviceID
	}
	return c
}

// Normalized returns the config with the defaults a session would apply.
func (c SessionConfig) Normalized() SessionConfig {
	return c.withDefaults()
}

// Session drives one meter on one port. It is not safe for concurrent use:
// exactly one goroutine acquires from it.
type Session struct {
	cfg      SessionConfig
	port     Port
	resolver *profile.Resolver
	decoder  *decoder.Decoder
	logger   zerolog.Logger

	state        State
	onTransition func(from, to State)

	buf     []byte
	readBuf []byte
	closed  bool
}

type SessionOption func(*Session)

func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithTransitionHook is called synchronously on every state change.
func WithTransitionHook(fn func(from, to State)) SessionOption {
	return func(s *Session) { s.onTransition = fn }
}
