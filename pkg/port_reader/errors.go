package port_reader

import (
	"errors"
	"fmt"

	"github.com/NotCoffee418/iec62056_reader/pkg/telegram"
)

// Kind classifies why an acquisition failed.
type Kind uint8

const (
	KindFraming Kind = iota + 1
	KindBaudNegotiationTimeout
	KindDataTimeout
	KindPortIO
	KindCanceled
)

var (
	ErrBaudNegotiationTimeout = errors.New("baud negotiation timeout")
	ErrDataTimeout            = errors.New("data timeout")
	ErrPortIO                 = errors.New("port i/o error")
	ErrCanceled               = errors.New("acquisition canceled")
)

func (k Kind) String() string {
	switch k {
	case KindFraming:
		return "framing"
	case KindBaudNegotiationTimeout:
		return "baud_negotiation_timeout"
	case KindDataTimeout:
		return "data_timeout"
	case KindPortIO:
		return "port_io"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindFraming:
		return telegram.ErrFraming
	case KindBaudNegotiationTimeout:
		return ErrBaudNegotiationTimeout
	case KindDataTimeout:
		return ErrDataTimeout
	case KindPortIO:
		return ErrPortIO
	case KindCanceled:
		return ErrCanceled
	}
	return nil
}

// AcquisitionError is returned by Session.Acquire. The session is back in
// StateIdle when the caller sees it.
type AcquisitionError struct {
	Kind  Kind
	State State
	Err   error
}

func newError(kind Kind, state State, err error) *AcquisitionError {
	return &AcquisitionError{Kind: kind, State: state, Err: err}
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s in %s", e.Kind, e.State)
	}
	return fmt.Sprintf("%s in %s: %v", e.Kind, e.State, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind, so errors.Is(err, ErrDataTimeout) works.
func (e *AcquisitionError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Retryable reports whether trying again on the same port makes sense.
// Port failures and cancellation need the caller to reopen or stop.
func (e *AcquisitionError) Retryable() bool {
	switch e.Kind {
	case KindFraming, KindBaudNegotiationTimeout, KindDataTimeout:
		return true
	}
	return false
}

// Retryable reports whether err is an AcquisitionError worth retrying.
func Retryable(err error) bool {
	var acqErr *AcquisitionError
	return errors.As(err, &acqErr) && acqErr.Retryable()
}
