package telegram

import "errors"

var (
	// ErrFraming covers a missing start or terminator and exceeded budgets.
	// The whole telegram is dropped.
	ErrFraming = errors.New("framing error")
	// ErrBudgetExceeded is wrapped together with ErrFraming.
	ErrBudgetExceeded = errors.New("telegram budget exceeded")
	// ErrIdentification is a malformed identification line.
	ErrIdentification = errors.New("malformed identification line")
	// ErrChecksum marks the telegram invalid, decoded lines are kept.
	ErrChecksum = errors.New("checksum mismatch")

	// Line level, the line is skipped.
	ErrMalformedObisCode = errors.New("malformed OBIS code")
	ErrMalformedValue    = errors.New("malformed value")
)

// LineError is a data line that was skipped while parsing.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e LineError) Error() string {
	return e.Err.Error()
}

func (e LineError) Unwrap() error {
	return e.Err
}
