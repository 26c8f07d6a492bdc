package port_reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/iec62056_reader/pkg/decoder"
	"github.com/NotCoffee418/iec62056_reader/pkg/emitter"
	"github.com/NotCoffee418/iec62056_reader/pkg/logging"
	"github.com/NotCoffee418/iec62056_reader/pkg/metrics"
	"github.com/NotCoffee418/iec62056_reader/pkg/profile"
	"github.com/NotCoffee418/iec62056_reader/pkg/telegram"
	"github.com/NotCoffee418/iec62056_reader/pkg/types"
)

// NewSession takes ownership of port, which should be open at cfg.DefaultBaud.
// A nil resolver or decoder means the defaults.
func NewSession(port Port, resolver *profile.Resolver, dec *decoder.Decoder, cfg SessionConfig, opts ...SessionOption) (*Session, error) {
	cfg = cfg.withDefaults()
	if cfg.Mode < types.ModeA || cfg.Mode > types.ModeD {
		return nil, fmt.Errorf("unsupported mode %s", cfg.Mode)
	}
	if resolver == nil {
		resolver = profile.DefaultResolver()
	}
	if dec == nil {
		dec = decoder.New(nil)
	}

	s := &Session{
		cfg:      cfg,
		port:     port,
		resolver: resolver,
		decoder:  dec,
		logger:   logging.Component("session").With().Str("device", cfg.Name).Logger(),
		readBuf:  make([]byte, 256),
	}
	for _, opt := range opts {
		opt(s)
	}
	metrics.SetBaudRate(cfg.Name, port.BaudRate())
	return s, nil
}

// Open opens the serial device at the session's default baud and wraps it in a session.
func Open(serialOpts SerialOptions, resolver *profile.Resolver, dec *decoder.Decoder, cfg SessionConfig, opts ...SessionOption) (*Session, error) {
	cfg = cfg.withDefaults()
	serialOpts.BaudRate = cfg.DefaultBaud
	port, err := OpenSerial(serialOpts)
	if err != nil {
		return nil, newError(KindPortIO, StateIdle, err)
	}
	s, err := NewSession(port, resolver, dec, cfg, opts...)
	if err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Config() SessionConfig {
	return s.cfg
}

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.logger.Trace().Stringer("from", from).Stringer("to", to).Msg("state transition")
	if s.onTransition != nil {
		s.onTransition(from, to)
	}
}

func (s *Session) fail(kind Kind, err error) *AcquisitionError {
	return newError(kind, s.state, err)
}

// Acquire reads one telegram and decodes it. Failures come back as *AcquisitionError
// with the session in StateIdle and the port at its default baud. Acquire never retries.
func (s *Session) Acquire(ctx context.Context) (batch *types.Batch, err error) {
	if s.closed {
		return nil, newError(KindPortIO, StateIdle, errors.New("session closed"))
	}
	start := time.Now()

	defer func() {
		if restoreErr := s.restoreBaud(); restoreErr != nil && err == nil {
			batch, err = nil, s.fail(KindPortIO, restoreErr)
		}
		if err != nil {
			var acqErr *AcquisitionError
			if !errors.As(err, &acqErr) {
				acqErr = s.fail(KindPortIO, err)
				err = acqErr
			}
			s.setState(StateError)
			s.buf = s.buf[:0]
			metrics.RecordAcquisitionError(s.cfg.Name, acqErr.Kind.String())
			if acqErr.Kind == KindCanceled {
				s.logger.Debug().Err(err).Msg("acquisition canceled")
			} else {
				s.logger.Error().Err(err).Msg("acquisition failed")
			}
			if acqErr.Kind == KindPortIO {
				if closeErr := s.Close(); closeErr != nil {
					s.logger.Debug().Err(closeErr).Msg("close after port failure")
				}
			}
		}
		s.setState(StateIdle)
	}()

	identLine, err := s.awaitIdentification(ctx)
	if err != nil {
		return nil, err
	}

	grammar := telegram.GrammarStandard
	if s.cfg.Mode == types.ModeB {
		grammar = telegram.GrammarExtended
	}
	ident, err := telegram.ParseIdentification(string(identLine), grammar)
	if err != nil {
		return nil, s.fail(KindFraming, fmt.Errorf("%w: %w", telegram.ErrFraming, err))
	}

	prof, known := s.resolver.Resolve(ident.Manufacturer)
	if !known {
		s.logger.Debug().Str("manufacturer", ident.Manufacturer).Msg("unknown manufacturer, using generic profile")
	}
	if !prof.Supports(s.cfg.Mode) {
		s.logger.Warn().
			Str("profile", prof.Name()).
			Stringer("mode", s.cfg.Mode).
			Interface("supported", prof.Modes()).
			Msg("profile does not list this mode, decoding anyway")
	}

	if s.cfg.Mode == types.ModeC {
		if err := s.negotiateBaud(ctx, ident, prof); err != nil {
			return nil, err
		}
	}

	s.setState(StateReceivingData)
	if err := s.readUntil(ctx, s.cfg.DataTimeout, true, KindDataTimeout, dataComplete); err != nil {
		var acqErr *AcquisitionError
		if errors.As(err, &acqErr) && acqErr.Kind == KindDataTimeout && len(s.buf) > 0 {
			return nil, s.fail(KindFraming, fmt.Errorf("%w: missing terminator after %d bytes", telegram.ErrFraming, len(s.buf)))
		}
		return nil, err
	}
	dataEnd := telegram.FrameEnd(s.buf, hasBlockCheck(s.buf))

	raw := make([]byte, 0, len(identLine)+dataEnd)
	raw = append(raw, identLine...)
	raw = append(raw, s.buf[:dataEnd]...)
	s.keepRemainder(dataEnd)

	s.setState(StateTelegramComplete)
	tel, err := telegram.Parse(raw, telegram.Options{
		MaxBytes: s.cfg.MaxTelegramBytes,
		MaxLines: s.cfg.MaxTelegramLines,
		Grammar:  grammar,
		Checksum: prof.Checksum(),
	})
	if err != nil {
		return nil, s.fail(KindFraming, err)
	}
	tel.ReceivedAt = time.Now()

	batch = s.decoder.Decode(tel, prof, decoder.Source{Mode: s.cfg.Mode, DeviceID: s.cfg.DeviceID})
	metrics.RecordTelegram(s.cfg.Name, prof.Name(), batch.Valid, len(batch.Records), len(batch.Skipped))
	metrics.ObserveAcquisition(s.cfg.Name, s.cfg.Mode.String(), time.Since(start))
	s.logger.Info().
		Str("device", batch.DeviceID).
		Str("profile", prof.Name()).
		Int("records", len(batch.Records)).
		Int("skipped", len(batch.Skipped)).
		Bool("valid", batch.Valid).
		Msg("telegram received")
	return batch, nil
}

// awaitIdentification sends the request message where the mode has one and
// returns the identification line including its CR LF. Bytes after the line stay in s.buf.
func (s *Session) awaitIdentification(ctx context.Context) ([]byte, error) {
	if s.cfg.Mode.Bidirectional() {
		s.buf = s.buf[:0]
		if err := s.switchBaud(s.cfg.DefaultBaud); err != nil {
			return nil, s.fail(KindPortIO, err)
		}
	}

	s.setState(StateAwaitingIdentification)
	timeoutKind := KindDataTimeout
	if s.cfg.Mode == types.ModeC {
		timeoutKind = KindBaudNegotiationTimeout
	}

	if s.cfg.Mode.Bidirectional() {
		request := []byte("/?" + s.cfg.Address + "!\r\n")
		if _, err := s.port.Write(request); err != nil {
			return nil, s.fail(KindPortIO, fmt.Errorf("write request: %w", err))
		}
	}

	complete := func(buf []byte) (bool, error) {
		_, end := identificationLine(buf)
		return end > 0, nil
	}
	if err := s.readUntil(ctx, s.cfg.IdentificationTimeout, false, timeoutKind, complete); err != nil {
		return nil, err
	}

	start, end := identificationLine(s.buf)
	line := append([]byte(nil), s.buf[start:end]...)
	s.keepRemainder(end)
	return line, nil
}

// negotiateBaud acknowledges the identification and switches the port. Nothing is
// read between the ack and the switch, and whatever arrived before is discarded.
func (s *Session) negotiateBaud(ctx context.Context, ident telegram.Identification, prof *profile.Profile) error {
	s.setState(StateNegotiatingBaud)

	id, rate := prof.BaudTable().Negotiate(ident.BaudID, s.baudLimit(prof))
	if id != ident.BaudID {
		s.logger.Debug().Str("proposed", string(ident.BaudID)).Str("selected", string(id)).Msg("meter speed capped")
	}

	ack := []byte{telegram.ACK, '0', id, '0', '\r', '\n'}
	if _, err := s.port.Write(ack); err != nil {
		return s.fail(KindPortIO, fmt.Errorf("write ack: %w", err))
	}
	if err := wait(ctx, s.cfg.AckSettle); err != nil {
		return s.fail(KindCanceled, err)
	}
	if err := s.switchBaud(rate); err != nil {
		return s.fail(KindPortIO, err)
	}
	s.buf = s.buf[:0]
	return nil
}

func (s *Session) baudLimit(prof *profile.Profile) uint {
	limit := prof.MaxBaud()
	if s.cfg.MaxBaud > 0 && (limit == 0 || s.cfg.MaxBaud < limit) {
		limit = s.cfg.MaxBaud
	}
	return limit
}

// readUntil reads into s.buf until complete reports true. With idle the timeout
// restarts whenever bytes arrive, otherwise it bounds the whole phase.
// An error from complete is a framing error.
func (s *Session) readUntil(ctx context.Context, timeout time.Duration, idle bool, kind Kind, complete func([]byte) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	maxBytes := s.cfg.MaxTelegramBytes
	if maxBytes <= 0 {
		maxBytes = telegram.DefaultMaxBytes
	}

	for {
		done, err := complete(s.buf)
		if err != nil {
			return s.fail(KindFraming, err)
		}
		if done {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return s.fail(KindCanceled, err)
		}
		if time.Now().After(deadline) {
			return s.fail(kind, fmt.Errorf("nothing complete after %s, %d bytes buffered", timeout, len(s.buf)))
		}

		n, err := s.port.Read(s.readBuf)
		if err != nil {
			return s.fail(KindPortIO, fmt.Errorf("read: %w", err))
		}
		if n == 0 {
			continue
		}
		s.buf = append(s.buf, s.readBuf[:n]...)
		if idle {
			deadline = time.Now().Add(timeout)
		}
		if len(s.buf) > maxBytes {
			return s.fail(KindFraming, fmt.Errorf("%w: %w: %d bytes without terminator", telegram.ErrFraming, telegram.ErrBudgetExceeded, len(s.buf)))
		}
	}
}

// keepRemainder drops s.buf[:n]. Mode D streams keep what follows, it may be
// the start of the next telegram.
func (s *Session) keepRemainder(n int) {
	rest := copy(s.buf, s.buf[n:])
	s.buf = s.buf[:rest]
}

func (s *Session) switchBaud(baud uint) error {
	if s.port.BaudRate() == baud {
		return nil
	}
	if err := s.port.SetBaudRate(baud); err != nil {
		return fmt.Errorf("switch to %d baud: %w", baud, err)
	}
	metrics.SetBaudRate(s.cfg.Name, baud)
	s.logger.Debug().Uint("baud", baud).Msg("port speed changed")
	return nil
}

func (s *Session) restoreBaud() error {
	return s.switchBaud(s.cfg.DefaultBaud)
}

// Close restores the default baud and releases the port. It is safe to call twice.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.setState(StateIdle)
	return errors.Join(s.restoreBaud(), s.port.Close())
}

// Run acquires and emits until ctx ends or an acquisition fails. The error is
// returned as is: backoff and reopening are the caller's decision.
func (s *Session) Run(ctx context.Context, out emitter.Emitter) error {
	for {
		batch, err := s.Acquire(ctx)
		if err != nil {
			return err
		}
		if err := out.Emit(ctx, batch); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return newError(KindCanceled, StateIdle, ctxErr)
			}
			return fmt.Errorf("emit batch: %w", err)
		}
		if s.cfg.Mode.Bidirectional() {
			if err := wait(ctx, s.cfg.PollInterval); err != nil {
				return newError(KindCanceled, StateIdle, err)
			}
		}
	}
}

// identificationLine locates "/XXXZ...\n" in buf, skipping an echoed "/?...!" request.
// end is -1 while the line is incomplete.
func identificationLine(buf []byte) (start, end int) {
	from := 0
	for {
		i := bytes.IndexByte(buf[from:], '/')
		if i < 0 {
			return -1, -1
		}
		start = from + i
		nl := bytes.IndexByte(buf[start:], '\n')
		if nl < 0 {
			return start, -1
		}
		end = start + nl + 1
		if start+1 < len(buf) && buf[start+1] == '?' {
			from = end
			continue
		}
		return start, end
	}
}

func hasBlockCheck(buf []byte) bool {
	return bytes.IndexByte(buf, telegram.STX) >= 0
}

// dataComplete reports a terminated data block. A new identification line
// before the terminator means the previous telegram lost its end.
func dataComplete(buf []byte) (bool, error) {
	end := telegram.FrameEnd(buf, hasBlockCheck(buf))
	limit := len(buf)
	if end >= 0 {
		limit = end
	}
	for i := 0; i < limit; i++ {
		if buf[i] == '/' && (i == 0 || buf[i-1] == '\n') {
			return false, fmt.Errorf("%w: identification line before terminator", telegram.ErrFraming)
		}
	}
	return end >= 0, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
