package main

import (
	"context"
	"errors"
	"time"

	"github.com/NotCoffee418/iec62056_reader/pkg/emitter"
	"github.com/NotCoffee418/iec62056_reader/pkg/port_reader"
	"github.com/NotCoffee418/iec62056_reader/pkg/types"
	"github.com/rs/zerolog"
)

type runner interface {
	Run(ctx context.Context, out emitter.Emitter) error
	Close() error
}

// supervisor keeps one session running. Retryable errors reuse the open
// port, anything else closes and reopens it. Failures back off exponentially
// and the count resets once a batch gets through.
type supervisor struct {
	open      func() (runner, error)
	out       emitter.Emitter
	baseDelay time.Duration
	maxDelay  time.Duration
	logger    zerolog.Logger
}

func backoff(base, max time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (s *supervisor) run(ctx context.Context) {
	failures := 0
	out := emitter.Func(func(ctx context.Context, batch *types.Batch) error {
		failures = 0
		return s.out.Emit(ctx, batch)
	})

	var session runner
	defer func() {
		if session != nil {
			session.Close()
		}
	}()

	for {
		if session == nil {
			opened, err := s.open()
			if err != nil {
				failures++
				s.logger.Error().Err(err).Int("failures", failures).Msg("failed to open session")
				if !sleep(ctx, backoff(s.baseDelay, s.maxDelay, failures)) {
					return
				}
				continue
			}
			session = opened
		}

		err := session.Run(ctx, out)
		if ctx.Err() != nil || errors.Is(err, port_reader.ErrCanceled) {
			return
		}

		failures++
		if !port_reader.Retryable(err) {
			s.logger.Warn().Err(err).Msg("reopening session")
			if cerr := session.Close(); cerr != nil {
				s.logger.Debug().Err(cerr).Msg("close failed")
			}
			session = nil
		}
		if !sleep(ctx, backoff(s.baseDelay, s.maxDelay, failures)) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
