// Package emitter delivers decoded batches to whoever consumes them.
package emitter

import (
	"context"
	"errors"

	"github.com/NotCoffee418/iec62056_reader/pkg/types"
)

var ErrClosed = errors.New("emitter closed")

// Emitter receives one whole batch per telegram. Emit blocks while the
// consumer is congested, which pauses acquisition of the calling session.
type Emitter interface {
	Emit(ctx context.Context, batch *types.Batch) error
}

// Func adapts a plain function.
type Func func(ctx context.Context, batch *types.Batch) error

func (f Func) Emit(ctx context.Context, batch *types.Batch) error {
	return f(ctx, batch)
}
