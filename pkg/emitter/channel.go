package emitter

import (
	"context"
	"sync"

	"github.com/NotCoffee418/iec62056_reader/pkg/types"
)

// Channel is a bounded queue between sessions and a consumer goroutine.
// Emit blocks once size batches are waiting.
type Channel struct {
	ch     chan *types.Batch
	done   chan struct{}
	closer sync.Once
}

func NewChannel(size int) *Channel {
	if size < 0 {
		size = 0
	}
	return &Channel{
		ch:   make(chan *types.Batch, size),
		done: make(chan struct{}),
	}
}

func (c *Channel) Emit(ctx context.Context, batch *types.Batch) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.ch <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Batches is never closed, select on Done as well.
func (c *Channel) Batches() <-chan *types.Batch {
	return c.ch
}

func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close makes pending and future Emit calls fail with ErrClosed.
func (c *Channel) Close() {
	c.closer.Do(func() { close(c.done) })
}

// Consume hands batches to out until ctx ends or the channel is closed.
func (c *Channel) Consume(ctx context.Context, out Emitter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case batch := <-c.ch:
			if err := out.Emit(ctx, batch); err != nil {
				return err
			}
		}
	}
}
