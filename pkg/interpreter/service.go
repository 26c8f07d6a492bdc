// Package interpreter subscribes to a reader's websocket feed.
package interpreter

import (
	"context"
	"net/url"
	"time"

	"github.com/NotCoffee418/iec62056_reader/pkg/logging"
	"github.com/NotCoffee418/iec62056_reader/pkg/types"
	"github.com/gorilla/websocket"
)

const (
	MaxRetries     = 10
	BaseRetryDelay = 2 * time.Second
	MaxRetryDelay  = 60 * time.Second

	readTimeout  = 90 * time.Second
	pingInterval = 30 * time.Second
)

// RetryDelay is the exponential backoff before attempt n (n >= 1).
func RetryDelay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	if n > 16 {
		return MaxRetryDelay
	}
	d := time.Duration(1<<(n-1)) * BaseRetryDelay
	if d > MaxRetryDelay {
		d = MaxRetryDelay
	}
	return d
}

// ListenerOptions configures StartListener.
type ListenerOptions struct {
	Host       string
	TLSEnabled bool
	// MaxRetries of 0 means MaxRetries.
	MaxRetries int
	// Delay overrides RetryDelay, used by tests.
	Delay func(attempt int) time.Duration
}

func (o ListenerOptions) url() string {
	scheme := "ws"
	if o.TLSEnabled {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: o.Host, Path: "/ws"}
	return u.String()
}

// StartListener connects to the reader and calls handle for each batch until
// ctx is canceled or the retries are used up.
func StartListener(ctx context.Context, opts ListenerOptions, handle func(batch *types.Batch)) error {
	logger := logging.Component("listener")
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = MaxRetries
	}
	delay := opts.Delay
	if delay == nil {
		delay = RetryDelay
	}
	target := opts.url()

	retryCount := 0
	for {
		if retryCount > 0 {
			d := delay(retryCount)
			logger.Info().Dur("delay", d).Int("attempt", retryCount+1).Int("max", maxRetries).Msg("retrying connection")
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		logger.Info().Str("url", target).Msg("connecting")
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = 10 * time.Second
		c, _, err := dialer.DialContext(ctx, target, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn().Err(err).Msg("connection failed")
			retryCount++
			if retryCount >= maxRetries {
				logger.Error().Int("max", maxRetries).Msg("max retries reached, giving up")
				return err
			}
			continue
		}

		logger.Info().Msg("connected, accepting batches")
		retryCount = 0

		broken := handleConnection(ctx, c, handle)
		c.Close()
		if !broken {
			return ctx.Err()
		}
		logger.Warn().Msg("connection lost, will retry")
		retryCount = 1
	}
}

// handleConnection reports true when the connection broke and false when ctx
// ended it.
func handleConnection(ctx context.Context, c *websocket.Conn, handle func(batch *types.Batch)) bool {
	logger := logging.Component("listener")
	done := make(chan struct{})

	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn().Err(err).Msg("websocket error")
				} else {
					logger.Debug().Err(err).Msg("connection closed")
				}
				return
			}
			c.SetReadDeadline(time.Now().Add(readTimeout))

			if messageType != websocket.TextMessage {
				logger.Debug().Int("type", messageType).Msg("unexpected message type")
				continue
			}
			if batch := types.BatchFromJsonBytes(message); batch != nil {
				handle(batch)
			} else {
				logger.Warn().Str("message", string(message)).Msg("failed to parse batch")
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return true
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := c.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug().Err(err).Msg("failed to send ping")
			}
		case <-ctx.Done():
			err := c.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			if err != nil {
				logger.Debug().Err(err).Msg("error sending close message")
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
