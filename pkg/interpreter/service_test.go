package interpreter

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/iec62056_reader/pkg/emitter"
	"github.com/NotCoffee418/iec62056_reader/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), RetryDelay(0))
	assert.Equal(t, 2*time.Second, RetryDelay(1))
	assert.Equal(t, 4*time.Second, RetryDelay(2))
	assert.Equal(t, 32*time.Second, RetryDelay(5))
	assert.Equal(t, MaxRetryDelay, RetryDelay(6))
	assert.Equal(t, MaxRetryDelay, RetryDelay(40))
}

func TestListenerReceivesBatches(t *testing.T) {
	hub := emitter.NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *types.Batch, 4)
	errs := make(chan error, 1)
	go func() {
		errs <- StartListener(ctx, ListenerOptions{
			Host:  strings.TrimPrefix(srv.URL, "http://"),
			Delay: func(int) time.Duration { return time.Millisecond },
		}, func(b *types.Batch) { received <- b })
	}()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	sent := &types.Batch{ID: uuid.New(), DeviceID: "meter-1", Mode: types.ModeD, Valid: true}
	require.NoError(t, hub.Emit(ctx, sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "meter-1", got.DeviceID)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch received")
	}

	cancel()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerGivesUp(t *testing.T) {
	srv := httptest.NewServer(nil)
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	attempts := 0
	err := StartListener(context.Background(), ListenerOptions{
		Host:       host,
		MaxRetries: 3,
		Delay: func(int) time.Duration {
			attempts++
			return time.Millisecond
		},
	}, func(*types.Batch) {})

	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestListenerURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:9039/ws", ListenerOptions{Host: "localhost:9039"}.url())
	assert.Equal(t, "wss://reader.lan/ws", ListenerOptions{Host: "reader.lan", TLSEnabled: true}.url())
}
