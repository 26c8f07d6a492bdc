// Meter collector subscribes to the interpreter API and prints every batch.
// Depends on the interpreter API being online.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/iec62056_reader/pkg/config"
	"github.com/NotCoffee418/iec62056_reader/pkg/interpreter"
	"github.com/NotCoffee418/iec62056_reader/pkg/logging"
	"github.com/NotCoffee418/iec62056_reader/pkg/types"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := config.LoadCollectorConfig(); err != nil {
		logging.InitLogger("meter_collector", "info")
		log.Fatal().Err(err).Msg("failed to load collector config")
	}
	cfg := config.ActiveCollectorConfig
	logging.InitLogger("meter_collector", cfg.LogLevel)

	// INTERPRETER_API_HOST wins over the config file
	host := os.Getenv("INTERPRETER_API_HOST")
	if host == "" {
		host = cfg.InterpreterAPIHost
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := interpreter.StartListener(ctx, interpreter.ListenerOptions{
		Host:       host,
		TLSEnabled: cfg.TLSEnabled,
	}, handleBatch)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("listener stopped")
	}
}

// Handle batch data
func handleBatch(batch *types.Batch) {
	if !batch.Valid {
		log.Warn().Str("device", batch.DeviceID).Str("checksum", batch.ChecksumError).Msg("received batch with checksum mismatch")
	}
	fmt.Println(string(batch.ToJsonBytes()))
}
