// Interpreter API reads IEC 62056-21 meters and broadcasts the decoded batches.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/NotCoffee418/iec62056_reader/pkg/config"
	"github.com/NotCoffee418/iec62056_reader/pkg/decoder"
	"github.com/NotCoffee418/iec62056_reader/pkg/emitter"
	"github.com/NotCoffee418/iec62056_reader/pkg/logging"
	"github.com/NotCoffee418/iec62056_reader/pkg/metrics"
	"github.com/NotCoffee418/iec62056_reader/pkg/port_reader"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := config.LoadReaderConfig(); err != nil {
		logging.InitLogger("interpreter_api", "info")
		log.Fatal().Err(err).Msg("failed to load reader config")
	}
	cfg := config.ActiveReaderConfig
	logging.InitLogger("interpreter_api", cfg.LogLevel)
	metrics.RegisterMetrics()

	resolver, err := cfg.Resolver()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid device profiles")
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid timezone")
	}
	dec := decoder.New(nil, decoder.WithLocation(loc))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := emitter.NewHub()
	queue := emitter.NewChannel(cfg.EmitQueueSize)
	go func() {
		if err := queue.Consume(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("batch delivery stopped")
		}
	}()

	var wg sync.WaitGroup
	for _, sc := range cfg.Sessions {
		sessionCfg := sc.Session()
		serialOpts := sc.Serial()
		sup := &supervisor{
			open: func() (runner, error) {
				session, err := port_reader.Open(serialOpts, resolver, dec, sessionCfg)
				if err != nil {
					return nil, err
				}
				return session, nil
			},
			out:       queue,
			baseDelay: orDefault(sc.RetryBaseDelay.Duration, 2*time.Second),
			maxDelay:  orDefault(sc.RetryMaxDelay.Duration, 60*time.Second),
			logger:    logging.Component("supervisor").With().Str("device", sessionCfg.Name).Logger(),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.run(ctx)
		}()
		log.Info().Str("device", sessionCfg.Name).Str("serial", serialOpts.Device).
			Stringer("mode", sessionCfg.Mode).Msg("session started")
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: newMux(hub),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("listen", srv.Addr).Msg("starting IEC 62056-21 interpreter API")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server failed")
	}

	wg.Wait()
	queue.Close()
	log.Info().Msg("stopped")
}

func newMux(hub *emitter.Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{
			"message": "IEC 62056-21 Meter API",
			"status":  "running",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})
	mux.HandleFunc("/latest", hub.LatestHandler)
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
