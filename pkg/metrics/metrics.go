// Package metrics exposes acquisition counters for the /metrics endpoint.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	telegrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iec62056",
			Subsystem: "telegram",
			Name:      "total",
			Help:      "Framed telegrams by checksum validity.",
		},
		[]string{"device", "profile", "valid"},
	)
	records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iec62056",
			Subsystem: "telegram",
			Name:      "records_total",
			Help:      "Decoded measurement records.",
		},
		[]string{"device"},
	)
	skippedLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iec62056",
			Subsystem: "telegram",
			Name:      "skipped_lines_total",
			Help:      "Data lines skipped for a malformed code or value.",
		},
		[]string{"device"},
	)
	acquisitionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iec62056",
			Subsystem: "session",
			Name:      "errors_total",
			Help:      "Failed acquisitions by error kind.",
		},
		[]string{"device", "kind"},
	)
	acquisitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "iec62056",
			Subsystem: "session",
			Name:      "acquisition_duration_seconds",
			Help:      "Time from request to complete telegram.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"device", "mode"},
	)
	baudRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "iec62056",
			Subsystem: "session",
			Name:      "baud_rate",
			Help:      "Current line speed of the session port.",
		},
		[]string{"device"},
	)
	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "iec62056",
			Subsystem: "emitter",
			Name:      "websocket_clients",
			Help:      "Connected websocket subscribers.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(telegrams, records, skippedLines, acquisitionErrors, acquisitionDuration, baudRate, wsClients)
	})
}

func RecordTelegram(device, profile string, valid bool, recordCount, skipped int) {
	RegisterMetrics()
	telegrams.WithLabelValues(device, profile, strconv.FormatBool(valid)).Inc()
	records.WithLabelValues(device).Add(float64(recordCount))
	skippedLines.WithLabelValues(device).Add(float64(skipped))
}

func RecordAcquisitionError(device, kind string) {
	RegisterMetrics()
	acquisitionErrors.WithLabelValues(device, kind).Inc()
}

func ObserveAcquisition(device, mode string, duration time.Duration) {
	RegisterMetrics()
	acquisitionDuration.WithLabelValues(device, mode).Observe(duration.Seconds())
}

func SetBaudRate(device string, baud uint) {
	RegisterMetrics()
	baudRate.WithLabelValues(device).Set(float64(baud))
}

func SetWebsocketClients(n int) {
	RegisterMetrics()
	wsClients.Set(float64(n))
}
