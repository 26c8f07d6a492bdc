package config

import (
	"time"

	"github.com/NotCoffee418/iec62056_reader/pkg/types"
)

// Duration reads TOML strings such as "5s" or "300ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type CollectorConfig struct {
	InterpreterAPIHost string `toml:"interpreter_api_host"`
	TLSEnabled         bool   `toml:"tls_enabled"`
	LogLevel           string `toml:"log_level"`
}

type ReaderConfig struct {
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`
	LogLevel      string `toml:"log_level"`
	// EmitQueueSize is how many batches may wait for websocket delivery.
	EmitQueueSize int `toml:"emit_queue_size"`
	// Timezone of meter timestamps, empty means the host zone.
	Timezone string `toml:"timezone"`

	Sessions []SessionConfig `toml:"session"`
	Profiles []ProfileConfig `toml:"profile"`
}

// SessionConfig is one meter on one serial line.
type SessionConfig struct {
	Name         string     `toml:"name"`
	SerialDevice string     `toml:"serial_device"`
	DeviceID     string     `toml:"device_id"`
	Mode         types.Mode `toml:"mode"`
	Baudrate     uint       `toml:"baudrate"`
	MaxBaud      uint       `toml:"max_baud"`
	// Framing is 7E1 or 8N1
	Framing string `toml:"framing"`
	Address string `toml:"address"`

	IdentificationTimeout Duration `toml:"identification_timeout"`
	DataTimeout           Duration `toml:"data_timeout"`
	AckSettle             Duration `toml:"ack_settle"`
	PollInterval          Duration `toml:"poll_interval"`

	MaxTelegramBytes int `toml:"max_telegram_bytes"`
	MaxTelegramLines int `toml:"max_telegram_lines"`

	RetryBaseDelay Duration `toml:"retry_base_delay"`
	RetryMaxDelay  Duration `toml:"retry_max_delay"`
}

// ProfileConfig adds a device profile, or extends the built-in one with the same name.
type ProfileConfig struct {
	Name         string           `toml:"name"`
	Manufacturer string           `toml:"manufacturer"`
	Aliases      []string         `toml:"aliases"`
	Modes        []types.Mode     `toml:"modes"`
	MaxBaud      uint             `toml:"max_baud"`
	Checksum     string           `toml:"checksum"`
	Encoding     string           `toml:"encoding"`
	Overrides    []OverrideConfig `toml:"override"`
}

type OverrideConfig struct {
	Code    string   `toml:"code"`
	Label   string   `toml:"label"`
	Unit    string   `toml:"unit"`
	Rescale int32    `toml:"rescale"`
	Route   string   `toml:"route"`
	Models  []string `toml:"models"`
}
