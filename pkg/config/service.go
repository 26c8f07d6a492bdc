package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/iec62056_reader/pkg/pathing"
	"github.com/NotCoffee418/iec62056_reader/pkg/port_reader"
	"github.com/NotCoffee418/iec62056_reader/pkg/profile"
	"github.com/NotCoffee418/iec62056_reader/pkg/telegram"
	"github.com/NotCoffee418/iec62056_reader/pkg/types"
)

const (
	ReaderConfigFile    = "iec_reader.toml"
	CollectorConfigFile = "meter_collector.toml"
)

var (
	ActiveReaderConfig    *ReaderConfig
	ActiveCollectorConfig *CollectorConfig
)

var ErrInvalidConfig = errors.New("invalid config")

func DefaultReaderConfig() *ReaderConfig {
	return &ReaderConfig{
		ListenAddress: "0.0.0.0",
		ListenPort:    9039,
		LogLevel:      "info",
		EmitQueueSize: 16,
		Sessions: []SessionConfig{{
			Name:                  "main",
			SerialDevice:          "/dev/ttyUSB0",
			Mode:                  types.ModeD,
			Baudrate:              9600,
			Framing:               "7E1",
			IdentificationTimeout: Duration{port_reader.DefaultIdentificationTimeout},
			DataTimeout:           Duration{port_reader.DefaultDataTimeout},
			AckSettle:             Duration{port_reader.DefaultAckSettle},
			PollInterval:          Duration{10 * time.Second},
			MaxTelegramBytes:      4096,
			MaxTelegramLines:      128,
			RetryBaseDelay:        Duration{2 * time.Second},
			RetryMaxDelay:         Duration{60 * time.Second},
		}},
	}
}

func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		InterpreterAPIHost: "localhost:9039",
		TLSEnabled:         false,
		LogLevel:           "info",
	}
}

func LoadReaderConfig() error {
	cfg, err := LoadReaderConfigFrom(pathing.GetConfigPath(ReaderConfigFile))
	if err != nil {
		return err
	}
	ActiveReaderConfig = cfg
	return nil
}

func LoadCollectorConfig() error {
	cfg := DefaultCollectorConfig()
	if err := loadOrCreate(pathing.GetConfigPath(CollectorConfigFile), cfg); err != nil {
		return err
	}
	ActiveCollectorConfig = cfg
	return nil
}

// LoadReaderConfigFrom reads path, writing the defaults there first if it does not exist.
func LoadReaderConfigFrom(path string) (*ReaderConfig, error) {
	cfg := DefaultReaderConfig()
	exists, err := fileExists(path)
	if err != nil {
		return nil, err
	}
	if exists {
		// Sessions from the file replace the default one
		cfg.Sessions = nil
	}
	if err := loadOrCreate(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// loadOrCreate decodes path into cfg, or writes cfg to path when it is missing.
func loadOrCreate(path string, cfg any) error {
	exists, err := fileExists(path)
	if err != nil {
		return err
	}
	if !exists {
		if err := pathing.EnsureDir(pathing.GetConfigDir()); err != nil {
			return err
		}
		cfgFile, err := os.Create(path)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		return toml.NewEncoder(cfgFile).Encode(cfg)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *ReaderConfig) Validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("%w: listen_port %d", ErrInvalidConfig, c.ListenPort)
	}
	if len(c.Sessions) == 0 {
		return fmt.Errorf("%w: no [[session]] configured", ErrInvalidConfig)
	}
	names := map[string]bool{}
	for i, s := range c.Sessions {
		if s.SerialDevice == "" {
			return fmt.Errorf("%w: session %d has no serial_device", ErrInvalidConfig, i)
		}
		switch strings.ToUpper(s.Framing) {
		case "", "7E1", "8N1":
		default:
			return fmt.Errorf("%w: session %d framing %q", ErrInvalidConfig, i, s.Framing)
		}
		name := s.displayName()
		if names[name] {
			return fmt.Errorf("%w: duplicate session %q", ErrInvalidConfig, name)
		}
		names[name] = true
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.ProfileDefinitions(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Location is the zone meter timestamps are read in.
func (c *ReaderConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func (c *ReaderConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.ListenPort)
}

func (c *ReaderConfig) ProfileDefinitions() ([]profile.Definition, error) {
	defs := make([]profile.Definition, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		def, err := p.Definition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Resolver extends the built-in profiles with the configured ones.
func (c *ReaderConfig) Resolver() (*profile.Resolver, error) {
	defs, err := c.ProfileDefinitions()
	if err != nil {
		return nil, err
	}
	return profile.DefaultResolver().Extend(defs...)
}

func (s SessionConfig) displayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.DeviceID != "" {
		return s.DeviceID
	}
	return s.SerialDevice
}

func (s SessionConfig) Session() port_reader.SessionConfig {
	return port_reader.SessionConfig{
		Name:                  s.displayName(),
		DeviceID:              s.DeviceID,
		Mode:                  s.Mode,
		DefaultBaud:           s.Baudrate,
		MaxBaud:               s.MaxBaud,
		Address:               s.Address,
		IdentificationTimeout: s.IdentificationTimeout.Duration,
		DataTimeout:           s.DataTimeout.Duration,
		AckSettle:             s.AckSettle.Duration,
		PollInterval:          s.PollInterval.Duration,
		MaxTelegramBytes:      s.MaxTelegramBytes,
		MaxTelegramLines:      s.MaxTelegramLines,
	}
}

// Serial returns the options the port is opened with. The baud rate matches
// the session default so a session never starts with a switch.
func (s SessionConfig) Serial() port_reader.SerialOptions {
	baud := s.Session().Normalized().DefaultBaud
	return port_reader.SerialOptions{
		Device:   s.SerialDevice,
		BaudRate: baud,
		Framing:  strings.ToUpper(s.Framing),
	}
}

func (p ProfileConfig) Definition() (profile.Definition, error) {
	name := p.Name
	if name == "" {
		name = strings.ToLower(p.Manufacturer)
	}
	def := profile.Definition{
		Name:      name,
		Modes:     p.Modes,
		MaxBaud:   p.MaxBaud,
		Overrides: map[string][]profile.Override{},
	}
	if name == "" {
		return def, fmt.Errorf("profile without name or manufacturer")
	}
	for _, m := range append([]string{p.Manufacturer}, p.Aliases...) {
		if m != "" {
			def.Manufacturers = append(def.Manufacturers, m)
		}
	}

	if p.Checksum != "" {
		checksum, err := telegram.ChecksumByName(p.Checksum)
		if err != nil {
			return def, fmt.Errorf("profile %s: %w", name, err)
		}
		def.Checksum = checksum
	}
	encoding, err := profile.ParseEncoding(p.Encoding)
	if err != nil {
		return def, fmt.Errorf("profile %s: %w", name, err)
	}
	def.Encoding = encoding

	for _, o := range p.Overrides {
		if o.Code == "" {
			return def, fmt.Errorf("profile %s: override without code", name)
		}
		route, err := profile.ParseRoute(o.Route)
		if err != nil {
			return def, fmt.Errorf("profile %s: %w", name, err)
		}
		def.Overrides[o.Code] = append(def.Overrides[o.Code], profile.Override{
			Label:   o.Label,
			Unit:    o.Unit,
			Rescale: o.Rescale,
			Route:   route,
			Models:  o.Models,
		})
	}
	// New rejects bad codes and manufacturer letters
	if _, err := profile.New(def); err != nil {
		return def, err
	}
	return def, nil
}
