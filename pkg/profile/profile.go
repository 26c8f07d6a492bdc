// Package profile resolves a manufacturer code to the device profile that decoding
// and acquisition follow. Profiles are immutable once built and shared across sessions.
package profile

import (
	"fmt"
	"strings"

	"github.com/NotCoffee418/iec62056_reader/pkg/obis"
	"github.com/NotCoffee418/iec62056_reader/pkg/telegram"
	"github.com/NotCoffee418/iec62056_reader/pkg/types"
)

// Encoding is how text values are encoded on the wire.
type Encoding uint8

const (
	EncodingASCII Encoding = iota
	EncodingLatin1
)

func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ascii":
		return EncodingASCII, nil
	case "latin1", "iso-8859-1":
		return EncodingLatin1, nil
	}
	return 0, fmt.Errorf("unknown encoding %q", s)
}

// Route overrides how the decoder reads a value group.
type Route uint8

const (
	// RouteDefault follows the registry kind.
	RouteDefault Route = iota
	RouteDecimal
	RouteTimestamp
	RouteText
	// RouteHexText is an ASCII string sent as hex digits.
	RouteHexText
	// RouteHexWord is a status register sent as hex digits.
	RouteHexWord
)

func ParseRoute(s string) (Route, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return RouteDefault, nil
	case "decimal":
		return RouteDecimal, nil
	case "timestamp":
		return RouteTimestamp, nil
	case "text":
		return RouteText, nil
	case "hex_text":
		return RouteHexText, nil
	case "hex_word":
		return RouteHexWord, nil
	}
	return 0, fmt.Errorf("unknown route %q", s)
}

// Override is a vendor quirk for one code. Empty fields keep the registry's choice.
type Override struct {
	Label string
	Unit  string
	// Rescale is added to the registry scale, as a power of ten.
	Rescale int32
	Route   Route
	// Models limits the override to identification models with one of these prefixes.
	Models []string
}

func (o Override) appliesTo(model string) bool {
	if len(o.Models) == 0 {
		return true
	}
	for _, prefix := range o.Models {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// Definition is the mutable input to New.
type Definition struct {
	Name          string
	Manufacturers []string
	Modes         []types.Mode
	BaudTable     telegram.BaudTable
	// MaxBaud caps mode C negotiation, zero means the table decides.
	MaxBaud   uint
	Encoding  Encoding
	Checksum  telegram.Checksum
	Overrides map[string][]Override
}

// Profile is the resolved, read-only form of a Definition.
type Profile struct {
	name          string
	manufacturers []string
	modes         []types.Mode
	baudTable     telegram.BaudTable
	maxBaud       uint
	encoding      Encoding
	checksum      telegram.Checksum
	overrides     map[obis.Code][]Override
	generic       bool
}

// New validates a definition and copies it into a Profile.
func New(def Definition) (*Profile, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("profile has no name")
	}
	p := &Profile{
		name:      def.Name,
		modes:     append([]types.Mode(nil), def.Modes...),
		baudTable: def.BaudTable,
		maxBaud:   def.MaxBaud,
		encoding:  def.Encoding,
		checksum:  def.Checksum,
		overrides: make(map[obis.Code][]Override, len(def.Overrides)),
	}
	if p.baudTable.Name() == "" {
		p.baudTable = telegram.ModeCBaudTable
	}
	if p.checksum == nil {
		p.checksum = telegram.AutoChecksum
	}
	if len(p.modes) == 0 {
		p.modes = []types.Mode{types.ModeC, types.ModeD}
	}
	for _, m := range def.Manufacturers {
		m = strings.ToUpper(strings.TrimSpace(m))
		if len(m) != 3 {
			return nil, fmt.Errorf("profile %s: manufacturer code %q is not three letters", def.Name, m)
		}
		p.manufacturers = append(p.manufacturers, m)
	}
	for text, overrides := range def.Overrides {
		code, err := obis.ParseCode(text)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", def.Name, err)
		}
		key := code.WithoutStorage()
		for _, o := range overrides {
			o.Models = append([]string(nil), o.Models...)
			p.overrides[key] = append(p.overrides[key], o)
		}
	}
	return p, nil
}

func mustNew(def Definition) *Profile {
	p, err := New(def)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Profile) Name() string                  { return p.name }
func (p *Profile) BaudTable() telegram.BaudTable { return p.baudTable }
func (p *Profile) MaxBaud() uint                 { return p.maxBaud }
func (p *Profile) Encoding() Encoding            { return p.encoding }
func (p *Profile) Checksum() telegram.Checksum   { return p.checksum }

// Generic reports the fallback profile.
func (p *Profile) Generic() bool { return p.generic }

func (p *Profile) Manufacturers() []string {
	return append([]string(nil), p.manufacturers...)
}

func (p *Profile) Modes() []types.Mode {
	return append([]types.Mode(nil), p.modes...)
}

func (p *Profile) Supports(m types.Mode) bool {
	for _, mode := range p.modes {
		if mode == m {
			return true
		}
	}
	return false
}

// Override returns the first override for code that applies to model.
// Short codes are matched as electricity 1-0.
func (p *Profile) Override(code obis.Code, model string) (Override, bool) {
	key := code.WithoutStorage()
	list, ok := p.overrides[key]
	if !ok && key.Short() {
		list = p.overrides[key.Qualified(1, 0)]
	}
	for _, o := range list {
		if o.appliesTo(model) {
			return o, true
		}
	}
	return Override{}, false
}

// merge returns a copy of p with the overrides and settings of def layered on top.
func (p *Profile) merge(def Definition) (*Profile, error) {
	extra, err := New(def)
	if err != nil {
		return nil, err
	}
	merged := *p
	merged.overrides = make(map[obis.Code][]Override, len(p.overrides)+len(extra.overrides))
	for code, list := range extra.overrides {
		merged.overrides[code] = append(merged.overrides[code], list...)
	}
	for code, list := range p.overrides {
		merged.overrides[code] = append(merged.overrides[code], list...)
	}
	if len(def.Modes) > 0 {
		merged.modes = extra.modes
	}
	if def.MaxBaud > 0 {
		merged.maxBaud = def.MaxBaud
	}
	if def.Checksum != nil {
		merged.checksum = def.Checksum
	}
	if def.Encoding != EncodingASCII {
		merged.encoding = def.Encoding
	}
	if len(extra.manufacturers) > 0 {
		merged.manufacturers = appendUnique(p.manufacturers, extra.manufacturers)
	}
	return &merged, nil
}

func appendUnique(base, more []string) []string {
	out := append([]string(nil), base...)
	for _, m := range more {
		found := false
		for _, b := range out {
			if b == m {
				found = true
				break
			}
		}
		if !found {
			out = append(out, m)
		}
	}
	return out
}
