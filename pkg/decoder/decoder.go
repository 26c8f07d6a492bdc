// Package decoder turns parsed telegram lines into labelled measurement records,
// consulting the OBIS registry and the resolved device profile.
package decoder

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NotCoffee418/iec62056_reader/pkg/esmutils"
	"github.com/NotCoffee418/iec62056_reader/pkg/logging"
	"github.com/NotCoffee418/iec62056_reader/pkg/obis"
	"github.com/NotCoffee418/iec62056_reader/pkg/profile"
	"github.com/NotCoffee418/iec62056_reader/pkg/telegram"
	"github.com/NotCoffee418/iec62056_reader/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"
)

// timestampLayout is YYMMDDhhmmss, optionally followed by the S/W season letter.
const timestampLayout = "060102150405"

// deviceIDCodes are consulted in order when no device id is configured.
var deviceIDCodes = []obis.Code{
	obis.MustParse("0-0:96.1.0"),
	obis.MustParse("0-0:96.1.255"),
	obis.MustParse("1-0:96.1.0"),
	obis.MustParse("1-0:0.0.0"),
	obis.MustParse("0-0:0.0.0"),
}

// Source describes where a telegram came from.
type Source struct {
	Mode types.Mode
	// DeviceID wins over anything found in the telegram.
	DeviceID string
}

type Decoder struct {
	registry *obis.Registry
	location *time.Location
	logger   zerolog.Logger
	newID    func() uuid.UUID
}

type Option func(*Decoder)

// WithLocation sets the zone meter clocks are read in. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(d *Decoder) { d.location = loc }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Decoder) { d.logger = logger }
}

// New builds a decoder around a shared registry. A nil registry means the default one.
func New(registry *obis.Registry, opts ...Option) *Decoder {
	if registry == nil {
		registry = obis.DefaultRegistry()
	}
	d := &Decoder{
		registry: registry,
		location: time.Local,
		logger:   logging.Component("decoder"),
		newID:    uuid.New,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode builds the batch for one telegram. It never fails: lines that cannot be
// decoded are listed in Batch.Skipped and the rest are kept.
func (d *Decoder) Decode(tel *telegram.Telegram, prof *profile.Profile, src Source) *types.Batch {
	receivedAt := tel.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	batch := &types.Batch{
		ID:           d.newID(),
		Manufacturer: tel.Identification.Manufacturer,
		Model:        tel.Identification.Model,
		Profile:      prof.Name(),
		Mode:         src.Mode,
		ReceivedAt:   receivedAt,
		RawLength:    tel.RawLength,
		Valid:        tel.Valid,
		Records:      make([]types.MeasurementRecord, 0, len(tel.Lines)),
	}
	if tel.ChecksumErr != nil {
		batch.ChecksumError = tel.ChecksumErr.Error()
	}
	for _, skipped := range tel.Skipped {
		batch.Skipped = append(batch.Skipped, types.LineError{
			Line:   skipped.Line,
			Text:   skipped.Text,
			Reason: skipped.Err.Error(),
		})
	}

	for _, line := range tel.Lines {
		records, err := d.decodeLine(line, prof, tel.Identification.Model)
		if err != nil {
			d.logger.Debug().Int("line", line.Number).Str("code", line.Code.String()).Err(err).Msg("skipping data line")
			batch.Skipped = append(batch.Skipped, types.LineError{
				Line:   line.Number,
				Text:   line.Code.String(),
				Reason: err.Error(),
			})
			continue
		}
		batch.Records = append(batch.Records, records...)
	}

	batch.DeviceID = deviceID(src.DeviceID, batch.Records, tel.Identification)
	for i := range batch.Records {
		batch.Records[i].DeviceID = batch.DeviceID
		batch.Records[i].TelegramTime = receivedAt
	}

	if !batch.Valid {
		d.logger.Warn().Str("device", batch.DeviceID).Str("checksum", tel.Checksum).Msg(batch.ChecksumError)
	}
	return batch
}

// decodeLine yields one record per value group, or a single record for a
// timestamp/value capture pair.
func (d *Decoder) decodeLine(line telegram.DataLine, prof *profile.Profile, model string) ([]types.MeasurementRecord, error) {
	entry, mapped := d.registry.Lookup(line.Code)
	override, overridden := prof.Override(line.Code, model)

	base := types.MeasurementRecord{
		Code:   line.Code,
		Label:  obis.LabelUnmapped,
		Mapped: mapped,
	}
	scale := int32(0)
	if mapped {
		base.Label = entry.Label
		base.Unit = entry.Unit
		scale = entry.Scale
	}
	route := routeForKind(entry.Kind, mapped)
	if overridden {
		if override.Label != "" {
			base.Label = override.Label
			base.Mapped = true
		}
		scale += override.Rescale
		if override.Route != profile.RouteDefault {
			route = override.Route
		}
	}

	groups := line.Groups
	if len(groups) == 2 && route != profile.RouteTimestamp && isTimestamp(groups[0].Value, true) {
		captured, dst, err := d.parseTimestamp(groups[0].Value)
		if err != nil {
			return nil, err
		}
		record := base
		if err := d.decodeGroup(&record, groups[1], route, scale, prof.Encoding()); err != nil {
			return nil, err
		}
		record.Unit = pickUnit(override.Unit, groups[1].Unit, base.Unit)
		record.CapturedAt = &captured
		if record.DST == types.DSTNone {
			record.DST = dst
		}
		return []types.MeasurementRecord{record}, nil
	}

	records := make([]types.MeasurementRecord, 0, len(groups))
	for i, group := range groups {
		record := base
		if len(groups) > 1 {
			record.Group = i
		}
		if err := d.decodeGroup(&record, group, route, scale, prof.Encoding()); err != nil {
			return nil, err
		}
		record.Unit = pickUnit(override.Unit, group.Unit, base.Unit)
		records = append(records, record)
	}
	return records, nil
}

// routeForKind is the route a registry kind implies. Unmapped codes are auto-detected.
func routeForKind(kind obis.Kind, mapped bool) profile.Route {
	if !mapped {
		return profile.RouteDefault
	}
	switch kind {
	case obis.KindTimestamp:
		return profile.RouteTimestamp
	case obis.KindText:
		return profile.RouteText
	default:
		return profile.RouteDecimal
	}
}

// pickUnit prefers a vendor override, then the unit the meter sent, then the registry's.
func pickUnit(override, embedded, registry string) string {
	switch {
	case override != "":
		return override
	case embedded != "":
		return embedded
	}
	return registry
}

func (d *Decoder) decodeGroup(record *types.MeasurementRecord, group telegram.ValueGroup, route profile.Route, scale int32, enc profile.Encoding) error {
	if route == profile.RouteDefault {
		switch {
		case isTimestamp(group.Value, true):
			route = profile.RouteTimestamp
		case isDecimal(group.Value):
			route = profile.RouteDecimal
		default:
			route = profile.RouteText
		}
	}

	switch route {
	case profile.RouteDecimal:
		value, err := esmutils.ParseDecimal(group.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", telegram.ErrMalformedValue, err)
		}
		value = value.Shift(scale)
		record.Kind = obis.KindNumeric
		record.Value = &value

	case profile.RouteTimestamp:
		ts, dst, err := d.parseTimestamp(group.Value)
		if err != nil {
			return err
		}
		record.Kind = obis.KindTimestamp
		record.Time = &ts
		record.DST = dst

	case profile.RouteText:
		text, err := decodeText(group.Value, enc)
		if err != nil {
			return err
		}
		record.Kind = obis.KindText
		record.Text = text

	case profile.RouteHexText:
		record.Kind = obis.KindText
		raw, err := hex.DecodeString(group.Value)
		if err != nil {
			// Some firmware sends the id in plain text after all.
			record.Text = group.Value
			return nil
		}
		text, err := decodeText(string(raw), enc)
		if err != nil {
			return err
		}
		record.Text = strings.TrimRight(text, "\x00 ")

	case profile.RouteHexWord:
		word, err := strconv.ParseUint(group.Value, 16, 64)
		if err != nil {
			return fmt.Errorf("%w: status word %q", telegram.ErrMalformedValue, group.Value)
		}
		value := esmutils.MustParseDecimal(strconv.FormatUint(word, 10))
		record.Kind = obis.KindNumeric
		record.Value = &value
		record.Text = strings.ToUpper(group.Value)

	default:
		return fmt.Errorf("%w: unknown route %d", telegram.ErrMalformedValue, route)
	}
	return nil
}

// isTimestamp matches YYMMDDhhmmss with an optional season letter.
// With needFlag only the lettered form matches.
func isTimestamp(s string, needFlag bool) bool {
	switch len(s) {
	case len(timestampLayout):
		if needFlag {
			return false
		}
	case len(timestampLayout) + 1:
		if s[len(s)-1] != 'S' && s[len(s)-1] != 'W' {
			return false
		}
		s = s[:len(s)-1]
	default:
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isDecimal(s string) bool {
	_, err := esmutils.ParseDecimal(s)
	return err == nil
}

func (d *Decoder) parseTimestamp(s string) (time.Time, types.DSTFlag, error) {
	if !isTimestamp(s, false) {
		return time.Time{}, types.DSTNone, fmt.Errorf("%w: timestamp %q", telegram.ErrMalformedValue, s)
	}
	dst := types.DSTNone
	if len(s) == len(timestampLayout)+1 {
		dst = types.DSTFlag(s[len(s)-1:])
		s = s[:len(s)-1]
	}
	ts, err := time.ParseInLocation(timestampLayout, s, d.location)
	if err != nil {
		return time.Time{}, types.DSTNone, fmt.Errorf("%w: timestamp %q: %v", telegram.ErrMalformedValue, s, err)
	}
	return ts, dst, nil
}

func decodeText(s string, enc profile.Encoding) (string, error) {
	if enc != profile.EncodingLatin1 {
		return s, nil
	}
	text, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return "", fmt.Errorf("%w: latin-1 text: %v", telegram.ErrMalformedValue, err)
	}
	return text, nil
}

// deviceID prefers the configured id, then identifier codes in the telegram,
// then manufacturer and model.
func deviceID(configured string, records []types.MeasurementRecord, ident telegram.Identification) string {
	if configured != "" {
		return configured
	}
	for _, code := range deviceIDCodes {
		for _, r := range records {
			if r.Code.WithoutStorage() == code && r.Kind == obis.KindText && strings.TrimSpace(r.Text) != "" {
				return strings.TrimSpace(r.Text)
			}
		}
	}
	return ident.DeviceName()
}
