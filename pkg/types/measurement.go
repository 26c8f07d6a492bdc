package types

import (
	"encoding/json"
	"time"

	"github.com/NotCoffee418/iec62056_reader/pkg/esmutils"
	"github.com/NotCoffee418/iec62056_reader/pkg/obis"
	"github.com/google/uuid"
)

// DSTFlag is the season letter that follows a meter timestamp.
type DSTFlag string

const (
	DSTNone   DSTFlag = ""
	DSTSummer DSTFlag = "S"
	DSTWinter DSTFlag = "W"
)

// MeasurementRecord is one decoded value group of a data line.
type MeasurementRecord struct {
	Code  obis.Code `json:"code"`
	Group int       `json:"group,omitempty"`

	// Value, Time or Text carries the reading, depending on Kind.
	// Status words carry both the numeric value and the hex text.
	Kind  obis.Kind         `json:"-"`
	Value *esmutils.Decimal `json:"value,omitempty"`
	Time  *time.Time        `json:"time,omitempty"`
	Text  string            `json:"text,omitempty"`

	// DST belongs to Time for timestamp records.
	DST DSTFlag `json:"dst,omitempty"`
	// CapturedAt is set when the meter paired the value with its own capture time.
	CapturedAt *time.Time `json:"captured_at,omitempty"`

	Unit   string `json:"unit,omitempty"`
	Label  string `json:"label"`
	Mapped bool   `json:"mapped"`

	TelegramTime time.Time `json:"telegram_time"`
	DeviceID     string    `json:"device_id"`
}

// LineError records a data line that was skipped.
type LineError struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// Batch is the ordered set of records of one framed telegram.
// It is emitted whole, never in parts.
type Batch struct {
	ID           uuid.UUID `json:"id"`
	DeviceID     string    `json:"device_id"`
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	Profile      string    `json:"profile"`
	Mode         Mode      `json:"mode"`
	ReceivedAt   time.Time `json:"received_at"`
	RawLength    int       `json:"raw_length"`

	// Valid is false when the checksum did not match. Records are still present.
	Valid         bool   `json:"valid"`
	ChecksumError string `json:"checksum_error,omitempty"`

	Records []MeasurementRecord `json:"records"`
	Skipped []LineError         `json:"skipped,omitempty"`
}

func (b *Batch) ToJsonBytes() []byte {
	data, err := json.Marshal(b)
	if err != nil {
		return nil
	}
	return data
}

// BatchFromJsonBytes returns nil when data is not a batch.
func BatchFromJsonBytes(data []byte) *Batch {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil
	}
	if b.ID == uuid.Nil {
		return nil
	}
	return &b
}

// Record returns the first record with the given code.
func (b *Batch) Record(code obis.Code) (MeasurementRecord, bool) {
	for _, r := range b.Records {
		if r.Code == code {
			return r, true
		}
	}
	return MeasurementRecord{}, false
}
