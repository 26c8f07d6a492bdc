package types

import (
	"testing"
	"time"

	"github.com/NotCoffee418/iec62056_reader/pkg/esmutils"
	"github.com/NotCoffee418/iec62056_reader/pkg/obis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchJson(t *testing.T) {
	value := esmutils.MustParseDecimal("000123.456")
	batch := &Batch{
		ID:         uuid.New(),
		DeviceID:   "ESY5Q3D",
		Mode:       ModeD,
		ReceivedAt: time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC),
		Valid:      true,
		Records: []MeasurementRecord{{
			Code:   obis.MustParse("1-0:1.8.0"),
			Value:  &value,
			Unit:   "kWh",
			Label:  "active_energy_import_total",
			Mapped: true,
		}},
	}

	data := batch.ToJsonBytes()
	require.NotNil(t, data)
	assert.Contains(t, string(data), `"value":"123.456"`)
	assert.Contains(t, string(data), `"code":"1-0:1.8.0"`)
	assert.Contains(t, string(data), `"mode":"D"`)

	back := BatchFromJsonBytes(data)
	require.NotNil(t, back)
	assert.Equal(t, batch.ID, back.ID)
	assert.Equal(t, ModeD, back.Mode)
	rec, ok := back.Record(obis.MustParse("1-0:1.8.0"))
	require.True(t, ok)
	assert.Equal(t, "123.456", rec.Value.String())

	assert.Nil(t, BatchFromJsonBytes([]byte(`{"device_id":"x"}`)))
	assert.Nil(t, BatchFromJsonBytes([]byte(`nope`)))
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"A": ModeA, "b": ModeB, "Mode C": ModeC, " d ": ModeD} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("E")
	assert.Error(t, err)
	assert.True(t, ModeC.Bidirectional())
	assert.False(t, ModeD.Bidirectional())
}
