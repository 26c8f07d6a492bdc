package esmutils

import (
	"encoding/json"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimalKeepsDigits(t *testing.T) {
	d, err := ParseDecimal("000123.456")
	require.NoError(t, err)
	assert.Equal(t, "123.456", d.String())
	assert.Equal(t, "000123.456", d.Format())
	assert.Equal(t, int32(3), d.Scale())

	d, err = ParseDecimal("001.230")
	require.NoError(t, err)
	assert.Equal(t, "1.230", d.String())
	assert.True(t, d.Equal(MustParseDecimal("1.23")))
}

func TestParseDecimalRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "-", "+", ".5", "5.", "1.2.3", "12a", "1e5", "0x10", " 1", "1,5"} {
		_, err := ParseDecimal(s)
		assert.ErrorIs(t, err, ErrInvalidDecimal, s)
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	fixed := []string{
		"0", "00", "0.0", "-0.000", "+12.5", "-000012.50", "999999999999999999999.999999999",
		"000123.456", "001.234", "50.0", "1", "0000000000",
	}
	for _, s := range fixed {
		d, err := ParseDecimal(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, d.Format())
	}

	rng := rand.New(rand.NewSource(62056))
	for i := 0; i < 2000; i++ {
		s := randomDecimalString(rng)
		d, err := ParseDecimal(s)
		require.NoError(t, err, s)
		require.Equal(t, s, d.Format())
	}
}

func randomDecimalString(rng *rand.Rand) string {
	var sb strings.Builder
	switch rng.Intn(4) {
	case 0:
		sb.WriteByte('-')
	case 1:
		sb.WriteByte('+')
	}
	writeDigits(&sb, rng, 1+rng.Intn(20))
	if rng.Intn(3) > 0 {
		sb.WriteByte('.')
		writeDigits(&sb, rng, 1+rng.Intn(12))
	}
	return sb.String()
}

func writeDigits(sb *strings.Builder, rng *rand.Rand, n int) {
	for i := 0; i < n; i++ {
		sb.WriteByte(byte('0' + rng.Intn(10)))
	}
}

func TestDecimalShift(t *testing.T) {
	d := MustParseDecimal("000123.456")
	assert.Equal(t, "123456", d.Shift(3).String())
	assert.Equal(t, "0.123456", d.Shift(-3).String())
	assert.Equal(t, "12.3456", d.Shift(-1).String())
	assert.Equal(t, d, d.Shift(0))
}

func TestDecimalJSON(t *testing.T) {
	d := MustParseDecimal("0012.340")
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"12.340"`, string(data))

	var back Decimal
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, d.Equal(back))
	assert.Equal(t, "12.340", back.String())
}
