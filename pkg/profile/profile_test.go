package profile

import (
	"testing"

	"github.com/NotCoffee418/iec62056_reader/pkg/obis"
	"github.com/NotCoffee418/iec62056_reader/pkg/telegram"
	"github.com/NotCoffee418/iec62056_reader/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKnownManufacturers(t *testing.T) {
	r := DefaultResolver()

	for _, code := range []string{"ESY", "EAS", "esy"} {
		p, ok := r.Resolve(code)
		assert.True(t, ok, code)
		assert.Equal(t, "easymeter", p.Name())
		assert.Equal(t, "bcc", p.Checksum().Name())
		assert.Equal(t, uint(9600), p.MaxBaud())
	}

	p, ok := r.Resolve("EBZ")
	assert.True(t, ok)
	assert.Equal(t, "ebz", p.Name())
	assert.False(t, p.Generic())
}

func TestResolveFallsBackToGeneric(t *testing.T) {
	p, ok := DefaultResolver().Resolve("XYZ")
	assert.False(t, ok)
	require.NotNil(t, p)
	assert.True(t, p.Generic())
	assert.Equal(t, GenericName, p.Name())
	assert.True(t, p.Supports(types.ModeC))
	assert.True(t, p.Supports(types.ModeD))
	assert.False(t, p.Supports(types.ModeA))
	assert.False(t, p.Supports(types.ModeB))

	_, found := p.Override(obis.MustParse("1-0:1.8.0"), "ANY")
	assert.False(t, found)
}

func TestOverrideModelPrefix(t *testing.T) {
	p := EBZ()

	o, ok := p.Override(obis.MustParse("1-0:1.8.0"), "DD3BZ06ETA_SMZ1")
	require.True(t, ok)
	assert.Equal(t, "kWh", o.Unit)
	assert.Equal(t, int32(-3), o.Rescale)

	_, ok = p.Override(obis.MustParse("1-0:1.8.0"), "DD3BL10-112")
	assert.False(t, ok)

	// Storage and short form still match.
	o, ok = p.Override(obis.MustParse("1-0:96.5.0*255"), "DD3BL10-112")
	require.True(t, ok)
	assert.Equal(t, RouteHexWord, o.Route)
	o, ok = p.Override(obis.MustParse("15.8.0"), "DD3BL10-112")
	require.True(t, ok)
	assert.Equal(t, "absolute_energy_total", o.Label)
}

func TestEasyMeterHexRoutes(t *testing.T) {
	p := EasyMeter()

	o, ok := p.Override(obis.MustParse("1-0:96.1.0"), "Q3A")
	require.True(t, ok)
	assert.Equal(t, RouteHexText, o.Route)

	_, ok = p.Override(obis.MustParse("1-0:96.1.0"), `Q3D\@V5.3`)
	assert.False(t, ok)

	o, ok = p.Override(obis.MustParse("1-0:96.5.5"), `Q3D\@V5.3`)
	require.True(t, ok)
	assert.Equal(t, RouteHexWord, o.Route)
}

func TestNewRejectsBadDefinitions(t *testing.T) {
	_, err := New(Definition{})
	assert.Error(t, err)

	_, err = New(Definition{Name: "x", Manufacturers: []string{"TOOLONG"}})
	assert.Error(t, err)

	_, err = New(Definition{Name: "x", Overrides: map[string][]Override{"not-a-code": {{Unit: "W"}}}})
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	p, err := New(Definition{Name: "x", Manufacturers: []string{"abc"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC"}, p.Manufacturers())
	assert.Equal(t, []types.Mode{types.ModeC, types.ModeD}, p.Modes())
	assert.Equal(t, "auto", p.Checksum().Name())
	assert.Equal(t, telegram.ModeCBaudTable.Name(), p.BaudTable().Name())
	assert.Equal(t, EncodingASCII, p.Encoding())
}

func TestExtendMergesAndAdds(t *testing.T) {
	base := DefaultResolver()
	r, err := base.Extend(
		Definition{
			Name:      "ebz",
			MaxBaud:   4800,
			Checksum:  telegram.CRC16,
			Overrides: map[string][]Override{"1-0:1.8.0": {{Label: "import_total"}}},
		},
		Definition{
			Name:          "iskra",
			Manufacturers: []string{"ISK"},
			Modes:         []types.Mode{types.ModeA, types.ModeC},
			Encoding:      EncodingLatin1,
		},
	)
	require.NoError(t, err)

	ebz, ok := r.Resolve("EBZ")
	require.True(t, ok)
	assert.Equal(t, uint(4800), ebz.MaxBaud())
	assert.Equal(t, "crc16", ebz.Checksum().Name())
	o, ok := ebz.Override(obis.MustParse("1-0:1.8.0"), "DD3BZ06")
	require.True(t, ok)
	assert.Equal(t, "import_total", o.Label)
	o, ok = ebz.Override(obis.MustParse("1-0:96.5.0"), "DD3BZ06")
	require.True(t, ok)
	assert.Equal(t, RouteHexWord, o.Route)

	isk, ok := r.Resolve("ISK")
	require.True(t, ok)
	assert.True(t, isk.Supports(types.ModeA))
	assert.Equal(t, EncodingLatin1, isk.Encoding())

	// The base resolver is untouched.
	old, _ := base.Resolve("EBZ")
	assert.Equal(t, uint(9600), old.MaxBaud())
	_, ok = base.Resolve("ISK")
	assert.False(t, ok)

	_, err = base.Extend(Definition{Name: "nothing"})
	assert.Error(t, err)
}

func TestParseRouteAndEncoding(t *testing.T) {
	r, err := ParseRoute("hex_word")
	require.NoError(t, err)
	assert.Equal(t, RouteHexWord, r)
	_, err = ParseRoute("bogus")
	assert.Error(t, err)

	e, err := ParseEncoding("ISO-8859-1")
	require.NoError(t, err)
	assert.Equal(t, EncodingLatin1, e)
	_, err = ParseEncoding("utf-16")
	assert.Error(t, err)
}

func TestExtendKeepsCodePrecedence(t *testing.T) {
	first, err := New(Definition{Name: "first", Manufacturers: []string{"ABC"}})
	require.NoError(t, err)
	second, err := New(Definition{Name: "second", Manufacturers: []string{"ABC", "DEF"}})
	require.NoError(t, err)
	base := NewResolver(first, second)

	for i := 0; i < 50; i++ {
		r, err := base.Extend(Definition{Name: "first", MaxBaud: 1200})
		require.NoError(t, err)

		p, ok := r.Resolve("ABC")
		require.True(t, ok)
		assert.Equal(t, "second", p.Name())
		p, ok = r.Resolve("DEF")
		require.True(t, ok)
		assert.Equal(t, "second", p.Name())
	}
}

func TestVendorLabelOverrides(t *testing.T) {
	cases := []struct {
		profile *Profile
		code    string
		label   string
	}{
		{EasyMeter(), "1-0:1.8.0", "total_energy_consumed"},
		{EasyMeter(), "1-0:2.8.0", "total_energy_delivered"},
		{EasyMeter(), "1-0:15.7.0", "current_power"},
		{EBZ(), "1-0:16.7.0", "sum_active_power"},
		{EBZ(), "1-0:36.7.0", "sum_reactive_power"},
	}
	for _, tc := range cases {
		o, ok := tc.profile.Override(obis.MustParse(tc.code), "")
		require.True(t, ok, tc.code)
		assert.Equal(t, tc.label, o.Label, tc.code)
	}
}
