package telegram

import (
	"strings"
	"testing"

	"github.com/NotCoffee418/iec62056_reader/pkg/obis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleTelegram = "/ESY5Q3D\\@V5.3\r\n" +
	"0-0:1.0.0(210101120000W)\r\n" +
	"1-0:1.8.0(000123.456*kWh)\r\n" +
	"1-0:15.7.0(001.234*kW)\r\n" +
	"!\r\n"

func TestParseExampleTelegram(t *testing.T) {
	tel, err := Parse([]byte(exampleTelegram), Options{})
	require.NoError(t, err)

	assert.Equal(t, "ESY", tel.Identification.Manufacturer)
	assert.Equal(t, byte('5'), tel.Identification.BaudID)
	assert.Equal(t, `Q3D\@V5.3`, tel.Identification.Model)
	assert.True(t, tel.Valid)
	assert.False(t, tel.Checked)
	assert.Empty(t, tel.Skipped)
	assert.Equal(t, len(exampleTelegram), tel.RawLength)

	require.Len(t, tel.Lines, 3)
	assert.Equal(t, obis.MustParse("0-0:1.0.0"), tel.Lines[0].Code)
	assert.Equal(t, []ValueGroup{{Value: "210101120000W"}}, tel.Lines[0].Groups)
	assert.Equal(t, []ValueGroup{{Value: "000123.456", Unit: "kWh"}}, tel.Lines[1].Groups)
	assert.Equal(t, []ValueGroup{{Value: "001.234", Unit: "kW"}}, tel.Lines[2].Groups)
	assert.Equal(t, 3, tel.Lines[2].Number)
}

func TestParseMissingTerminator(t *testing.T) {
	raw := strings.TrimSuffix(exampleTelegram, "!\r\n")
	tel, err := Parse([]byte(raw), Options{})
	assert.Nil(t, tel)
	assert.ErrorIs(t, err, ErrFraming)
}

func TestParseMissingIdentification(t *testing.T) {
	_, err := Parse([]byte("1-0:1.8.0(1*kWh)\r\n!\r\n"), Options{})
	assert.ErrorIs(t, err, ErrFraming)

	_, err = Parse([]byte("/E5\r\n!\r\n"), Options{})
	assert.ErrorIs(t, err, ErrFraming)
	assert.ErrorIs(t, err, ErrIdentification)
}

func TestParseBudgets(t *testing.T) {
	_, err := Parse([]byte(exampleTelegram), Options{MaxBytes: 40})
	assert.ErrorIs(t, err, ErrFraming)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	_, err = Parse([]byte(exampleTelegram), Options{MaxLines: 2})
	assert.ErrorIs(t, err, ErrFraming)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestParseSkipsBrokenLines(t *testing.T) {
	raw := "/EBZ5DD3BL10-112\r\n" +
		"\r\n" +
		"1-0:1.8.1(000234.567*kWh)\r\n" +
		"1-0:2.8.0(000012.3*kWh\r\n" +
		"X-0:1.8.0(1*kWh)\r\n" +
		"1-0:1.8.2\r\n" +
		"  1-0:32.7.0 (230.1*V)  \r\n" +
		"0-1:24.2.3(210101120000W) (00123.456*m3)\r\n" +
		"!\r\n"
	tel, err := Parse([]byte(raw), Options{})
	require.NoError(t, err)
	require.Len(t, tel.Lines, 3)
	assert.Equal(t, obis.MustParse("1-0:32.7.0"), tel.Lines[1].Code)
	assert.Equal(t, []ValueGroup{{Value: "210101120000W"}, {Value: "00123.456", Unit: "m3"}}, tel.Lines[2].Groups)

	require.Len(t, tel.Skipped, 3)
	assert.ErrorIs(t, tel.Skipped[0], ErrMalformedValue)
	assert.ErrorIs(t, tel.Skipped[1], ErrMalformedObisCode)
	assert.ErrorIs(t, tel.Skipped[2], ErrMalformedValue)
	assert.True(t, tel.Valid)
}

func modeCFrame(bcc func(byte) byte) []byte {
	ident := "/ESY5Q3D\r\n"
	block := "1-0:1.8.0(000123.456*kWh)\r\n1-0:15.7.0(001.234*kW)\r\n!\r\n" + string(ETX)
	check := BlockCheck([]byte(block))
	if bcc != nil {
		check = bcc(check)
	}
	return append([]byte(ident+string(STX)+block), check)
}

func TestParseBlockCheck(t *testing.T) {
	tel, err := Parse(modeCFrame(nil), Options{Checksum: BCC})
	require.NoError(t, err)
	assert.True(t, tel.Checked)
	assert.True(t, tel.Valid)
	assert.Len(t, tel.Lines, 2)

	tel, err = Parse(modeCFrame(nil), Options{})
	require.NoError(t, err)
	assert.True(t, tel.Checked)
	assert.True(t, tel.Valid)
}

func TestParseCorruptedBlockCheck(t *testing.T) {
	tel, err := Parse(modeCFrame(func(b byte) byte { return b ^ 0x5A }), Options{Checksum: BCC})
	require.NoError(t, err)
	assert.False(t, tel.Valid)
	assert.ErrorIs(t, tel.ChecksumErr, ErrChecksum)
	require.Len(t, tel.Lines, 2)
	assert.Equal(t, "000123.456", tel.Lines[0].Groups[0].Value)
}

func crcFrame(corrupt bool) []byte {
	body := "/EBZ5DD3BL10-112\r\n1-0:1.8.1(000234.567*kWh)\r\n1-0:16.7.0(000150.00*W)\r\n!"
	token := CRC16Token([]byte(body))
	if corrupt {
		b := []byte(token)
		if b[0] == '0' {
			b[0] = '1'
		} else {
			b[0] = '0'
		}
		token = string(b)
	}
	return []byte(body + token + "\r\n")
}

func TestParseCRC16(t *testing.T) {
	for _, strategy := range []Checksum{CRC16, AutoChecksum} {
		tel, err := Parse(crcFrame(false), Options{Checksum: strategy})
		require.NoError(t, err)
		assert.True(t, tel.Checked, strategy.Name())
		assert.True(t, tel.Valid, strategy.Name())

		tel, err = Parse(crcFrame(true), Options{Checksum: strategy})
		require.NoError(t, err)
		assert.False(t, tel.Valid, strategy.Name())
		assert.ErrorIs(t, tel.ChecksumErr, ErrChecksum)
		assert.Len(t, tel.Lines, 2)
	}

	tel, err := Parse(crcFrame(true), Options{Checksum: NoChecksum})
	require.NoError(t, err)
	assert.True(t, tel.Valid)
	assert.False(t, tel.Checked)
}

func TestChecksumByName(t *testing.T) {
	for name, want := range map[string]Checksum{"": AutoChecksum, "BCC": BCC, "crc16": CRC16, "none": NoChecksum} {
		got, err := ChecksumByName(name)
		require.NoError(t, err)
		assert.Equal(t, want.Name(), got.Name())
	}
	_, err := ChecksumByName("md5")
	assert.Error(t, err)
}

func TestFrameEnd(t *testing.T) {
	assert.Equal(t, -1, FrameEnd([]byte("/ESY5Q3D\r\n1-0:1.8.0(1*kWh)\r\n"), false))
	assert.Equal(t, len(exampleTelegram), FrameEnd([]byte(exampleTelegram+"/ESY5"), false))
	assert.Equal(t, -1, FrameEnd([]byte("/ESY5Q3D\r\n!"), false))

	frame := modeCFrame(nil)
	assert.Equal(t, len(frame), FrameEnd(append(frame, 'x', 'y'), true))
	assert.Equal(t, -1, FrameEnd(frame[:len(frame)-1], true))

	// A '!' inside a value is not a terminator.
	assert.Equal(t, -1, FrameEnd([]byte("/ESY5\r\n0-0:96.1.0(a!b)\r\n"), false))
}

func TestParseIdentification(t *testing.T) {
	id, err := ParseIdentification("/ISk5MT382-1000\r\n", GrammarStandard)
	require.NoError(t, err)
	assert.Equal(t, "ISK", id.Manufacturer)
	assert.True(t, id.ShortReaction)
	assert.Equal(t, byte('5'), id.BaudID)
	assert.Equal(t, "MT382-1000", id.Model)
	assert.Equal(t, "ISKMT382-1000", id.DeviceName())

	id, err = ParseIdentification(`/LGZ4\2ZMD3104407.B32`, GrammarStandard)
	require.NoError(t, err)
	assert.Equal(t, byte('2'), id.Enhanced)

	_, err = ParseIdentification("/LGZEZMD", GrammarStandard)
	assert.ErrorIs(t, err, ErrIdentification)
	id, err = ParseIdentification("/LGZEZMD", GrammarExtended)
	require.NoError(t, err)
	assert.Equal(t, byte('E'), id.BaudID)

	for _, line := range []string{"ESY5Q3D", "/E5Y5Q3D", "/es15Q3D", "/ESY"} {
		_, err := ParseIdentification(line, GrammarExtended)
		assert.ErrorIs(t, err, ErrIdentification, line)
	}
}

func TestParseIdentificationRejectsReservedBaudID(t *testing.T) {
	for _, line := range []string{"/XYZ7Q3D", "/XYZ9Q3D", "/XYZ:Q3D"} {
		_, err := ParseIdentification(line, GrammarStandard)
		assert.ErrorIs(t, err, ErrIdentification, line)
		_, err = ParseIdentification(line, GrammarExtended)
		assert.ErrorIs(t, err, ErrIdentification, line)
	}

	for _, line := range []string{"/LGZGZMD", "/LGZIZMD"} {
		_, err := ParseIdentification(line, GrammarExtended)
		assert.ErrorIs(t, err, ErrIdentification, line)
	}

	id, err := ParseIdentification("/LGZFZMD", GrammarExtended)
	require.NoError(t, err)
	rate, ok := ModeBBaudTable.Rate(id.BaudID)
	require.True(t, ok)
	assert.Equal(t, uint(19200), rate)

	id, err = ParseIdentification("/XYZ6Q3D", GrammarStandard)
	require.NoError(t, err)
	assert.Equal(t, byte('6'), id.BaudID)
}

func TestBaudNegotiation(t *testing.T) {
	rate, ok := ModeCBaudTable.Rate('5')
	assert.True(t, ok)
	assert.Equal(t, uint(9600), rate)

	id, rate := ModeCBaudTable.Negotiate('5', 0)
	assert.Equal(t, byte('5'), id)
	assert.Equal(t, uint(9600), rate)

	id, rate = ModeCBaudTable.Negotiate('6', 9600)
	assert.Equal(t, byte('5'), id)
	assert.Equal(t, uint(9600), rate)

	id, rate = ModeCBaudTable.Negotiate('9', 0)
	assert.Equal(t, byte('6'), id)
	assert.Equal(t, uint(19200), rate)

	id, rate = ModeCBaudTable.Negotiate('5', 2400)
	assert.Equal(t, byte('3'), id)
	assert.Equal(t, uint(2400), rate)

	id, rate = ModeCBaudTable.Negotiate('0', 0)
	assert.Equal(t, byte('0'), id)
	assert.Equal(t, uint(300), rate)
}
