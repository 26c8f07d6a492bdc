package telegram

import (
	"fmt"
	"strings"

	"github.com/sigurn/crc16"
)

// Frame points into a raw telegram. Indexes are -1 when the part is absent.
type Frame struct {
	Raw   []byte
	Start int // '/'
	STX   int
	Bang  int // '!' of the terminator line
	ETX   int
	Token string // text after '!' on the terminator line
}

// Checksum validates the block check of a framed telegram.
// Verify reports checked=false when the frame carries nothing to check.
type Checksum interface {
	Name() string
	Verify(f Frame) (checked bool, err error)
}

var (
	// BCC is the IEC 62056-21 block check: XOR of every byte after STX up to and including ETX.
	BCC Checksum = bccChecksum{}
	// CRC16 is the CRC-16/ARC over '/' up to and including '!', as four hex digits after '!'.
	CRC16 Checksum = crc16Checksum{table: crc16.MakeTable(crc16.CRC16_ARC)}
	// NoChecksum never checks.
	NoChecksum Checksum = noChecksum{}
	// AutoChecksum checks a BCC when ETX is present, else a CRC16 token when present.
	AutoChecksum Checksum = autoChecksum{}
)

// ChecksumByName resolves the names used in profile configuration.
func ChecksumByName(name string) (Checksum, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return AutoChecksum, nil
	case "bcc", "xor":
		return BCC, nil
	case "crc16", "crc16-arc":
		return CRC16, nil
	case "none":
		return NoChecksum, nil
	}
	return nil, fmt.Errorf("unknown checksum %q", name)
}

type bccChecksum struct{}

func (bccChecksum) Name() string { return "bcc" }

func (bccChecksum) Verify(f Frame) (bool, error) {
	if f.ETX < 0 || f.ETX+1 >= len(f.Raw) {
		return false, nil
	}
	from := f.Start + 1
	if f.STX >= 0 {
		from = f.STX + 1
	}
	want := f.Raw[f.ETX+1]
	got := BlockCheck(f.Raw[from : f.ETX+1])
	if got != want {
		return true, fmt.Errorf("%w: bcc %02X, computed %02X", ErrChecksum, want, got)
	}
	return true, nil
}

// BlockCheck XORs data.
func BlockCheck(data []byte) byte {
	var bcc byte
	for _, b := range data {
		bcc ^= b
	}
	return bcc
}

type crc16Checksum struct {
	table *crc16.Table
}

func (crc16Checksum) Name() string { return "crc16" }

func (c crc16Checksum) Verify(f Frame) (bool, error) {
	if f.Token == "" {
		return false, nil
	}
	if len(f.Token) != 4 {
		return true, fmt.Errorf("%w: malformed crc token %q", ErrChecksum, f.Token)
	}
	calc := fmt.Sprintf("%04X", crc16.Checksum(f.Raw[f.Start:f.Bang+1], c.table))
	if strings.ToUpper(f.Token) != calc {
		return true, fmt.Errorf("%w: crc %s, computed %s", ErrChecksum, strings.ToUpper(f.Token), calc)
	}
	return true, nil
}

// CRC16Token computes the token a meter would append after '!'.
func CRC16Token(data []byte) string {
	return fmt.Sprintf("%04X", crc16.Checksum(data, crc16.MakeTable(crc16.CRC16_ARC)))
}

type noChecksum struct{}

func (noChecksum) Name() string               { return "none" }
func (noChecksum) Verify(Frame) (bool, error) { return false, nil }

type autoChecksum struct{}

func (autoChecksum) Name() string { return "auto" }

func (autoChecksum) Verify(f Frame) (bool, error) {
	if f.ETX >= 0 && f.ETX+1 < len(f.Raw) {
		return BCC.Verify(f)
	}
	if f.Token != "" {
		return CRC16.Verify(f)
	}
	return false, nil
}
