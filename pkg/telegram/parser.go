// Package telegram frames and parses IEC 62056-21 ASCII telegrams:
// one identification line, data lines and a '!' terminator with an optional block check.
package telegram

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

const (
	SOH byte = 0x01
	STX byte = 0x02
	ETX byte = 0x03
	ACK byte = 0x06
	NAK byte = 0x15

	DefaultMaxBytes = 8192
	DefaultMaxLines = 256
)

// Options bound and configure a single Parse call.
type Options struct {
	MaxBytes int
	MaxLines int
	Grammar  Grammar
	// Checksum defaults to AutoChecksum.
	Checksum Checksum
}

func (o Options) maxBytes() int {
	if o.MaxBytes > 0 {
		return o.MaxBytes
	}
	return DefaultMaxBytes
}

func (o Options) maxLines() int {
	if o.MaxLines > 0 {
		return o.MaxLines
	}
	return DefaultMaxLines
}

// Telegram is the parsed form of one framed telegram.
type Telegram struct {
	Identification Identification
	Lines          []DataLine
	Skipped        []LineError

	// Checksum is the strategy name, Checked whether a block check was present.
	Checksum    string
	Checked     bool
	Valid       bool
	ChecksumErr error

	RawLength  int
	ReceivedAt time.Time
}

// Parse splits raw into identification, data lines and terminator.
// Framing problems return an error wrapping ErrFraming and no telegram.
// A checksum mismatch is not an error: the telegram comes back with Valid=false.
func Parse(raw []byte, opts Options) (*Telegram, error) {
	if len(raw) > opts.maxBytes() {
		return nil, fmt.Errorf("%w: %w: %d bytes, limit %d", ErrFraming, ErrBudgetExceeded, len(raw), opts.maxBytes())
	}

	start := bytes.IndexByte(raw, '/')
	if start < 0 {
		return nil, fmt.Errorf("%w: missing identification line", ErrFraming)
	}
	identEnd := bytes.IndexByte(raw[start:], '\n')
	if identEnd < 0 {
		return nil, fmt.Errorf("%w: unterminated identification line", ErrFraming)
	}
	identEnd += start

	ident, err := ParseIdentification(string(raw[start:identEnd]), opts.Grammar)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFraming, err)
	}

	t := &Telegram{
		Identification: ident,
		RawLength:      len(raw),
		Valid:          true,
	}
	frame := Frame{Raw: raw, Start: start, STX: -1, Bang: -1, ETX: -1}

	pos := identEnd + 1
	lineNo := 0
	for pos < len(raw) && frame.Bang < 0 {
		lineStart := pos
		nl := bytes.IndexByte(raw[pos:], '\n')
		var line []byte
		if nl < 0 {
			line = raw[pos:]
			pos = len(raw)
		} else {
			line = raw[pos : pos+nl]
			pos += nl + 1
		}

		lineNo++
		if lineNo > opts.maxLines() {
			return nil, fmt.Errorf("%w: %w: more than %d lines", ErrFraming, ErrBudgetExceeded, opts.maxLines())
		}

		offset := 0
		for offset < len(line) && (line[offset] == STX || line[offset] == SOH || line[offset] == ' ') {
			if line[offset] == STX && frame.STX < 0 {
				frame.STX = lineStart + offset
			}
			offset++
		}
		text := strings.TrimRight(string(line[offset:]), "\r ")
		if text == "" {
			continue
		}

		if text[0] == '!' {
			frame.Bang = lineStart + offset
			token := text[1:]
			if i := strings.IndexByte(token, ETX); i >= 0 {
				token = token[:i]
			}
			frame.Token = strings.TrimSpace(token)
			break
		}

		dl, err := ParseDataLine(text)
		if err != nil {
			t.Skipped = append(t.Skipped, LineError{Line: lineNo, Text: text, Err: err})
			continue
		}
		dl.Number = lineNo
		t.Lines = append(t.Lines, dl)
	}

	if frame.Bang < 0 {
		return nil, fmt.Errorf("%w: missing terminator", ErrFraming)
	}
	if i := bytes.IndexByte(raw[frame.Bang:], ETX); i >= 0 {
		frame.ETX = frame.Bang + i
	}

	strategy := opts.Checksum
	if strategy == nil {
		strategy = AutoChecksum
	}
	t.Checksum = strategy.Name()
	t.Checked, t.ChecksumErr = strategy.Verify(frame)
	t.Valid = t.ChecksumErr == nil
	return t, nil
}

// FrameEnd returns the length of the first complete telegram in buf, or -1.
// With blockCheck the frame ends one byte after the ETX that follows the
// terminator line, otherwise at the end of the terminator line.
func FrameEnd(buf []byte, blockCheck bool) int {
	for i := 0; i < len(buf); i++ {
		if i > 0 && buf[i-1] != '\n' {
			continue
		}
		j := i
		if buf[j] == STX {
			j++
		}
		if j >= len(buf) || buf[j] != '!' {
			continue
		}
		if blockCheck {
			k := bytes.IndexByte(buf[j:], ETX)
			if k < 0 || j+k+1 >= len(buf) {
				return -1
			}
			return j + k + 2
		}
		k := bytes.IndexByte(buf[j:], '\n')
		if k < 0 {
			return -1
		}
		return j + k + 1
	}
	return -1
}
