package port_reader

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jacobsa/go-serial/serial"
)

// SerialOptions describe a local serial or optical port.
type SerialOptions struct {
	Device   string
	BaudRate uint
	// Framing is "7E1" (the IEC default) or "8N1".
	Framing string
	// PollInterval is how long a read waits for the first byte. Rounded to 100ms.
	PollInterval time.Duration
}

type serialPort struct {
	options serial.OpenOptions
	rwc     io.ReadWriteCloser
}

// OpenSerial opens the port at opts.BaudRate. Reads return (0, nil) when the
// line stays quiet for the poll interval.
func OpenSerial(opts SerialOptions) (Port, error) {
	dataBits, parity, err := parseFraming(opts.Framing)
	if err != nil {
		return nil, err
	}
	poll := uint(opts.PollInterval / time.Millisecond)
	poll = (poll + 99) / 100 * 100
	if poll == 0 {
		poll = 100
	}

	p := &serialPort{
		options: serial.OpenOptions{
			PortName:              opts.Device,
			BaudRate:              opts.BaudRate,
			DataBits:              dataBits,
			StopBits:              1,
			ParityMode:            parity,
			InterCharacterTimeout: poll,
			MinimumReadSize:       0,
		},
	}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

func parseFraming(framing string) (uint, serial.ParityMode, error) {
	switch strings.ToUpper(strings.TrimSpace(framing)) {
	case "", "7E1":
		return 7, serial.PARITY_EVEN, nil
	case "8N1":
		return 8, serial.PARITY_NONE, nil
	}
	return 0, serial.PARITY_NONE, fmt.Errorf("unsupported serial framing %q", framing)
}

func (p *serialPort) open() error {
	rwc, err := serial.Open(p.options)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", p.options.PortName, err)
	}
	p.rwc = rwc
	return nil
}

func (p *serialPort) Read(b []byte) (int, error) {
	if p.rwc == nil {
		return 0, errors.New("serial port closed")
	}
	n, err := p.rwc.Read(b)
	if errors.Is(err, io.EOF) {
		// Inter-character timeout with nothing received.
		return n, nil
	}
	return n, err
}

func (p *serialPort) Write(b []byte) (int, error) {
	if p.rwc == nil {
		return 0, errors.New("serial port closed")
	}
	return p.rwc.Write(b)
}

// SetBaudRate reopens the port at the new speed, dropping anything buffered by the driver.
func (p *serialPort) SetBaudRate(baud uint) error {
	if p.rwc != nil && p.options.BaudRate == baud {
		return nil
	}
	if p.rwc != nil {
		if err := p.rwc.Close(); err != nil {
			return fmt.Errorf("failed to close serial port for baud change: %w", err)
		}
		p.rwc = nil
	}
	p.options.BaudRate = baud
	return p.open()
}

func (p *serialPort) BaudRate() uint {
	return p.options.BaudRate
}

func (p *serialPort) Close() error {
	if p.rwc == nil {
		return nil
	}
	err := p.rwc.Close()
	p.rwc = nil
	return err
}
