// Package serialtransport implements probe.Transport over a real USB/serial
// connection to the ICE, using the pack's termios-level serial library
// rather than a hand-rolled ioctl wrapper.
package serialtransport

import (
	"encoding/binary"
	"fmt"
	"time"

	serial "github.com/daedaluz/goserial"

	"github.com/hollowmark/avrbridge/internal/probe"
)

// frameTimeout bounds a single command round trip; RecvEvent uses the
// caller-supplied timeout instead.
const frameTimeout = 2 * time.Second

// statusWrongMode is the single-byte status code the probe prepends to a
// response when it refuses a halted-only operation because the target is
// running. Everything else about the wire format is this package's own
// business, per spec §6 ("this spec does not prescribe wire bytes").
const statusWrongMode = 0xFF

// Transport is a probe.Transport backed by an open serial port.
type Transport struct {
	port *serial.Port
}

// Open opens the serial device at path (e.g. "/dev/ttyACM0") in raw mode
// at the given baud rate and wraps it as a probe.Transport.
func Open(path string, baud uint32) (*Transport, error) {
	opts := serial.NewOptions().SetReadTimeout(frameTimeout)

	port, err := serial.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("serialtransport: open %s: %w", path, err)
	}

	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialtransport: make raw: %w", err)
	}

	if err := setBaud(port, baud); err != nil {
		port.Close()
		return nil, err
	}

	return &Transport{port: port}, nil
}

// Send writes a length-prefixed command frame and reads back a
// length-prefixed response, translating a WRONG_MODE status byte into
// probe.ErrWrongMode.
func (t *Transport) Send(cmd []byte) ([]byte, error) {
	frame := make([]byte, 2+len(cmd))
	binary.BigEndian.PutUint16(frame, uint16(len(cmd)))
	copy(frame[2:], cmd)

	if _, err := t.port.Write(frame); err != nil {
		return nil, fmt.Errorf("serialtransport: write command: %w", err)
	}

	return t.readFrame()
}

// RecvEvent polls for an asynchronous event frame within timeout. Any read
// failure, a timeout or otherwise, is reported as a nil event and a nil
// error.
func (t *Transport) RecvEvent(timeout time.Duration) ([]byte, error) {
	t.port.SetReadTimeout(timeout)
	defer t.port.SetReadTimeout(frameTimeout)

	data, err := t.readFrame()
	if err != nil {
		return nil, nil
	}

	return data, nil
}

// ProgramMode toggles programming mode on the probe.
func (t *Transport) ProgramMode(enter bool) error {
	cmd := []byte{0x01, 0x00}
	if enter {
		cmd[1] = 0x01
	}

	_, err := t.Send(cmd)

	return err
}

// Reset issues a target reset.
func (t *Transport) Reset() error {
	_, err := t.Send([]byte{0x02})
	return err
}

// Close releases the underlying serial port.
func (t *Transport) Close() error {
	return t.port.Close()
}

func (t *Transport) readFrame() ([]byte, error) {
	header := make([]byte, 3)
	if _, err := readFull(t.port, header); err != nil {
		return nil, fmt.Errorf("serialtransport: read header: %w", err)
	}

	status := header[0]
	length := binary.BigEndian.Uint16(header[1:3])

	body := make([]byte, length)
	if length > 0 {
		if _, err := readFull(t.port, body); err != nil {
			return nil, fmt.Errorf("serialtransport: read body: %w", err)
		}
	}

	if status == statusWrongMode {
		return nil, probe.ErrWrongMode
	}

	return body, nil
}

func readFull(p *serial.Port, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := p.Read(buf[read:])
		if err != nil {
			return read, err
		}

		read += n
	}

	return read, nil
}

// baudRates maps the rates AVR ICE probes commonly use to the termios
// CFlag speed constants. goserial exposes termios directly rather than a
// symbolic-rate setter.
var baudRates = map[uint32]serial.CFlag{
	9600:   serial.B9600,
	19200:  serial.B19200,
	38400:  serial.B38400,
	57600:  serial.B57600,
	115200: serial.B115200,
	230400: serial.B230400,
}

func setBaud(port *serial.Port, baud uint32) error {
	speed, ok := baudRates[baud]
	if !ok {
		return fmt.Errorf("serialtransport: unsupported baud rate %d", baud)
	}

	attrs, err := port.GetAttr()
	if err != nil {
		return fmt.Errorf("serialtransport: get attrs: %w", err)
	}

	attrs.Cflag &^= serial.CBAUD
	attrs.Cflag |= speed

	if err := port.SetAttr(serial.TCSANOW, attrs); err != nil {
		return fmt.Errorf("serialtransport: set attrs: %w", err)
	}

	return nil
}
