package lineport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Serial adapts a real OS serial device to the Port contract. It is built
// on go.bug.st/serial rather than the teacher's github.com/tarm/serial
// because its read timeout can be changed per call via SetReadTimeout,
// which Poll needs (see SPEC_FULL.md §10.A and DESIGN.md).
type Serial struct {
	port   serial.Port
	stack  [][]byte
	closed bool
}

// OpenSerial opens device at the given baud rate, 8 data bits, 1 stop bit,
// no parity — the modem's fixed line configuration.
func OpenSerial(device string, baud int) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("lineport: open %s: %w", device, err)
	}
	return &Serial{port: p}, nil
}

func (s *Serial) WriteAll(b []byte) error {
	if s.closed {
		return ErrDisconnected
	}
	for len(b) > 0 {
		n, err := s.port.Write(b)
		if err != nil {
			return fmt.Errorf("lineport: write: %w", err)
		}
		if n == 0 {
			return ErrDisconnected
		}
		b = b[n:]
	}
	return nil
}

func (s *Serial) Read(buf []byte) (int, error) {
	if top := len(s.stack); top > 0 {
		chunk := s.stack[top-1]
		n := copy(buf, chunk)
		if n == len(chunk) {
			s.stack = s.stack[:top-1]
		} else {
			s.stack[top-1] = chunk[n:]
		}
		return n, nil
	}
	if s.closed {
		return 0, ErrDisconnected
	}
	n, err := s.port.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, ErrDisconnected
		}
		return 0, fmt.Errorf("lineport: read: %w", err)
	}
	if n == 0 {
		// go.bug.st/serial returns n==0, err==nil on a hang-up.
		return 0, ErrDisconnected
	}
	return n, nil
}

func (s *Serial) Unread(b []byte) {
	if len(b) == 0 {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	s.stack = append(s.stack, cp)
}

func (s *Serial) Poll(timeoutMs int) (PollResult, error) {
	if s.closed {
		return Disconnected, ErrDisconnected
	}
	if len(s.stack) > 0 {
		return ReadReady, nil
	}
	if timeoutMs == Blocking {
		if err := s.port.SetReadTimeout(serial.NoTimeout); err != nil {
			return Disconnected, fmt.Errorf("lineport: set read timeout: %w", err)
		}
	} else {
		if err := s.port.SetReadTimeout(time.Duration(timeoutMs) * time.Millisecond); err != nil {
			return Disconnected, fmt.Errorf("lineport: set read timeout: %w", err)
		}
	}
	var probe [1]byte
	n, err := s.port.Read(probe[:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Disconnected, ErrDisconnected
		}
		return Disconnected, fmt.Errorf("lineport: poll: %w", err)
	}
	if n == 0 {
		return Timeout, nil
	}
	s.Unread(probe[:n])
	return ReadReady, nil
}

func (s *Serial) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}
