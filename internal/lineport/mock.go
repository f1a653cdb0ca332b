package lineport

import "bytes"

// Mock is an in-memory Port used by the core's tests. RX bytes are queued
// with Feed and consumed in order by Read/Poll; TX bytes are captured and
// inspectable via TXBytes. It never blocks in wall-clock time: Poll reports
// Timeout immediately once the queued RX bytes (and any pushed-back bytes)
// are exhausted, which is exactly the case every test arranges for.
type Mock struct {
	rx           bytes.Buffer
	stack        [][]byte
	tx           bytes.Buffer
	disconnected bool
}

// NewMock returns an empty Mock ready to be fed RX bytes.
func NewMock() *Mock {
	return &Mock{}
}

// Feed appends bytes the next Read/Poll calls will see, in order.
func (m *Mock) Feed(b []byte) {
	m.rx.Write(b)
}

// FeedString is Feed for a string literal, for readable test fixtures.
func (m *Mock) FeedString(s string) {
	m.Feed([]byte(s))
}

// Disconnect simulates a hang-up: further Read/Poll/WriteAll calls fail.
func (m *Mock) Disconnect() {
	m.disconnected = true
}

// TXBytes returns everything written via WriteAll so far.
func (m *Mock) TXBytes() []byte {
	return m.tx.Bytes()
}

// TXString is TXBytes as a string, for readable assertions.
func (m *Mock) TXString() string {
	return m.tx.String()
}

func (m *Mock) WriteAll(b []byte) error {
	if m.disconnected {
		return ErrDisconnected
	}
	m.tx.Write(b)
	return nil
}

func (m *Mock) Read(buf []byte) (int, error) {
	if m.disconnected {
		return 0, ErrDisconnected
	}
	if top := len(m.stack); top > 0 {
		chunk := m.stack[top-1]
		n := copy(buf, chunk)
		if n == len(chunk) {
			m.stack = m.stack[:top-1]
		} else {
			m.stack[top-1] = chunk[n:]
		}
		return n, nil
	}
	if m.rx.Len() == 0 {
		return 0, ErrDisconnected
	}
	return m.rx.Read(buf)
}

func (m *Mock) Unread(b []byte) {
	if len(b) == 0 {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	m.stack = append(m.stack, cp)
}

func (m *Mock) Poll(timeoutMs int) (PollResult, error) {
	if m.disconnected {
		return Disconnected, ErrDisconnected
	}
	if len(m.stack) > 0 || m.rx.Len() > 0 {
		return ReadReady, nil
	}
	return Timeout, nil
}

func (m *Mock) Close() error {
	m.disconnected = true
	return nil
}
