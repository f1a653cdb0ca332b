package echonet

import (
	"errors"
	"testing"
)

var errFakeTimeout = errors.New("fake: timeout")

// fakeTransport is a minimal datagramTransport double: Send is a no-op
// recorder, and Recv serves a queued list of raw datagrams, one per call,
// returning errFakeTimeout once they're exhausted.
type fakeTransport struct {
	sent [][]byte
	rx   [][]byte
}

func (f *fakeTransport) Send(payload []byte) error {
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) Recv(timeoutMs int) ([]byte, error) {
	if len(f.rx) == 0 {
		return nil, errFakeTimeout
	}
	next := f.rx[0]
	f.rx = f.rx[1:]
	return next, nil
}

func TestCorrelatorDiscardsMismatchedTID(t *testing.T) {
	req := Format1Frame{
		Tid: 0x0010,
		EData: EData{
			Seoj:  Eoj{0x05, 0xFF, 0x01},
			Deoj:  Eoj{0x02, 0x88, 0x01},
			Esv:   0x62,
			Props: []Property{{Epc: 0xE7}},
		},
	}
	mismatched := Format1Frame{Tid: 0x000F, EData: req.EData}
	matched := Format1Frame{Tid: 0x0010, EData: EData{
		Seoj: req.EData.Deoj, Deoj: req.EData.Seoj, Esv: 0x63,
		Props: []Property{{Epc: 0xE7, Edt: []byte{0x00, 0x00, 0x01, 0x2C}}},
	}}
	encodedMismatch, err := Encode(mismatched)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	encodedMatch, err := Encode(matched)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	transport := &fakeTransport{rx: [][]byte{encodedMismatch, encodedMatch}}
	c := NewCorrelator(transport, nil)

	resp, err := c.Request(req, 1000)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if TID(resp) != 0x0010 {
		t.Fatalf("got tid %04X, want 0010", TID(resp))
	}
	if len(transport.sent) != 1 {
		t.Fatalf("want exactly one send, got %d", len(transport.sent))
	}
}

func TestCorrelatorTimeout(t *testing.T) {
	req := Format1Frame{Tid: 1, EData: EData{Esv: 0x62, Props: []Property{{Epc: 0xE7}}}}
	transport := &fakeTransport{}
	c := NewCorrelator(transport, nil)
	_, err := c.Request(req, 100)
	if err != errFakeTimeout {
		t.Fatalf("err = %v, want errFakeTimeout", err)
	}
}
