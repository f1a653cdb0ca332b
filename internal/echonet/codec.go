// Package echonet implements the ECHONET Lite frame codec and the
// transaction-id correlator layered above a connected session
// (SPEC_FULL.md §4.D).
package echonet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	ehd1        = 0x10
	ehd2Format1 = 0x81
	ehd2Format2 = 0x82
)

// ErrInvalidEhd is returned when EHD1 isn't 0x10 or EHD2 names an unknown
// frame variant.
var ErrInvalidEhd = errors.New("echonet: invalid EHD")

// ErrTruncated is returned when a buffer ends before the declared frame
// structure does.
var ErrTruncated = errors.New("echonet: truncated frame")

// Eoj is an ECHONET object identifier.
type Eoj struct {
	ClassGroup byte
	ClassCode  byte
	Instance   byte
}

func (o Eoj) String() string {
	return fmt.Sprintf("%02X%02X%02X", o.ClassGroup, o.ClassCode, o.Instance)
}

// Property is one EPC/EDT pair. A nil Edt serializes with PDC = 0.
type Property struct {
	Epc byte
	Edt []byte
}

// EData is a Format-1 frame body.
type EData struct {
	Seoj  Eoj
	Deoj  Eoj
	Esv   byte
	Props []Property
}

// Frame is either a Format1Frame or a Format2Frame.
type Frame interface {
	frameTID() uint16
	isFrame()
}

// Format1Frame is EHD2 = 0x81: a structured request/response with typed
// properties.
type Format1Frame struct {
	Tid   uint16
	EData EData
}

func (f Format1Frame) frameTID() uint16 { return f.Tid }
func (Format1Frame) isFrame()           {}

// Format2Frame is EHD2 = 0x82: an opaque vendor-defined payload, carried
// but never interpreted by this codec.
type Format2Frame struct {
	Tid     uint16
	Payload []byte
}

func (f Format2Frame) frameTID() uint16 { return f.Tid }
func (Format2Frame) isFrame()           {}

// TID returns a frame's transaction id, regardless of variant.
func TID(f Frame) uint16 {
	return f.frameTID()
}

// Encode renders f byte-exact per SPEC_FULL.md §4.D, big-endian throughout.
func Encode(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case Format1Frame:
		if len(v.EData.Props) > 255 {
			return nil, fmt.Errorf("echonet: %d properties exceeds the 255 OPC limit", len(v.EData.Props))
		}
		buf := make([]byte, 0, 12+4*len(v.EData.Props))
		buf = append(buf, ehd1, ehd2Format1)
		buf = binary.BigEndian.AppendUint16(buf, v.Tid)
		buf = append(buf, v.EData.Seoj.ClassGroup, v.EData.Seoj.ClassCode, v.EData.Seoj.Instance)
		buf = append(buf, v.EData.Deoj.ClassGroup, v.EData.Deoj.ClassCode, v.EData.Deoj.Instance)
		buf = append(buf, v.EData.Esv, byte(len(v.EData.Props)))
		for _, p := range v.EData.Props {
			if len(p.Edt) > 255 {
				return nil, fmt.Errorf("echonet: EPC %02X edt length %d exceeds 255", p.Epc, len(p.Edt))
			}
			buf = append(buf, p.Epc, byte(len(p.Edt)))
			buf = append(buf, p.Edt...)
		}
		return buf, nil
	case Format2Frame:
		buf := make([]byte, 0, 4+len(v.Payload))
		buf = append(buf, ehd1, ehd2Format2)
		buf = binary.BigEndian.AppendUint16(buf, v.Tid)
		buf = append(buf, v.Payload...)
		return buf, nil
	default:
		return nil, fmt.Errorf("echonet: unknown frame type %T", f)
	}
}

// Decode parses b into a Frame. EHD1 must be 0x10; EHD2 selects Format1 vs
// Format2, and any other value is ErrInvalidEhd.
func Decode(b []byte) (Frame, error) {
	if len(b) < 4 {
		return nil, ErrTruncated
	}
	if b[0] != ehd1 {
		return nil, ErrInvalidEhd
	}
	tid := binary.BigEndian.Uint16(b[2:4])
	switch b[1] {
	case ehd2Format1:
		return decodeFormat1(tid, b[4:])
	case ehd2Format2:
		payload := append([]byte(nil), b[4:]...)
		return Format2Frame{Tid: tid, Payload: payload}, nil
	default:
		return nil, ErrInvalidEhd
	}
}

func decodeFormat1(tid uint16, body []byte) (Frame, error) {
	if len(body) < 8 {
		return nil, ErrTruncated
	}
	seoj := Eoj{body[0], body[1], body[2]}
	deoj := Eoj{body[3], body[4], body[5]}
	esv := body[6]
	opc := int(body[7])
	rest := body[8:]
	props := make([]Property, 0, opc)
	for i := 0; i < opc; i++ {
		if len(rest) < 2 {
			return nil, ErrTruncated
		}
		epc := rest[0]
		pdc := int(rest[1])
		rest = rest[2:]
		if len(rest) < pdc {
			return nil, ErrTruncated
		}
		var edt []byte
		if pdc > 0 {
			edt = append([]byte(nil), rest[:pdc]...)
		}
		props = append(props, Property{Epc: epc, Edt: edt})
		rest = rest[pdc:]
	}
	return Format1Frame{Tid: tid, EData: EData{Seoj: seoj, Deoj: deoj, Esv: esv, Props: props}}, nil
}
