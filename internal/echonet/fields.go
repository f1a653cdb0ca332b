package echonet

import (
	"encoding/binary"
	"fmt"
)

// FieldType is one of the fixed-width big-endian integer layouts a
// property's EDT can be decoded as.
type FieldType int

const (
	I8 FieldType = iota
	I16
	I32
	U8
	U16
	U32
)

// ParseFieldType maps a configuration layout tag to a FieldType.
func ParseFieldType(tag string) (FieldType, error) {
	switch tag {
	case "i8":
		return I8, nil
	case "i16":
		return I16, nil
	case "i32":
		return I32, nil
	case "u8":
		return U8, nil
	case "u16":
		return U16, nil
	case "u32":
		return U32, nil
	default:
		return 0, fmt.Errorf("echonet: unknown field layout %q", tag)
	}
}

// Width is the field's size in bytes.
func (t FieldType) Width() int {
	switch t {
	case I8, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32:
		return 4
	default:
		return 0
	}
}

// NamedValue is one decoded field from a property's EDT.
type NamedValue struct {
	Name  string
	Value int64
}

// ReadFields decodes property's EDT as the ordered sequence of layouts,
// naming each value after name directly when there is exactly one layout,
// or name suffixed with its index when there are several (e.g. a
// two-register RT pair sharing one EPC). An absent or short EDT yields as
// many values as fit and then stops; a wholly absent EDT yields none.
func ReadFields(p Property, name string, layout []FieldType) []NamedValue {
	if len(p.Edt) == 0 || len(layout) == 0 {
		return nil
	}
	buf := p.Edt
	out := make([]NamedValue, 0, len(layout))
	for i, t := range layout {
		w := t.Width()
		if len(buf) < w {
			break
		}
		var v int64
		switch t {
		case I8:
			v = int64(int8(buf[0]))
		case U8:
			v = int64(buf[0])
		case I16:
			v = int64(int16(binary.BigEndian.Uint16(buf)))
		case U16:
			v = int64(binary.BigEndian.Uint16(buf))
		case I32:
			v = int64(int32(binary.BigEndian.Uint32(buf)))
		case U32:
			v = int64(binary.BigEndian.Uint32(buf))
		}
		fieldName := name
		if len(layout) > 1 {
			fieldName = fmt.Sprintf("%s_%d", name, i)
		}
		out = append(out, NamedValue{Name: fieldName, Value: v})
		buf = buf[w:]
	}
	return out
}
