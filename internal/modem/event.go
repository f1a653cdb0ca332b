package modem

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Event is one of NumericEvent, PanDescriptorEvent, or ReceivedDatagramEvent
// — the three unsolicited notifications the modem can push ahead of, or in
// place of, a command result.
type Event interface {
	isEvent()
}

// NumericEvent is an "EVENT nn ..." line: a bare notification identified by
// a one-byte code, with an optional one-byte parameter for the handful of
// event codes that carry one.
type NumericEvent struct {
	Num    uint8
	Sender net.IP
	Side   Side
	Param  *uint8
}

func (NumericEvent) isEvent() {}

// eventsWithParam are the EVENT codes that carry a trailing param byte:
// 0x21 and 0x45. Every other code is parsed without one.
var eventsWithParam = map[uint8]bool{
	0x21: true,
	0x45: true,
}

// PanDescriptorEvent is an "EPANDESC" block describing one coordinator
// found during SKSCAN.
type PanDescriptorEvent struct {
	Channel     uint8
	ChannelPage uint8
	PanID       uint16
	Addr64      [8]byte
	LQI         uint8
	Side        Side
	PairID      [8]byte
}

func (PanDescriptorEvent) isEvent() {}

// ReceivedDatagramEvent is an "ERXUDP" line: an inbound UDP datagram the
// modem relayed from the mesh, plus its routing metadata.
type ReceivedDatagramEvent struct {
	Sender    net.IP
	Dest      net.IP
	RPort     uint16
	LPort     uint16
	SenderLLA [8]byte
	Secured   bool
	Side      Side
	Payload   []byte
}

func (ReceivedDatagramEvent) isEvent() {}

// parseEvent reads one full event off the wire, starting at the leading
// 'E' that identifies every event line, and dispatches on the head token to
// tell the three event shapes apart.
func (d *Driver) parseEvent() (Event, error) {
	lead, err := d.readByte()
	if err != nil {
		return nil, err
	}
	if lead != 'E' {
		return nil, fmt.Errorf("modem: parseEvent called on non-event byte %q", lead)
	}
	rest, stop, err := d.readToken()
	if err != nil {
		return nil, err
	}
	head := "E" + rest
	switch head {
	case "EVENT":
		return d.parseNumericEvent()
	case "EPANDESC":
		if stop != '\r' {
			panic(fmt.Sprintf("modem: EPANDESC head followed by unexpected %q", stop))
		}
		return d.parsePanDescriptor()
	case "ERXUDP":
		if stop != ' ' {
			panic(fmt.Sprintf("modem: ERXUDP head followed by unexpected %q", stop))
		}
		return d.parseReceivedDatagram()
	default:
		return nil, fmt.Errorf("modem: unrecognized event %q", head)
	}
}

func (d *Driver) parseNumericEvent() (Event, error) {
	numTok, _, err := d.readToken()
	if err != nil {
		return nil, err
	}
	num, err := parseHexByte(numTok)
	if err != nil {
		return nil, fmt.Errorf("modem: EVENT num field: %w", err)
	}
	senderTok, _, err := d.readToken()
	if err != nil {
		return nil, err
	}
	sender := net.ParseIP(senderTok)
	if sender == nil {
		return nil, fmt.Errorf("modem: EVENT sender field %q is not an IP address", senderTok)
	}
	sideTok, stop, err := d.readToken()
	if err != nil {
		return nil, err
	}
	side, err := parseSide(sideTok)
	if err != nil {
		return nil, err
	}
	var param *uint8
	if eventsWithParam[num] {
		if stop != ' ' {
			return nil, fmt.Errorf("modem: EVENT %02X expects a param field", num)
		}
		paramTok, _, err := d.readToken()
		if err != nil {
			return nil, err
		}
		p, err := parseHexByte(paramTok)
		if err != nil {
			return nil, fmt.Errorf("modem: EVENT param field: %w", err)
		}
		param = &p
	} else if stop != '\r' {
		return nil, fmt.Errorf("modem: EVENT %02X carries an unexpected param field", num)
	}
	return NumericEvent{Num: num, Sender: sender, Side: side, Param: param}, nil
}

var panDescriptorFields = []string{"Channel", "Channel Page", "Pan ID", "Addr", "LQI", "Side", "PairID"}

func (d *Driver) parsePanDescriptor() (Event, error) {
	values := make(map[string]string, len(panDescriptorFields))
	for _, want := range panDescriptorFields {
		line, err := d.readLineRestRaw()
		if err != nil {
			return nil, err
		}
		name, val, ok := splitPropertyLine(line)
		if !ok {
			return nil, fmt.Errorf("modem: EPANDESC malformed property line %q", line)
		}
		if name != want {
			return nil, fmt.Errorf("modem: EPANDESC expected field %q, got %q", want, name)
		}
		values[name] = val
	}
	channel, err := parseHexByteStr(values["Channel"])
	if err != nil {
		return nil, err
	}
	channelPage, err := parseHexByteStr(values["Channel Page"])
	if err != nil {
		return nil, err
	}
	panIDv, err := strconv.ParseUint(values["Pan ID"], 16, 16)
	if err != nil {
		return nil, fmt.Errorf("modem: EPANDESC Pan ID: %w", err)
	}
	addrBytes, err := hex.DecodeString(values["Addr"])
	if err != nil || len(addrBytes) != 8 {
		panic(fmt.Sprintf("modem: EPANDESC Addr %q is not 16 hex chars", values["Addr"]))
	}
	lqi, err := parseHexByteStr(values["LQI"])
	if err != nil {
		return nil, err
	}
	side, err := parseSide(values["Side"])
	if err != nil {
		return nil, err
	}
	if len(values["PairID"]) != 8 {
		panic(fmt.Sprintf("modem: EPANDESC PairID %q is not 8 characters", values["PairID"]))
	}
	var addr64, pairID [8]byte
	copy(addr64[:], addrBytes)
	copy(pairID[:], values["PairID"])
	return PanDescriptorEvent{
		Channel:     channel,
		ChannelPage: channelPage,
		PanID:       uint16(panIDv),
		Addr64:      addr64,
		LQI:         lqi,
		Side:        side,
		PairID:      pairID,
	}, nil
}

func splitPropertyLine(line string) (name, value string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	i := strings.IndexByte(trimmed, ':')
	if i < 0 {
		return "", "", false
	}
	return trimmed[:i], trimmed[i+1:], true
}

var erxudpFieldWidths = []int{39, 39, 4, 4, 16, 1, 1, 4}
var erxudpFieldNames = []string{"sender", "dest", "rport", "lport", "sender_lla", "secured", "side", "length"}

func (d *Driver) parseReceivedDatagram() (Event, error) {
	fields := make([]string, len(erxudpFieldWidths))
	for i := range fields {
		tok, stop, err := d.readToken()
		if err != nil {
			return nil, err
		}
		if stop != ' ' {
			return nil, fmt.Errorf("modem: ERXUDP truncated before field %q", erxudpFieldNames[i])
		}
		if len(tok) != erxudpFieldWidths[i] {
			panic(fmt.Sprintf("modem: ERXUDP field %q is %d chars, want %d", erxudpFieldNames[i], len(tok), erxudpFieldWidths[i]))
		}
		fields[i] = tok
	}
	sender := net.ParseIP(fields[0])
	if sender == nil {
		return nil, fmt.Errorf("modem: ERXUDP sender %q is not an IP address", fields[0])
	}
	dest := net.ParseIP(fields[1])
	if dest == nil {
		return nil, fmt.Errorf("modem: ERXUDP dest %q is not an IP address", fields[1])
	}
	rport, err := strconv.ParseUint(fields[2], 16, 16)
	if err != nil {
		return nil, fmt.Errorf("modem: ERXUDP rport: %w", err)
	}
	lport, err := strconv.ParseUint(fields[3], 16, 16)
	if err != nil {
		return nil, fmt.Errorf("modem: ERXUDP lport: %w", err)
	}
	llaBytes, err := hex.DecodeString(fields[4])
	if err != nil || len(llaBytes) != 8 {
		panic(fmt.Sprintf("modem: ERXUDP sender_lla %q is not 16 hex chars", fields[4]))
	}
	secured := fields[5] != "0"
	side, err := parseSide(fields[6])
	if err != nil {
		return nil, err
	}
	length, err := strconv.ParseUint(fields[7], 16, 16)
	if err != nil {
		return nil, fmt.Errorf("modem: ERXUDP length: %w", err)
	}
	payload, err := d.readExact(int(length))
	if err != nil {
		return nil, err
	}
	if err := d.expectCRLF(); err != nil {
		return nil, err
	}
	var lla [8]byte
	copy(lla[:], llaBytes)
	return ReceivedDatagramEvent{
		Sender:    sender,
		Dest:      dest,
		RPort:     uint16(rport),
		LPort:     uint16(lport),
		SenderLLA: lla,
		Secured:   secured,
		Side:      side,
		Payload:   payload,
	}, nil
}

func parseHexByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

func parseHexByteStr(s string) (uint8, error) {
	return parseHexByte(s)
}
