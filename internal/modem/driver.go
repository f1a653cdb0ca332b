package modem

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brouteexp/broute-exporter/internal/lineport"
)

// Driver turns a line-level Port into the command/result, event-queue
// interface the session manager drives. It keeps no goroutines: every
// method either writes then blocks reading a result, or polls the port for
// a bounded time (SPEC_FULL.md §5, §9).
type Driver struct {
	port  lineport.Port
	log   logrus.FieldLogger
	queue []Event
}

// NewDriver wraps port. log may be nil, in which case a disabled logger is
// used.
func NewDriver(port lineport.Port, log logrus.FieldLogger) *Driver {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Driver{port: port, log: log}
}

// --- byte/token primitives -------------------------------------------------

func (d *Driver) readByte() (byte, error) {
	var buf [1]byte
	n, err := d.port.Read(buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, lineport.ErrDisconnected
	}
	return buf[0], nil
}

func (d *Driver) readExact(n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (d *Driver) expectByte(want byte) error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	if b != want {
		return fmt.Errorf("modem: expected %q, got %q", want, b)
	}
	return nil
}

func (d *Driver) expectBytes(want string) error {
	for i := 0; i < len(want); i++ {
		if err := d.expectByte(want[i]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) expectCRLF() error {
	if err := d.expectByte('\r'); err != nil {
		return err
	}
	return d.expectByte('\n')
}

// readToken reads bytes up to and including the next space or CRLF,
// returning the bytes before the delimiter and which delimiter (' ' or
// '\r') ended it. A '\r' delimiter consumes the following '\n' too.
func (d *Driver) readToken() (string, byte, error) {
	var buf []byte
	for {
		b, err := d.readByte()
		if err != nil {
			return "", 0, err
		}
		switch b {
		case ' ':
			return string(buf), ' ', nil
		case '\r':
			if err := d.expectByte('\n'); err != nil {
				return "", 0, err
			}
			return string(buf), '\r', nil
		default:
			buf = append(buf, b)
		}
	}
}

// readLineRestRaw reads bytes up to and including the next CRLF and returns
// the content before it, verbatim (used for lines that may contain
// interior spaces, e.g. SK-echoed commands and EPANDESC property lines).
func (d *Driver) readLineRestRaw() (string, error) {
	var buf []byte
	for {
		b, err := d.readByte()
		if err != nil {
			return "", err
		}
		if b == '\r' {
			if err := d.expectByte('\n'); err != nil {
				return "", err
			}
			return string(buf), nil
		}
		buf = append(buf, b)
	}
}

// --- command/result loop ---------------------------------------------------

type outcomeKind int

const (
	outcomeOk outcomeKind = iota
	outcomeFail
	outcomeData
)

type outcome struct {
	kind outcomeKind
	fail *Failure
	data string
}

// readOutcome implements the shared result-parsing state machine: it reads
// byte by byte until it can classify the line as OK, FAIL ERnn, an
// SK-echoed command (discarded), a stray CRLF (skipped), a pushed-in event
// (queued), or a bare data line (returned for commands like SKLL64 whose
// success case isn't OK at all).
func (d *Driver) readOutcome() (outcome, error) {
	for {
		b, err := d.readByte()
		if err != nil {
			return outcome{}, err
		}
		switch b {
		case '\r':
			if err := d.expectByte('\n'); err != nil {
				return outcome{}, err
			}
			d.log.WithField("event", "stray_crlf").Warn("modem: skipped stray CRLF before result")
			continue
		case 'O':
			if err := d.expectBytes("K"); err != nil {
				return outcome{}, err
			}
			if err := d.expectCRLF(); err != nil {
				return outcome{}, err
			}
			return outcome{kind: outcomeOk}, nil
		case 'S':
			if err := d.expectByte('K'); err != nil {
				return outcome{}, err
			}
			line, err := d.readLineRestRaw()
			if err != nil {
				return outcome{}, err
			}
			d.log.WithField("event", "command_echo").Debugf("modem: discarded echoed command SK%s", line)
			continue
		case 'E':
			d.port.Unread([]byte{'E'})
			ev, err := d.parseEvent()
			if err != nil {
				return outcome{}, err
			}
			d.queue = append(d.queue, ev)
			continue
		case 'F':
			nxt, err := d.readByte()
			if err != nil {
				return outcome{}, err
			}
			if nxt == 'A' {
				if err := d.expectBytes("IL ER"); err != nil {
					return outcome{}, err
				}
				digits, err := d.readExact(2)
				if err != nil {
					return outcome{}, err
				}
				if err := d.expectCRLF(); err != nil {
					return outcome{}, err
				}
				code, err := strconv.Atoi(string(digits))
				if err != nil {
					panic(fmt.Sprintf("modem: FAIL ER code %q is not two digits", digits))
				}
				kind, ok := errorKindFromCode(code)
				if !ok {
					panic(fmt.Sprintf("modem: FAIL ER%02d is outside the defined error range", code))
				}
				return outcome{kind: outcomeFail, fail: &Failure{Kind: kind, Code: code}}, nil
			}
			rest, err := d.readLineRestRaw()
			if err != nil {
				return outcome{}, err
			}
			return outcome{kind: outcomeData, data: string(b) + string(nxt) + rest}, nil
		default:
			rest, err := d.readLineRestRaw()
			if err != nil {
				return outcome{}, err
			}
			return outcome{kind: outcomeData, data: string(b) + rest}, nil
		}
	}
}

// readResult awaits a plain Ok/Fail result, as every command but
// ResolveLinkLocal produces.
func (d *Driver) readResult() (ResultCode, error) {
	out, err := d.readOutcome()
	if err != nil {
		return ResultCode{}, err
	}
	switch out.kind {
	case outcomeOk:
		return ResultCode{}, nil
	case outcomeFail:
		return ResultCode{Fail: out.fail}, nil
	default:
		return ResultCode{}, fmt.Errorf("modem: unexpected data line %q awaiting command result", out.data)
	}
}

func (d *Driver) sendLine(line string) error {
	return d.port.WriteAll([]byte(line + "\r\n"))
}

// --- event queue ------------------------------------------------------------

// PollEvent returns the oldest queued event immediately if one is pending;
// otherwise it polls the port for up to timeoutMs milliseconds for a new
// one. ok is false on a plain timeout.
func (d *Driver) PollEvent(timeoutMs int) (Event, bool, error) {
	if len(d.queue) > 0 {
		ev := d.queue[0]
		d.queue = d.queue[1:]
		return ev, true, nil
	}
	res, err := d.port.Poll(timeoutMs)
	if err != nil {
		return nil, false, err
	}
	switch res {
	case lineport.Timeout:
		return nil, false, nil
	case lineport.Disconnected:
		return nil, false, lineport.ErrDisconnected
	}
	ev, err := d.parseEvent()
	if err != nil {
		return nil, false, err
	}
	return ev, true, nil
}

// WaitEvent is PollEvent with no timeout: it blocks until an event is
// available or the port disconnects.
func (d *Driver) WaitEvent() (Event, error) {
	ev, _, err := d.PollEvent(lineport.Blocking)
	return ev, err
}

// --- commands ----------------------------------------------------------------

// Reset issues SKRESET, returning the modem to its power-on defaults.
func (d *Driver) Reset() (ResultCode, error) {
	if err := d.sendLine("SKRESET"); err != nil {
		return ResultCode{}, err
	}
	return d.readResult()
}

// SetRegister issues SKSREG to write value into register id. Callers format
// value per the register's own width (e.g. 2 hex chars for S02's channel).
func (d *Driver) SetRegister(id SRegisterId, value string) (ResultCode, error) {
	if err := d.sendLine(fmt.Sprintf("SKSREG %s %s", id, value)); err != nil {
		return ResultCode{}, err
	}
	return d.readResult()
}

// SetRouteBID issues SKSETRBID with the 32-hex-char B-route ID.
func (d *Driver) SetRouteBID(id string) (ResultCode, error) {
	if len(id) != 32 {
		panic(fmt.Sprintf("modem: route B ID must be 32 hex chars, got %d", len(id)))
	}
	if err := d.sendLine(fmt.Sprintf("SKSETRBID %s", id)); err != nil {
		return ResultCode{}, err
	}
	return d.readResult()
}

// SetRouteBPassword issues SKSETPWD with the B-route password, prefixed by
// its length in hex as the protocol requires.
func (d *Driver) SetRouteBPassword(pwd string) (ResultCode, error) {
	if err := d.sendLine(fmt.Sprintf("SKSETPWD %X %s", len(pwd), pwd)); err != nil {
		return ResultCode{}, err
	}
	return d.readResult()
}

// Scan issues SKSCAN to start an energy-detect or active scan across the
// channels selected by mask, for duration units per channel, on side.
func (d *Driver) Scan(mode ScanMode, mask uint32, duration uint8, side Side) (ResultCode, error) {
	cmd := fmt.Sprintf("SKSCAN %X %08X %X %X", uint8(mode), mask, duration, uint8(side))
	if err := d.sendLine(cmd); err != nil {
		return ResultCode{}, err
	}
	return d.readResult()
}

// ResolveLinkLocal issues SKLL64 to convert an IEEE extended (EUI-64)
// address into its derived link-local IPv6 address. Unlike the other
// commands, success is a data line rather than OK.
func (d *Driver) ResolveLinkLocal(addr64 [8]byte) (net.IP, error) {
	cmd := fmt.Sprintf("SKLL64 %s", strings.ToUpper(hex.EncodeToString(addr64[:])))
	if err := d.sendLine(cmd); err != nil {
		return nil, err
	}
	out, err := d.readOutcome()
	if err != nil {
		return nil, err
	}
	switch out.kind {
	case outcomeData:
		ip := net.ParseIP(out.data)
		if ip == nil {
			return nil, fmt.Errorf("modem: SKLL64 returned unparseable address %q", out.data)
		}
		return ip, nil
	case outcomeFail:
		return nil, out.fail
	default:
		return nil, fmt.Errorf("modem: unexpected OK awaiting SKLL64 address")
	}
}

// Join issues SKJOIN to begin the PANA handshake with addr.
func (d *Driver) Join(addr net.IP) (ResultCode, error) {
	text, err := FormatIPv6Full(addr)
	if err != nil {
		return ResultCode{}, err
	}
	if err := d.sendLine(fmt.Sprintf("SKJOIN %s", text)); err != nil {
		return ResultCode{}, err
	}
	return d.readResult()
}

// SendTo issues SKSENDTO to transmit payload to addr:port over handle,
// with the requested security mode and side.
func (d *Driver) SendTo(handle uint8, addr net.IP, port uint16, sec SecurityMode, side Side, payload []byte) (ResultCode, error) {
	text, err := FormatIPv6Full(addr)
	if err != nil {
		return ResultCode{}, err
	}
	header := fmt.Sprintf("SKSENDTO %X %s %04X %X %X %04X ", handle, text, port, uint8(sec), uint8(side), len(payload))
	buf := make([]byte, 0, len(header)+len(payload)+2)
	buf = append(buf, header...)
	buf = append(buf, payload...)
	buf = append(buf, '\r', '\n')
	if err := d.port.WriteAll(buf); err != nil {
		return ResultCode{}, err
	}
	return d.readResult()
}

// Terminate issues SKTERM to tear down the current PANA session.
func (d *Driver) Terminate() (ResultCode, error) {
	if err := d.sendLine("SKTERM"); err != nil {
		return ResultCode{}, err
	}
	return d.readResult()
}
