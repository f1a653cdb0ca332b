// Package modem drives the SK-style AT-command Wi-SUN modem: it turns the
// line-oriented command/event protocol on the serial wire into typed
// command results and a queue of asynchronous events (SPEC_FULL.md §4.B).
package modem

import (
	"errors"
	"fmt"
)

// ErrDisconnected names a modem-level hang-up. Driver methods do not return
// it: a port that hangs up mid-command or mid-event surfaces as
// lineport.ErrDisconnected, passed through unchanged.
var ErrDisconnected = errors.New("modem: disconnected")

// Side identifies which radio interface an event or command refers to.
type Side uint8

const (
	SideB Side = 0 // Wi-SUN upstream
	SideH Side = 1 // HAN downstream
)

func (s Side) String() string {
	switch s {
	case SideB:
		return "B"
	case SideH:
		return "H"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

func parseSide(tok string) (Side, error) {
	switch tok {
	case "0":
		return SideB, nil
	case "1":
		return SideH, nil
	default:
		return 0, fmt.Errorf("modem: invalid side field %q", tok)
	}
}

// ScanMode selects the SKSCAN scan algorithm.
type ScanMode uint8

const (
	ScanModeED              ScanMode = 0
	ScanModeActiveWithIE    ScanMode = 2
	ScanModeActiveWithoutIE ScanMode = 3
)

// SecurityMode selects SKSENDTO's security handling.
type SecurityMode uint8

const (
	SecurityPlain             SecurityMode = 0
	SecurityEncrypted         SecurityMode = 1
	SecurityEncryptedFallback SecurityMode = 2
)

// SRegisterId is one of the closed set of named modem registers addressable
// via SKSREG.
type SRegisterId string

const (
	RegS02 SRegisterId = "S02"
	RegS03 SRegisterId = "S03"
	RegS07 SRegisterId = "S07"
	RegS0A SRegisterId = "S0A"
	RegS0B SRegisterId = "S0B"
	RegS15 SRegisterId = "S15"
	RegS16 SRegisterId = "S16"
	RegS17 SRegisterId = "S17"
	RegS1C SRegisterId = "S1C"
	RegSA1 SRegisterId = "SA1"
	RegSA2 SRegisterId = "SA2"
	RegSA9 SRegisterId = "SA9"
	RegSF0 SRegisterId = "SF0"
	RegSFB SRegisterId = "SFB"
	RegSFD SRegisterId = "SFD"
	RegSFE SRegisterId = "SFE"
	RegSFF SRegisterId = "SFF"
)

// ErrorKind classifies a modem FAIL result. Reserved covers ERnn codes the
// protocol defines but that have no specific meaning this driver acts on.
type ErrorKind int

const (
	CommandNotSupported       ErrorKind = iota // ER04
	InvalidArgument                            // ER05
	InvalidFormatOrOutOfRange                   // ER06
	UartInputError                              // ER09
	ExecutionFailed                             // ER10
	ReservedError                               // any other in-range ERnn
)

func (k ErrorKind) String() string {
	switch k {
	case CommandNotSupported:
		return "CommandNotSupported"
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidFormatOrOutOfRange:
		return "InvalidFormatOrOutOfRange"
	case UartInputError:
		return "UartInputError"
	case ExecutionFailed:
		return "ExecutionFailed"
	case ReservedError:
		return "Reserved"
	default:
		return "Unknown"
	}
}

// namedErrorCodes are the ERnn codes with a specific, named ErrorKind.
// Everything else in the 1..10 range the protocol defines is ReservedError;
// a code outside that range at all is a firmware/protocol mismatch (the
// FAIL branch of readOutcome in driver.go panics on it).
var namedErrorCodes = map[int]ErrorKind{
	4:  CommandNotSupported,
	5:  InvalidArgument,
	6:  InvalidFormatOrOutOfRange,
	9:  UartInputError,
	10: ExecutionFailed,
}

const maxKnownErrorCode = 10

func errorKindFromCode(code int) (ErrorKind, bool) {
	if kind, ok := namedErrorCodes[code]; ok {
		return kind, true
	}
	if code >= 1 && code <= maxKnownErrorCode {
		return ReservedError, true
	}
	return 0, false
}

// Failure describes a FAIL ERnn command result.
type Failure struct {
	Kind ErrorKind
	Code int
}

func (f *Failure) Error() string {
	return fmt.Sprintf("modem: command failed ER%02d (%s)", f.Code, f.Kind)
}

// ResultCode is a command's Ok/Fail outcome. A nil Fail means Ok.
type ResultCode struct {
	Fail *Failure
}

// IsOk reports whether the command succeeded.
func (r ResultCode) IsOk() bool {
	return r.Fail == nil
}

func (r ResultCode) Error() error {
	if r.Fail == nil {
		return nil
	}
	return r.Fail
}
