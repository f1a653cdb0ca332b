// Package session drives the modem from Disconnected to Connected — the
// scan / descriptor-select / join dance of SPEC_FULL.md §4.C — and, once
// connected, offers a datagram send/recv pair filtered to the one peer and
// port pair the B-route link uses.
package session

import (
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/brouteexp/broute-exporter/internal/modem"
)

// echonetUDPPort is the fixed UDP port ECHONET Lite uses on both ends of
// the B-route link.
const echonetUDPPort = 3610

// sendHandle is the modem's fixed UDP handle for the connected session.
const sendHandle = 1

// Numeric event codes the scan/join state machine watches for.
const (
	evScanFoundDescriptor uint8 = 0x20
	evScanComplete        uint8 = 0x22
	evJoinFailed          uint8 = 0x24
	evJoinSucceeded       uint8 = 0x25
)

var (
	// ErrCoordinatorNotFound is returned by Connect when a scan completes
	// with no coordinator found.
	ErrCoordinatorNotFound = errors.New("session: coordinator not found")
	// ErrConnectionFailed is returned by Connect when the join handshake
	// fails (event 0x24).
	ErrConnectionFailed = errors.New("session: connection failed")
	// ErrNotConnected is returned by Send/Recv when called before Connect
	// succeeds or after Close.
	ErrNotConnected = errors.New("session: not connected")
	// ErrAlreadyConnected guards a second Connect call while one is
	// already in progress or established; the underlying protocol has no
	// supported way to reconfigure credentials on a live session.
	ErrAlreadyConnected = errors.New("session: already connected")
	// ErrTimeout is returned by Recv when no matching datagram arrives
	// within the requested window.
	ErrTimeout = errors.New("session: recv timeout")
)

// State is a position in the Disconnected → Connected state machine.
type State int

const (
	Disconnected State = iota
	Scanning
	DescriptorSelected
	Joining
	Connected
	Terminated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Scanning:
		return "Scanning"
	case DescriptorSelected:
		return "DescriptorSelected"
	case Joining:
		return "Joining"
	case Connected:
		return "Connected"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Credentials is the optional Route-B identity written before scanning.
type Credentials struct {
	RouteBID string // 32 hex chars
	Password string
}

// Manager owns the modem driver across its whole connected lifetime.
type Manager struct {
	driver     *modem.Driver
	log        logrus.FieldLogger
	state      State
	remoteAddr net.IP
}

// NewManager wraps driver. log may be nil.
func NewManager(driver *modem.Driver, log logrus.FieldLogger) *Manager {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Manager{driver: driver, log: log}
}

// State reports the manager's current position in the state machine.
func (m *Manager) State() State {
	return m.state
}

// RemoteAddr is the coordinator's link-local address, set once Connect
// succeeds and immutable until Close.
func (m *Manager) RemoteAddr() net.IP {
	return m.remoteAddr
}

func okOrErr(res modem.ResultCode, op string) error {
	if res.IsOk() {
		return nil
	}
	return fmt.Errorf("session: %s: %w", op, res.Fail)
}

// Connect scans for a coordinator, joins it, and blocks until the session
// reaches Connected, CoordinatorNotFound, or ConnectionFailed.
func (m *Manager) Connect(creds *Credentials, scanMask uint32, scanDuration uint8) (err error) {
	if m.state != Disconnected && m.state != Terminated {
		return ErrAlreadyConnected
	}
	m.state = Disconnected
	m.remoteAddr = nil
	defer func() {
		if err != nil {
			m.state = Disconnected
			m.remoteAddr = nil
		}
	}()

	if creds != nil {
		res, err := m.driver.SetRouteBID(creds.RouteBID)
		if err != nil {
			return err
		}
		if err := okOrErr(res, "SKSETRBID"); err != nil {
			return err
		}
		res, err = m.driver.SetRouteBPassword(creds.Password)
		if err != nil {
			return err
		}
		if err := okOrErr(res, "SKSETPWD"); err != nil {
			return err
		}
	}

	m.state = Scanning
	res, err := m.driver.Scan(modem.ScanModeActiveWithIE, scanMask, scanDuration, modem.SideB)
	if err != nil {
		return err
	}
	if err := okOrErr(res, "SKSCAN"); err != nil {
		return err
	}

	found, err := m.drainUntilScanOutcome()
	if err != nil {
		return err
	}
	if !found {
		return ErrCoordinatorNotFound
	}

	ev, err := m.driver.WaitEvent()
	if err != nil {
		return err
	}
	desc, ok := ev.(modem.PanDescriptorEvent)
	if !ok {
		return fmt.Errorf("session: expected a pan descriptor after scan event 0x%02X, got %T", evScanFoundDescriptor, ev)
	}
	m.state = DescriptorSelected

	if err := m.drainUntilScanComplete(); err != nil {
		return err
	}

	remote, err := m.driver.ResolveLinkLocal(desc.Addr64)
	if err != nil {
		return err
	}
	m.remoteAddr = remote

	res, err = m.driver.SetRegister(modem.RegS02, fmt.Sprintf("%02X", desc.Channel))
	if err != nil {
		return err
	}
	if err := okOrErr(res, "SKSREG S02"); err != nil {
		return err
	}
	res, err = m.driver.SetRegister(modem.RegS03, fmt.Sprintf("%04X", desc.PanID))
	if err != nil {
		return err
	}
	if err := okOrErr(res, "SKSREG S03"); err != nil {
		return err
	}

	m.state = Joining
	res, err = m.driver.Join(m.remoteAddr)
	if err != nil {
		return err
	}
	if err := okOrErr(res, "SKJOIN"); err != nil {
		return err
	}

	if err := m.drainUntilJoinOutcome(); err != nil {
		return err
	}

	m.state = Connected
	return nil
}

// drainUntilScanOutcome watches events until either a descriptor was found
// (0x20, returns true) or the scan completed empty (0x22, returns false).
func (m *Manager) drainUntilScanOutcome() (bool, error) {
	for {
		ev, err := m.driver.WaitEvent()
		if err != nil {
			return false, err
		}
		num, ok := ev.(modem.NumericEvent)
		if !ok {
			m.log.WithField("event", "unexpected_during_scan").Debugf("session: skipped %T while scanning", ev)
			continue
		}
		switch num.Num {
		case evScanFoundDescriptor:
			return true, nil
		case evScanComplete:
			return false, nil
		default:
			m.log.WithField("event", "unexpected_numeric_during_scan").Debugf("session: skipped EVENT %02X while scanning", num.Num)
		}
	}
}

// drainUntilScanComplete discards events (including duplicate descriptors)
// until the scan-complete notification.
func (m *Manager) drainUntilScanComplete() error {
	for {
		ev, err := m.driver.WaitEvent()
		if err != nil {
			return err
		}
		if num, ok := ev.(modem.NumericEvent); ok && num.Num == evScanComplete {
			return nil
		}
		m.log.WithField("event", "discarded_after_descriptor").Debugf("session: discarded %T draining to scan-complete", ev)
	}
}

func (m *Manager) drainUntilJoinOutcome() error {
	for {
		ev, err := m.driver.WaitEvent()
		if err != nil {
			return err
		}
		num, ok := ev.(modem.NumericEvent)
		if !ok {
			m.log.WithField("event", "unexpected_during_join").Debugf("session: skipped %T while joining", ev)
			continue
		}
		switch num.Num {
		case evJoinFailed:
			return ErrConnectionFailed
		case evJoinSucceeded:
			return nil
		default:
			m.log.WithField("event", "unexpected_numeric_during_join").Debugf("session: skipped EVENT %02X while joining", num.Num)
		}
	}
}

// Send transmits payload to the connected coordinator.
func (m *Manager) Send(payload []byte) error {
	if m.state != Connected {
		return ErrNotConnected
	}
	res, err := m.driver.SendTo(sendHandle, m.remoteAddr, echonetUDPPort, modem.SecurityEncrypted, modem.SideB, payload)
	if err != nil {
		return err
	}
	return okOrErr(res, "SKSENDTO")
}

// Recv waits up to timeoutMs for a datagram from the connected coordinator
// on the ECHONET port, discarding anything else.
func (m *Manager) Recv(timeoutMs int) ([]byte, error) {
	if m.state != Connected {
		return nil, ErrNotConnected
	}
	for {
		ev, ok, err := m.driver.PollEvent(timeoutMs)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrTimeout
		}
		dg, isDatagram := ev.(modem.ReceivedDatagramEvent)
		if !isDatagram {
			m.log.WithField("event", "discarded_non_datagram").Debugf("session: discarded %T while receiving", ev)
			continue
		}
		if !dg.Sender.Equal(m.remoteAddr) || dg.RPort != echonetUDPPort || dg.LPort != echonetUDPPort {
			m.log.WithField("event", "discarded_peer_mismatch").Debugf("session: discarded datagram from %s:%d/%d", dg.Sender, dg.RPort, dg.LPort)
			continue
		}
		return dg.Payload, nil
	}
}

// Close best-effort terminates the session and transitions to Terminated.
// It is idempotent and its own result is ignored per SPEC_FULL.md §4.C.
func (m *Manager) Close() error {
	if m.state == Terminated {
		return nil
	}
	if m.state == Connected || m.state == Joining {
		_, _ = m.driver.Terminate()
	}
	m.state = Terminated
	return nil
}
