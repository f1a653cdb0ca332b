package echonet

import (
	"github.com/sirupsen/logrus"
)

// datagramTransport is the slice of *session.Manager the correlator needs.
// Declaring it locally (rather than importing the session package) keeps
// the codec ignorant of how bytes reach the peer, and lets tests supply a
// trivial fake instead of a fully wired modem stack.
type datagramTransport interface {
	Send(payload []byte) error
	Recv(timeoutMs int) ([]byte, error)
}

// Correlator matches ECHONET Lite requests to responses by transaction id
// over a connected session, discarding unrelated or stale traffic.
type Correlator struct {
	transport datagramTransport
	log       logrus.FieldLogger
}

// NewCorrelator wraps transport. log may be nil.
func NewCorrelator(transport datagramTransport, log logrus.FieldLogger) *Correlator {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Correlator{transport: transport, log: log}
}

// Request encodes and sends frame, then reads datagrams until one decodes
// with a matching transaction id or the timeout elapses. The timeout
// applies per inner read, not to the call as a whole (SPEC_FULL.md §4.D,
// §9).
func (c *Correlator) Request(frame Frame, timeoutMs int) (Frame, error) {
	encoded, err := Encode(frame)
	if err != nil {
		return nil, err
	}
	if err := c.transport.Send(encoded); err != nil {
		return nil, err
	}
	wantTID := TID(frame)
	for {
		data, err := c.transport.Recv(timeoutMs)
		if err != nil {
			return nil, err
		}
		resp, err := Decode(data)
		if err != nil {
			c.log.WithField("event", "undecodable_response").Debugf("echonet: discarding undecodable datagram: %v", err)
			continue
		}
		if TID(resp) == wantTID {
			return resp, nil
		}
		c.log.WithField("event", "tid_mismatch").Debugf("echonet: discarding response tid %04X, want %04X", TID(resp), wantTID)
	}
}
