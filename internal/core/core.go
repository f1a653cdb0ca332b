// Package core composes the session manager and the ECHONET correlator
// into the one operation the HTTP frontend drives: scrape() -> readings
// (SPEC_FULL.md §6). It owns the Connect-on-first-use lifecycle, since
// persisting a scan across restarts is an explicit non-goal.
package core

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brouteexp/broute-exporter/internal/echonet"
	"github.com/brouteexp/broute-exporter/internal/session"
)

// controllerObject is the fixed SEOJ every request uses: a generic
// controller, instance 1.
var controllerObject = echonet.Eoj{ClassGroup: 0x05, ClassCode: 0xFF, Instance: 0x01}

// getESV and getResESV are the only two service codes this core speaks.
const (
	getESV    = 0x62
	getResESV = 0x63
)

// Measure is one configured metric: which EPC to Get from TargetObject and
// how to decode the returned EDT.
type Measure struct {
	Name   string
	Help   string
	Epc    byte
	Layout []echonet.FieldType
}

// FieldNames returns the Reading names this measure can produce, in the
// same order echonet.ReadFields assigns them: Name unchanged when there is
// exactly one layout entry, Name suffixed by index otherwise. The frontend
// uses this to build its Prometheus gauges once at startup, before any
// value has been read.
func (m Measure) FieldNames() []string {
	if len(m.Layout) <= 1 {
		return []string{m.Name}
	}
	names := make([]string, len(m.Layout))
	for i := range m.Layout {
		names[i] = fmt.Sprintf("%s_%d", m.Name, i)
	}
	return names
}

// Reading is one decoded metric value ready for exposition.
type Reading struct {
	Name  string
	Value int64
}

// Core ties a session to a correlator and the configured measure list.
type Core struct {
	session       *session.Manager
	correlator    *echonet.Correlator
	tids          *echonet.TIDAllocator
	credentials   *session.Credentials
	scanMask      uint32
	scanDuration  uint8
	targetObject  echonet.Eoj
	measures      []Measure
	recvTimeoutMs int
	log           logrus.FieldLogger
}

// New builds a Core. credentials may be nil for an already-paired meter
// that needs no Route-B identity exchange.
func New(
	sess *session.Manager,
	credentials *session.Credentials,
	scanMask uint32,
	scanDuration uint8,
	targetObject echonet.Eoj,
	measures []Measure,
	recvTimeoutMs int,
	log logrus.FieldLogger,
) *Core {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Core{
		session:       sess,
		correlator:    echonet.NewCorrelator(sess, log),
		tids:          echonet.NewTIDAllocator(),
		credentials:   credentials,
		scanMask:      scanMask,
		scanDuration:  scanDuration,
		targetObject:  targetObject,
		measures:      measures,
		recvTimeoutMs: recvTimeoutMs,
		log:           log,
	}
}

// Scrape connects on first use, then issues one ECHONET Get per configured
// measure and returns every decoded field. It is not safe to call
// concurrently with itself; the frontend is expected to serialize scrapes
// (SPEC_FULL.md §5).
func (c *Core) Scrape() ([]Reading, error) {
	if c.session.State() != session.Connected {
		if err := c.session.Connect(c.credentials, c.scanMask, c.scanDuration); err != nil {
			return nil, fmt.Errorf("core: connect: %w", err)
		}
	}

	var readings []Reading
	for _, m := range c.measures {
		req := echonet.Format1Frame{
			Tid: c.tids.Next(),
			EData: echonet.EData{
				Seoj:  controllerObject,
				Deoj:  c.targetObject,
				Esv:   getESV,
				Props: []echonet.Property{{Epc: m.Epc}},
			},
		}
		resp, err := c.correlator.Request(req, c.recvTimeoutMs)
		if err != nil {
			return nil, fmt.Errorf("core: measure %s: %w", m.Name, err)
		}
		f1, ok := resp.(echonet.Format1Frame)
		if !ok || f1.EData.Esv != getResESV {
			c.log.WithField("event", "unexpected_response").Warnf("core: measure %s: unexpected response shape", m.Name)
			continue
		}
		for _, p := range f1.EData.Props {
			if p.Epc != m.Epc {
				continue
			}
			readings = append(readings, fieldsToReadings(echonet.ReadFields(p, m.Name, m.Layout))...)
		}
	}
	return readings, nil
}

func fieldsToReadings(values []echonet.NamedValue) []Reading {
	out := make([]Reading, len(values))
	for i, v := range values {
		out[i] = Reading{Name: v.Name, Value: v.Value}
	}
	return out
}

// Close tears down the session, if one was established.
func (c *Core) Close() error {
	return c.session.Close()
}
