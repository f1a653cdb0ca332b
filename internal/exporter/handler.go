// Package exporter is the HTTP frontend: it calls the core once per scrape
// request and formats the returned readings as Prometheus gauges
// (SPEC_FULL.md §10.C). Everything HTTP-shaped — the /metrics path,
// content type, and status codes — lives here, never in the core.
package exporter

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/brouteexp/broute-exporter/internal/core"
	"github.com/brouteexp/broute-exporter/internal/lineport"
	"github.com/brouteexp/broute-exporter/internal/session"
)

const namespace = "broute"

// Handler serves /metrics. The core isn't re-entrant, so Handler
// serializes scrapes itself with a mutex rather than relying on callers
// to.
type Handler struct {
	core     *core.Core
	registry *prometheus.Registry
	gauges   map[string]prometheus.Gauge
	log      logrus.FieldLogger
	mu       sync.Mutex
}

// NewHandler builds a Handler with one Prometheus gauge per field name
// across measures, registered once so a scrape that yields nothing
// unexpected still exposes every metric (at its last-known or zero value).
func NewHandler(c *core.Core, measures []core.Measure, log logrus.FieldLogger) *Handler {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	registry := prometheus.NewRegistry()
	gauges := make(map[string]prometheus.Gauge)
	for _, m := range measures {
		for _, name := range m.FieldNames() {
			g := prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      name,
				Help:      m.Help,
			})
			registry.MustRegister(g)
			gauges[name] = g
		}
	}
	return &Handler{core: c, registry: registry, gauges: gauges, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	readings, err := h.core.Scrape()
	if err != nil {
		h.log.WithField("event", "scrape_failed").Errorf("exporter: scrape failed: %v", err)
		http.Error(w, "scrape failed", statusFor(err))
		return
	}
	for _, rd := range readings {
		if g, ok := h.gauges[rd.Name]; ok {
			g.Set(float64(rd.Value))
		} else {
			h.log.WithField("event", "unmapped_reading").Warnf("exporter: reading %q has no configured gauge", rd.Name)
		}
	}
	promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// statusFor maps the core's error taxonomy to the status codes
// SPEC_FULL.md §7 assigns the frontend: Timeout, Disconnected, and
// ConnectionFailed are transient upstream conditions (504); everything
// else is a generic server error.
func statusFor(err error) int {
	if errors.Is(err, session.ErrTimeout) ||
		errors.Is(err, lineport.ErrDisconnected) ||
		errors.Is(err, session.ErrConnectionFailed) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
