package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the console.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connectsTotal    *prometheus.CounterVec
	rebuildsTotal    prometheus.Counter
	streamEntries    prometheus.Gauge
	pttTotal         *prometheus.CounterVec
	detectionsTotal  *prometheus.CounterVec
	annotationsTotal *prometheus.CounterVec
	notesTotal       *prometheus.CounterVec
	similarTotal     *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		connectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldlink_session_connects_total",
			Help: "Relay connect attempts by result",
		}, []string{"result"}),
		rebuildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldlink_stream_rebuilds_total",
			Help: "Total number of stream registry rebuilds",
		}),
		streamEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldlink_stream_entries",
			Help: "Participants in the latest stream snapshot",
		}),
		pttTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldlink_ptt_transitions_total",
			Help: "Push-to-talk and mic toggle calls by action and result",
		}, []string{"action", "result"}),
		detectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldlink_detections_total",
			Help: "Detection calls by result (ok, fallback, error)",
		}, []string{"result"}),
		annotationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldlink_annotations_total",
			Help: "Embedded object submissions by result",
		}, []string{"result"}),
		notesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldlink_notes_total",
			Help: "Voice note submissions by result",
		}, []string{"result"}),
		similarTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldlink_similar_searches_total",
			Help: "Similarity searches by result (hit, empty, error)",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.connectsTotal,
		m.rebuildsTotal,
		m.streamEntries,
		m.pttTotal,
		m.detectionsTotal,
		m.annotationsTotal,
		m.notesTotal,
		m.similarTotal,
	)
	return m
}

func (m *Metrics) IncConnect(result string) {
	if m == nil {
		return
	}
	m.connectsTotal.WithLabelValues(result).Inc()
}

// ObserveRebuild counts a registry rebuild and records its size.
func (m *Metrics) ObserveRebuild(entries int) {
	if m == nil {
		return
	}
	m.rebuildsTotal.Inc()
	m.streamEntries.Set(float64(entries))
}

func (m *Metrics) IncPTT(action, result string) {
	if m == nil {
		return
	}
	m.pttTotal.WithLabelValues(action, result).Inc()
}

func (m *Metrics) IncDetection(result string) {
	if m == nil {
		return
	}
	m.detectionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncAnnotation(result string) {
	if m == nil {
		return
	}
	m.annotationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncNote(result string) {
	if m == nil {
		return
	}
	m.notesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncSimilar(result string) {
	if m == nil {
		return
	}
	m.similarTotal.WithLabelValues(result).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
