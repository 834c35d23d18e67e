package live

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "live"

// Metrics counts what flows through a controller. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	packetsSent     prometheus.Counter
	packetsDropped  prometheus.Counter
	chunksScheduled prometheus.Counter
	chunksMalformed prometheus.Counter
	interruptions   prometheus.Counter
	sessions        *prometheus.CounterVec
	activeBuffers   prometheus.Gauge
}

// NewMetrics registers the live metrics with reg. A nil registerer yields
// working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		packetsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_sent_total",
			Help:      "Outbound frames handed to the transport",
		}),
		packetsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_dropped_total",
			Help:      "Outbound audio frames dropped because the send queue was full",
		}),
		chunksScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "chunks_scheduled_total",
			Help:      "Inbound audio chunks scheduled for playback",
		}),
		chunksMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "chunks_malformed_total",
			Help:      "Inbound audio chunks dropped as undecodable",
		}),
		interruptions: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "interruptions_total",
			Help:      "Playback flushes triggered by the remote agent",
		}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by outcome",
		}, []string{"outcome"}),
		activeBuffers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_buffers",
			Help:      "Playback buffers scheduled or playing",
		}),
	}
}

func (m *Metrics) packetSent() {
	if m != nil {
		m.packetsSent.Inc()
	}
}

func (m *Metrics) packetDropped() {
	if m != nil {
		m.packetsDropped.Inc()
	}
}

func (m *Metrics) chunkScheduled() {
	if m != nil {
		m.chunksScheduled.Inc()
	}
}

func (m *Metrics) chunkMalformed() {
	if m != nil {
		m.chunksMalformed.Inc()
	}
}

func (m *Metrics) interrupted() {
	if m != nil {
		m.interruptions.Inc()
	}
}

func (m *Metrics) sessionEnded(outcome string) {
	if m != nil {
		m.sessions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) setActiveBuffers(n int) {
	if m != nil {
		m.activeBuffers.Set(float64(n))
	}
}
