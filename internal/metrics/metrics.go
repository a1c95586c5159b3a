// Package metrics exposes prometheus instrumentation for the sync
// engine. All methods are safe on a nil receiver so instrumentation
// stays optional for embedders and tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pitchside"

// Metrics holds the engine's collectors.
type Metrics struct {
	syncedEvents  prometheus.Counter
	syncedAudio   prometheus.Counter
	syncFailures  *prometheus.CounterVec
	pendingEvents prometheus.Gauge
	pendingAudio  prometheus.Gauge
	passDuration  prometheus.Histogram
	captures      prometheus.Counter
}

// New registers the engine's collectors on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synced_events_total",
			Help:      "Event records confirmed by the backend.",
		}),
		syncedAudio: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synced_audio_total",
			Help:      "Audio records transcribed, submitted, and confirmed.",
		}),
		syncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_failures_total",
			Help:      "Per-record sync failures by record kind.",
		}, []string{"kind"}),
		pendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_events",
			Help:      "Event records awaiting sync.",
		}),
		pendingAudio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_audio",
			Help:      "Audio records awaiting sync.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_pass_duration_seconds",
			Help:      "Duration of full sync passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		captures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Capture sessions that produced a transcript.",
		}),
	}

	reg.MustRegister(
		m.syncedEvents, m.syncedAudio, m.syncFailures,
		m.pendingEvents, m.pendingAudio, m.passDuration, m.captures,
	)
	return m
}

// EventSynced counts one event record confirmed remote.
func (m *Metrics) EventSynced() {
	if m == nil {
		return
	}
	m.syncedEvents.Inc()
}

// AudioSynced counts one audio record confirmed remote.
func (m *Metrics) AudioSynced() {
	if m == nil {
		return
	}
	m.syncedAudio.Inc()
}

// SyncFailed counts one per-record failure. kind is "event" or "audio".
func (m *Metrics) SyncFailed(kind string) {
	if m == nil {
		return
	}
	m.syncFailures.WithLabelValues(kind).Inc()
}

// SetPending updates the pending gauges.
func (m *Metrics) SetPending(events, audio int) {
	if m == nil {
		return
	}
	m.pendingEvents.Set(float64(events))
	m.pendingAudio.Set(float64(audio))
}

// ObservePass records the duration of one sync pass.
func (m *Metrics) ObservePass(d time.Duration) {
	if m == nil {
		return
	}
	m.passDuration.Observe(d.Seconds())
}

// CaptureCompleted counts one capture session that produced a transcript.
func (m *Metrics) CaptureCompleted() {
	if m == nil {
		return
	}
	m.captures.Inc()
}
