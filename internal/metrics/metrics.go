// Package metrics implements routing.MetricsSink on top of
// prometheus/client_golang, grounded on madpsy-ka9q_ubersdr/prometheus.go's
// promauto-registered gauge/counter style. Exposing these over HTTP is a
// host-integration concern (spec §1 Non-goals exclude observability
// surfaces from the CORE); only cmd/audiosrvd wires a promhttp handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink records routing/device events as Prometheus counters and gauges. It
// implements the routing.MetricsSink interface structurally (routing does
// not import this package, avoiding a dependency cycle from the core
// policy engine onto an ambient concern).
type Sink struct {
	deviceOpenFailures   *prometheus.CounterVec
	fallbackEngagements  *prometheus.CounterVec
	overrunFrames        *prometheus.CounterVec
	underrunFrames       *prometheus.CounterVec
	activeStreams        prometheus.Gauge
	ncBlocked            prometheus.Gauge
	floopPairsAllocated  prometheus.Gauge
}

// New registers and returns a Sink. Call once per process; registering
// twice against the default registry panics, matching promauto's
// contract.
func New() *Sink {
	return &Sink{
		deviceOpenFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiosrv_device_open_failures_total",
				Help: "Device open failures by device index",
			},
			[]string{"device"},
		),
		fallbackEngagements: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiosrv_fallback_engagements_total",
				Help: "Times the fallback device was engaged for a direction",
			},
			[]string{"direction"},
		),
		overrunFrames: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiosrv_overrun_frames_total",
				Help: "Frames lost to SAB overrun by stream id",
			},
			[]string{"stream"},
		),
		underrunFrames: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiosrv_underrun_frames_total",
				Help: "Frames synthesized as silence on underrun by stream id",
			},
			[]string{"stream"},
		),
		activeStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "audiosrv_active_streams",
				Help: "Currently registered streams",
			},
		),
		ncBlocked: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "audiosrv_nc_blocked",
				Help: "1 if noise cancellation is currently blocked, else 0",
			},
		),
		floopPairsAllocated: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "audiosrv_floop_pairs_allocated",
				Help: "Currently allocated flexible-loopback pairs",
			},
		),
	}
}

// DeviceOpenFailed records a failed device open (spec §4.7's "record the
// failure metric" on non-transient stream_added failures).
func (s *Sink) DeviceOpenFailed(deviceLabel string) {
	s.deviceOpenFailures.WithLabelValues(deviceLabel).Inc()
}

// FallbackEngaged records the fallback device being enabled for a
// direction (spec §4.7 step 2/6).
func (s *Sink) FallbackEngaged(direction string) {
	s.fallbackEngagements.WithLabelValues(direction).Inc()
}

// OverrunFrames records frames lost to a capture overrun (spec §4.1).
func (s *Sink) OverrunFrames(streamLabel string, frames int) {
	s.overrunFrames.WithLabelValues(streamLabel).Add(float64(frames))
}

// UnderrunFrames records frames synthesized as silence (spec §4.1).
func (s *Sink) UnderrunFrames(streamLabel string, frames int) {
	s.underrunFrames.WithLabelValues(streamLabel).Add(float64(frames))
}

// SetActiveStreams reports the current stream count (spec §4.2's
// NUM_ACTIVE_STREAMS_CHANGED source of truth).
func (s *Sink) SetActiveStreams(n int) {
	s.activeStreams.Set(float64(n))
}

// SetNCBlocked reports the computed NC-blocked flag (spec §4.7/§8).
func (s *Sink) SetNCBlocked(blocked bool) {
	if blocked {
		s.ncBlocked.Set(1)
	} else {
		s.ncBlocked.Set(0)
	}
}

// SetFloopPairsAllocated reports the current floop pair count (spec §4.9).
func (s *Sink) SetFloopPairsAllocated(n int) {
	s.floopPairsAllocated.Set(float64(n))
}
