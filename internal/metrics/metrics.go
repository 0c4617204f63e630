// Package metrics holds the prometheus collectors of the relay and the call engine.
// Nil collectors are valid and record nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tribecall"

type Relay struct {
	connections prometheus.Gauge
	forwarded   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
}

func NewRelay(reg prometheus.Registerer) *Relay {
	f := promauto.With(reg)
	return &Relay{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "connections",
			Help: "Open signaling connections.",
		}),
		forwarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "forwarded_total",
			Help: "Signaling messages forwarded, by type.",
		}, []string{"type"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "dropped_total",
			Help: "Signaling messages not delivered, by reason.",
		}, []string{"reason"}),
	}
}

func (r *Relay) ConnOpened() {
	if r != nil {
		r.connections.Inc()
	}
}

func (r *Relay) ConnClosed() {
	if r != nil {
		r.connections.Dec()
	}
}

func (r *Relay) Forwarded(msgType string) {
	if r != nil {
		r.forwarded.WithLabelValues(msgType).Inc()
	}
}

func (r *Relay) Dropped(reason string) {
	if r != nil {
		r.dropped.WithLabelValues(reason).Inc()
	}
}

type Calls struct {
	started           *prometheus.CounterVec
	ended             *prometheus.CounterVec
	candidateFailures prometheus.Counter
	buffered          prometheus.Counter
	active            prometheus.Gauge
}

func NewCalls(reg prometheus.Registerer) *Calls {
	f := promauto.With(reg)
	return &Calls{
		started: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "call", Name: "started_total",
			Help: "Call sessions created, by role.",
		}, []string{"role"}),
		ended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "call", Name: "ended_total",
			Help: "Call sessions ended, by reason.",
		}, []string{"reason"}),
		candidateFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "call", Name: "candidate_failures_total",
			Help: "Remote ICE candidates that failed to apply.",
		}),
		buffered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "call", Name: "candidates_buffered_total",
			Help: "Remote ICE candidates held until the remote description was set.",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "call", Name: "active",
			Help: "1 while a call session is live.",
		}),
	}
}

func (c *Calls) Started(role string) {
	if c != nil {
		c.started.WithLabelValues(role).Inc()
		c.active.Set(1)
	}
}

func (c *Calls) Ended(reason string) {
	if c != nil {
		c.ended.WithLabelValues(reason).Inc()
		c.active.Set(0)
	}
}

func (c *Calls) CandidateFailed() {
	if c != nil {
		c.candidateFailures.Inc()
	}
}

func (c *Calls) CandidateBuffered() {
	if c != nil {
		c.buffered.Inc()
	}
}
