package outbound

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sendAttempts   prometheus.Counter
	sendFailures   prometheus.Counter
	retriesTotal   prometheus.Counter
	acksTotal      prometheus.Counter
	exhaustedTotal prometheus.Counter
	ackLatency     prometheus.Histogram
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Counter, prometheus.Counter, prometheus.Counter, prometheus.Counter, prometheus.Counter, prometheus.Histogram) {
	att := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbound_send_attempts_total",
		Help: "Number of frames handed to the transport, retransmissions included",
	})
	fail := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbound_send_failures_total",
		Help: "Number of transport send errors",
	})
	ret := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbound_retries_total",
		Help: "Number of retransmissions of unacknowledged messages",
	})
	ack := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbound_acks_total",
		Help: "Number of pending messages retired by acknowledgment",
	})
	exh := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbound_exhausted_total",
		Help: "Number of pending messages retired by attempt exhaustion",
	})
	lat := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbound_ack_latency_seconds",
		Help:    "Time between first send and acknowledgment",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
	return att, fail, ret, ack, exh, lat
}

func init() {
	sendAttempts, sendFailures, retriesTotal, acksTotal, exhaustedTotal, ackLatency = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers outbound metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(sendAttempts, sendFailures, retriesTotal, acksTotal, exhaustedTotal, ackLatency)
}

// ResetMetrics reinitializes metric collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	sendAttempts, sendFailures, retriesTotal, acksTotal, exhaustedTotal, ackLatency = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
