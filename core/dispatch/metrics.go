package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	framesReceived  *prometheus.CounterVec
	framesMalformed prometheus.Counter
	framesDropped   prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, prometheus.Counter, prometheus.Counter) {
	rcv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_frames_received_total",
		Help: "Number of inbound frames processed, by envelope type",
	}, []string{"type"})
	mal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_frames_malformed_total",
		Help: "Number of inbound frames discarded as undecodable",
	})
	drp := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_frames_dropped_total",
		Help: "Number of frames shed by the inbound queue overflow policy",
	})
	return rcv, mal, drp
}

func init() {
	framesReceived, framesMalformed, framesDropped = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(framesReceived, framesMalformed, framesDropped)
}

// ResetMetrics reinitializes metric collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	framesReceived, framesMalformed, framesDropped = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
