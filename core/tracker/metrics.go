package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
)

var unitsOffline prometheus.Counter

// newCollectors creates new metric collectors.
func newCollectors() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_units_marked_offline_total",
		Help: "Number of times the staleness sweep marked a unit offline",
	})
}

func init() {
	unitsOffline = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers tracker metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(unitsOffline)
}

// ResetMetrics reinitializes metric collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	unitsOffline = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
