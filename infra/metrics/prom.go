// Package metrics provides the sink implementations exporting dispatch
// activity to Prometheus and InfluxDB.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/metrics"
)

// PromSink records dispatch activity in Prometheus metrics.
type PromSink struct {
	events    *prometheus.CounterVec
	telemetry *prometheus.CounterVec
}

// NewPromSink registers dispatch metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink() (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_events_total",
		Help: "Total number of delivery lifecycle events",
	}, []string{"kind", "status"})
	telemetry := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "unit_telemetry_points_total",
		Help: "Total number of unit position reports recorded",
	}, []string{"unit_id"})

	if err := reg.Register(events); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			events = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(telemetry); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			telemetry = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}

	return &PromSink{events: events, telemetry: telemetry}, nil
}

// RecordDispatch increments the delivery event counter.
func (s *PromSink) RecordDispatch(e coremetrics.DispatchEvent) {
	s.events.WithLabelValues(e.Kind, e.Status).Inc()
}

// RecordTelemetry increments the telemetry counter for the unit.
func (s *PromSink) RecordTelemetry(p coremetrics.TelemetryPoint) {
	s.telemetry.WithLabelValues(p.UnitID).Inc()
}

// Close implements coremetrics.Sink.
func (s *PromSink) Close() {}
