package metrics

import coremetrics "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/metrics"

// MultiSink fans dispatch activity out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordDispatch forwards the event to all sinks.
func (m *MultiSink) RecordDispatch(e coremetrics.DispatchEvent) {
	for _, s := range m.Sinks {
		s.RecordDispatch(e)
	}
}

// RecordTelemetry forwards the point to all sinks.
func (m *MultiSink) RecordTelemetry(p coremetrics.TelemetryPoint) {
	for _, s := range m.Sinks {
		s.RecordTelemetry(p)
	}
}

// Close closes all sinks.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		s.Close()
	}
}
