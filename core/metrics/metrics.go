// Package metrics defines the sink abstraction for exporting dispatch
// activity to external time-series backends.
package metrics

import (
	"time"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
)

// TelemetryPoint is one unit position report.
type TelemetryPoint struct {
	UnitID   string
	Position model.Coordinates
	At       time.Time
}

// DispatchEvent is one delivery lifecycle change.
type DispatchEvent struct {
	Kind       string
	DeliveryID int64
	UnitID     string
	Status     string
	At         time.Time
}

// Sink receives dispatch activity. Implementations must not block the caller.
type Sink interface {
	RecordTelemetry(p TelemetryPoint)
	RecordDispatch(e DispatchEvent)
	Close()
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordTelemetry(TelemetryPoint) {}
func (NopSink) RecordDispatch(DispatchEvent)   {}
func (NopSink) Close()                         {}

// Config selects and configures the enabled sinks.
type Config struct {
	// PrometheusPort serves /metrics when non-zero.
	PrometheusPort int `json:"prometheus_port"`
	// InfluxEnabled turns on the InfluxDB sink.
	InfluxEnabled bool   `json:"influx_enabled"`
	InfluxURL     string `json:"influx_url"`
	InfluxToken   string `json:"influx_token"`
	InfluxOrg     string `json:"influx_org"`
	InfluxBucket  string `json:"influx_bucket"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusPort == 0 {
		c.PrometheusPort = 2112
	}
}
