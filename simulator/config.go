package simulator

import (
	"fmt"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
)

// Config holds parameters for one simulated delivery unit.
type Config struct {
	// UnitID identifies the unit on the mesh.
	UnitID string `json:"unit_id"`
	// Base is the start position and return point.
	Base model.Coordinates `json:"base"`
	// SpeedMPS is the travel speed in meters per second.
	SpeedMPS float64 `json:"speed_mps"`
	// TelemetryIntervalSeconds is the position report cadence.
	TelemetryIntervalSeconds int `json:"telemetry_interval_seconds"`
	// ArrivalThresholdM is the proximity at which the unit declares arrival.
	ArrivalThresholdM float64 `json:"arrival_threshold_m"`
	// AckDelayMS delays acknowledgments to exercise the retry path.
	AckDelayMS int `json:"ack_delay_ms"`
	// AckDropRate drops acknowledgments with the given probability.
	AckDropRate float64 `json:"ack_drop_rate"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.SpeedMPS <= 0 {
		c.SpeedMPS = 8
	}
	if c.TelemetryIntervalSeconds <= 0 {
		c.TelemetryIntervalSeconds = 10
	}
	if c.ArrivalThresholdM <= 0 {
		c.ArrivalThresholdM = 30
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.UnitID == "" {
		return fmt.Errorf("simulator: unit_id is required")
	}
	if c.AckDropRate < 0 || c.AckDropRate >= 1 {
		return fmt.Errorf("simulator: ack_drop_rate must be in [0, 1)")
	}
	return nil
}
