package dispatch

import (
	"fmt"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
)

// Config tunes the coordinator.
type Config struct {
	// Base is where units return to after a completed delivery.
	Base model.Coordinates `json:"base"`
	// QueueSize bounds the inbound frame queue.
	QueueSize int `json:"queue_size"`
	// ArrivalThresholdM is the proximity, in meters, at which a telemetry
	// position counts as destination arrival.
	ArrivalThresholdM float64 `json:"arrival_threshold_m"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 500
	}
	if c.ArrivalThresholdM <= 0 {
		c.ArrivalThresholdM = 50
	}
}

// Validate checks bounds.
func (c Config) Validate() error {
	if c.Base.Lat < -90 || c.Base.Lat > 90 || c.Base.Lon < -180 || c.Base.Lon > 180 {
		return fmt.Errorf("dispatch: base coordinates out of range")
	}
	return nil
}
