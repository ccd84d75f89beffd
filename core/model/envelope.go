package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies a mesh envelope.
type MessageType string

const (
	// MsgAssign is a server-to-unit assignment command, acknowledged.
	MsgAssign MessageType = "assign"
	// MsgComplete tells the unit its job is confirmed done, head back to base.
	MsgComplete MessageType = "complete"
	// MsgAck acknowledges an assign by msg_id.
	MsgAck MessageType = "ack"
	// MsgTelemetry is a periodic unit position report.
	MsgTelemetry MessageType = "telemetry"
	// MsgArrival is a telemetry report with the arrival flag set by the unit.
	MsgArrival MessageType = "arrival"
	// MsgStatus is a unit-declared status change.
	MsgStatus MessageType = "status"
)

// Envelope is the single JSON message unit exchanged over the mesh transport.
// Fields not relevant to a given type are omitted on the wire.
type Envelope struct {
	Type       MessageType `json:"type"`
	MsgID      string      `json:"msg_id,omitempty"`
	DeliveryID int64       `json:"delivery_id,omitempty"`
	UnitID     string      `json:"unit_id,omitempty"`
	Lat        float64     `json:"lat,omitempty"`
	Lon        float64     `json:"lon,omitempty"`
	Address    string      `json:"address,omitempty"`
	DistanceM  float64     `json:"distance_m,omitempty"`
	Status     string      `json:"status,omitempty"`
	Timestamp  int64       `json:"timestamp,omitempty"`
}

// DecodeEnvelope parses and validates a raw frame.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Validate checks the fields required for the envelope type.
func (e Envelope) Validate() error {
	switch e.Type {
	case MsgAck:
		if e.MsgID == "" {
			return fmt.Errorf("ack envelope missing msg_id")
		}
	case MsgTelemetry, MsgArrival:
		if e.UnitID == "" {
			return fmt.Errorf("%s envelope missing unit_id", e.Type)
		}
	case MsgStatus:
		if e.UnitID == "" || e.Status == "" {
			return fmt.Errorf("status envelope missing unit_id or status")
		}
	case MsgAssign, MsgComplete:
		if e.UnitID == "" || e.DeliveryID == 0 {
			return fmt.Errorf("%s envelope missing unit_id or delivery_id", e.Type)
		}
	default:
		return fmt.Errorf("unknown envelope type %q", e.Type)
	}
	return nil
}

// Position returns the envelope coordinates.
func (e Envelope) Position() Coordinates {
	return Coordinates{Lat: e.Lat, Lon: e.Lon}
}

// Time converts the sender clock timestamp, falling back to fallback when the
// sender did not set one.
func (e Envelope) Time(fallback time.Time) time.Time {
	if e.Timestamp == 0 {
		return fallback
	}
	return time.Unix(e.Timestamp, 0).UTC()
}
