package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryTransitions(t *testing.T) {
	assert.True(t, DeliveryPending.CanTransition(DeliveryAssigned))
	assert.True(t, DeliveryAssigned.CanTransition(DeliveryEnRoute))
	assert.True(t, DeliveryAssigned.CanTransition(DeliveryArrived), "arrival with a lost depart frame")
	assert.True(t, DeliveryAssigned.CanTransition(DeliveryPending), "a refused assignment is withdrawn")
	assert.True(t, DeliveryArrived.CanTransition(DeliveryCompleted))
	assert.True(t, DeliveryFailed.CanTransition(DeliveryPending), "reopen")
	assert.True(t, DeliveryCompleted.CanTransition(DeliveryPending), "reopen")

	assert.False(t, DeliveryPending.CanTransition(DeliveryCompleted))
	assert.False(t, DeliveryPending.CanTransition(DeliveryFailed))
	assert.False(t, DeliveryCompleted.CanTransition(DeliveryFailed))
	assert.False(t, DeliveryEnRoute.CanTransition(DeliveryPending))
}

func TestDeliveryStatusPredicates(t *testing.T) {
	assert.True(t, DeliveryCompleted.Terminal())
	assert.True(t, DeliveryFailed.Terminal())
	assert.False(t, DeliveryArrived.Terminal())

	assert.True(t, DeliveryAssigned.Active())
	assert.True(t, DeliveryEnRoute.Active())
	assert.False(t, DeliveryPending.Active())
	assert.False(t, DeliveryCompleted.Active())

	assert.True(t, DeliveryPending.Valid())
	assert.False(t, DeliveryStatus("bogus").Valid())
}

func TestUnitTransitions(t *testing.T) {
	assert.True(t, UnitIdle.CanTransition(UnitAssigned))
	assert.True(t, UnitAssigned.CanTransition(UnitArrived), "depart frame can be lost")
	assert.True(t, UnitEnRoute.CanTransition(UnitOffline))
	assert.True(t, UnitOffline.CanTransition(UnitEnRoute), "reconnection restore")
	assert.True(t, UnitError.CanTransition(UnitIdle))

	assert.False(t, UnitIdle.CanTransition(UnitEnRoute), "must be assigned first")
	assert.False(t, UnitReturning.CanTransition(UnitAssigned))
	assert.False(t, UnitError.CanTransition(UnitAssigned), "errored units need clearing")
}

func TestUnitCarrying(t *testing.T) {
	assert.True(t, UnitOffline.Carrying(), "silence does not forfeit the parcel")
	assert.True(t, UnitEnRoute.Carrying())
	assert.False(t, UnitIdle.Carrying())
	assert.False(t, UnitError.Carrying())
}

func TestUnitStatusForDelivery(t *testing.T) {
	assert.Equal(t, UnitAssigned, UnitStatusForDelivery(DeliveryAssigned))
	assert.Equal(t, UnitEnRoute, UnitStatusForDelivery(DeliveryEnRoute))
	assert.Equal(t, UnitArrived, UnitStatusForDelivery(DeliveryArrived))
	assert.Equal(t, UnitReturning, UnitStatusForDelivery(DeliveryCompleted))
	assert.Equal(t, UnitIdle, UnitStatusForDelivery(DeliveryPending))
	assert.Equal(t, UnitIdle, UnitStatusForDelivery(DeliveryFailed))
}

func TestEnvelopeValidation(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
		ok   bool
	}{
		{"ack", Envelope{Type: MsgAck, MsgID: "m1"}, true},
		{"ack without msg_id", Envelope{Type: MsgAck}, false},
		{"telemetry", Envelope{Type: MsgTelemetry, UnitID: "u1", Lat: 1, Lon: 2}, true},
		{"telemetry without unit", Envelope{Type: MsgTelemetry}, false},
		{"status", Envelope{Type: MsgStatus, UnitID: "u1", Status: "idle"}, true},
		{"status without status", Envelope{Type: MsgStatus, UnitID: "u1"}, false},
		{"assign", Envelope{Type: MsgAssign, UnitID: "u1", DeliveryID: 1}, true},
		{"assign without delivery", Envelope{Type: MsgAssign, UnitID: "u1"}, false},
		{"unknown type", Envelope{Type: "gossip"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.env.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	raw := []byte(`{"type":"assign","msg_id":"m1","delivery_id":3,"unit_id":"u1","lat":44.3,"lon":-79.7,"address":"29 Main St","timestamp":1700000000}`)
	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, MsgAssign, env.Type)
	assert.Equal(t, int64(3), env.DeliveryID)
	assert.Equal(t, Coordinates{Lat: 44.3, Lon: -79.7}, env.Position())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), env.Time(time.Now()))

	_, err = DecodeEnvelope([]byte("not json"))
	assert.Error(t, err)
}

func TestEnvelopeTimeFallback(t *testing.T) {
	fallback := time.Unix(1_700_000_123, 0).UTC()
	assert.Equal(t, fallback, Envelope{Type: MsgAck, MsgID: "m"}.Time(fallback))
}

func TestHaversine(t *testing.T) {
	barrie := Coordinates{Lat: 44.3894, Lon: -79.6903}
	toronto := Coordinates{Lat: 43.6532, Lon: -79.3832}
	d := Haversine(barrie, toronto)
	assert.InDelta(t, 85000, d, 3000, "Barrie to Toronto is roughly 85km")
	assert.Zero(t, Haversine(barrie, barrie))

	// one ten-thousandth of a degree of latitude is about 11 meters
	near := Coordinates{Lat: barrie.Lat + 0.0001, Lon: barrie.Lon}
	assert.InDelta(t, 11, Haversine(barrie, near), 1)
}
