package simulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []model.Envelope
}

func (r *frameRecorder) send(payload []byte) error {
	env, err := model.DecodeEnvelope(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.frames = append(r.frames, env)
	r.mu.Unlock()
	return nil
}

func (r *frameRecorder) byType(t model.MessageType) []model.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []model.Envelope
	for _, f := range r.frames {
		if f.Type == t {
			res = append(res, f)
		}
	}
	return res
}

func newTestUnit(t *testing.T, rec *frameRecorder) *Unit {
	t.Helper()
	u, err := NewUnit(Config{
		UnitID:                   "sim-1",
		Base:                     model.Coordinates{Lat: 44.380, Lon: -79.700},
		SpeedMPS:                 20,
		TelemetryIntervalSeconds: 1,
		ArrivalThresholdM:        30,
	}, rec.send, AutoAck{})
	require.NoError(t, err)
	return u
}

func assignFrame(t *testing.T, dest model.Coordinates) []byte {
	t.Helper()
	raw, err := model.Envelope{
		Type:       model.MsgAssign,
		MsgID:      "m-1",
		UnitID:     "sim-1",
		DeliveryID: 7,
		Lat:        dest.Lat,
		Lon:        dest.Lon,
		Address:    "29 Main St",
	}.Encode()
	require.NoError(t, err)
	return raw
}

func TestAssignmentAckAndDepart(t *testing.T) {
	rec := &frameRecorder{}
	u := newTestUnit(t, rec)

	u.HandleCommand(context.Background(), assignFrame(t, model.Coordinates{Lat: 44.389, Lon: -79.690}))

	require.Eventually(t, func() bool {
		return len(rec.byType(model.MsgAck)) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "m-1", rec.byType(model.MsgAck)[0].MsgID)
	require.Len(t, rec.byType(model.MsgStatus), 1)
	assert.Equal(t, "en_route", rec.byType(model.MsgStatus)[0].Status)
	assert.Equal(t, model.UnitEnRoute, u.Status())
}

func TestWalkEmitsTelemetryThenArrival(t *testing.T) {
	rec := &frameRecorder{}
	u := newTestUnit(t, rec)
	dest := model.Coordinates{Lat: 44.3809, Lon: -79.700} // ~100m north
	u.HandleCommand(context.Background(), assignFrame(t, dest))

	u.tick(time.Second) // 20m in, still en route
	assert.NotEmpty(t, rec.byType(model.MsgTelemetry))
	assert.Equal(t, model.UnitEnRoute, u.Status())

	u.tick(time.Second)
	u.tick(time.Second)
	u.tick(time.Second) // within the 30m threshold now
	require.NotEmpty(t, rec.byType(model.MsgArrival))
	assert.Equal(t, model.UnitArrived, u.Status())
}

func TestCompleteSendsUnitHome(t *testing.T) {
	rec := &frameRecorder{}
	u := newTestUnit(t, rec)
	dest := model.Coordinates{Lat: 44.3809, Lon: -79.700}
	u.HandleCommand(context.Background(), assignFrame(t, dest))
	for i := 0; i < 6; i++ {
		u.tick(time.Second)
	}
	require.Equal(t, model.UnitArrived, u.Status())

	raw, err := model.Envelope{
		Type: model.MsgComplete, UnitID: "sim-1", DeliveryID: 7,
		Lat: 44.380, Lon: -79.700,
	}.Encode()
	require.NoError(t, err)
	u.HandleCommand(context.Background(), raw)
	assert.Equal(t, model.UnitReturning, u.Status())

	for i := 0; i < 10; i++ {
		u.tick(time.Second)
	}
	assert.Equal(t, model.UnitIdle, u.Status())
	statuses := rec.byType(model.MsgStatus)
	assert.Equal(t, "idle", statuses[len(statuses)-1].Status)
}

func TestStepNeverOvershoots(t *testing.T) {
	pos := model.Coordinates{Lat: 44.380, Lon: -79.700}
	target := model.Coordinates{Lat: 44.389, Lon: -79.690}
	moved := step(pos, target, 100)
	assert.InDelta(t, 100, model.Haversine(pos, moved), 5)

	// a step longer than the remaining distance lands exactly on target
	assert.Equal(t, target, step(pos, target, 1e6))
	assert.Equal(t, target, step(target, target, 10))
}

func TestMalformedCommandIgnored(t *testing.T) {
	rec := &frameRecorder{}
	u := newTestUnit(t, rec)
	u.HandleCommand(context.Background(), []byte("nope"))
	assert.Equal(t, model.UnitIdle, u.Status())
	assert.Empty(t, rec.frames)
}
