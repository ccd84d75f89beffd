package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
)

func TestMemoryDeliveryLifecycle(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	d := model.Delivery{Address: "29 Main St", Status: model.DeliveryPending, CreatedAt: time.Now()}
	require.NoError(t, st.CreateDelivery(ctx, &d))
	assert.Equal(t, int64(1), d.ID)

	d2 := model.Delivery{Address: "30 Main St", Status: model.DeliveryPending}
	require.NoError(t, st.CreateDelivery(ctx, &d2))
	assert.Equal(t, int64(2), d2.ID, "ids are sequential")

	got, err := st.Delivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "29 Main St", got.Address)

	all, err := st.Deliveries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID)

	_, err = st.Delivery(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDeliveryCAS(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	d := model.Delivery{Address: "29 Main St", Status: model.DeliveryPending}
	require.NoError(t, st.CreateDelivery(ctx, &d))

	d.Status = model.DeliveryAssigned
	d.AssignedUnitID = "unit-1"
	require.NoError(t, st.UpdateDelivery(ctx, d, model.DeliveryPending))

	// a second writer still expecting pending loses
	stale := d
	stale.Status = model.DeliveryAssigned
	stale.AssignedUnitID = "unit-2"
	assert.ErrorIs(t, st.UpdateDelivery(ctx, stale, model.DeliveryPending), ErrConflict)

	got, err := st.Delivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "unit-1", got.AssignedUnitID)

	ghost := model.Delivery{ID: 99, Status: model.DeliveryPending}
	assert.ErrorIs(t, st.UpdateDelivery(ctx, ghost, model.DeliveryPending), ErrNotFound)
}

func TestMemoryUnitCAS(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	u := model.Unit{ID: "unit-1", Status: model.UnitIdle}
	require.NoError(t, st.PutUnit(ctx, u))

	u.Status = model.UnitAssigned
	u.AssignedDeliveryID = 3
	require.NoError(t, st.UpdateUnit(ctx, u, model.UnitIdle))
	assert.ErrorIs(t, st.UpdateUnit(ctx, u, model.UnitIdle), ErrConflict)

	// upsert replaces unconditionally
	require.NoError(t, st.PutUnit(ctx, model.Unit{ID: "unit-1", Status: model.UnitIdle}))
	got, err := st.Unit(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, model.UnitIdle, got.Status)
}

func TestMemoryPendingAcks(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	a := model.PendingAck{MsgID: "m1", UnitID: "unit-1", DeliveryID: 3, Payload: []byte("x"), Attempts: 1}
	require.NoError(t, st.PutPendingAck(ctx, a))

	a.Attempts = 2
	require.NoError(t, st.PutPendingAck(ctx, a), "put is an upsert")
	got, err := st.PendingAck(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)

	all, err := st.PendingAcks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, st.DeletePendingAck(ctx, "m1"))
	assert.ErrorIs(t, st.DeletePendingAck(ctx, "m1"), ErrNotFound)
	_, err = st.PendingAck(ctx, "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}
