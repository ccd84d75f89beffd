// Package store defines durable persistence for deliveries, units and
// pending-acknowledgment records. All status mutations go through
// compare-and-set updates so concurrent actors cannot lose writes.
package store

import (
	"context"
	"errors"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a compare-and-set update observes a different
// status than the caller expected.
var ErrConflict = errors.New("store: conflict")

// DeliveryStore persists deliveries.
type DeliveryStore interface {
	// CreateDelivery inserts d and fills in its server-assigned ID.
	CreateDelivery(ctx context.Context, d *model.Delivery) error
	Delivery(ctx context.Context, id int64) (model.Delivery, error)
	Deliveries(ctx context.Context) ([]model.Delivery, error)
	// UpdateDelivery writes d only if the stored status still equals expect,
	// returning ErrConflict otherwise.
	UpdateDelivery(ctx context.Context, d model.Delivery, expect model.DeliveryStatus) error
}

// UnitStore persists units.
type UnitStore interface {
	// PutUnit inserts or replaces the unit unconditionally. Used for
	// auto-registration of units first heard on the mesh.
	PutUnit(ctx context.Context, u model.Unit) error
	Unit(ctx context.Context, id string) (model.Unit, error)
	Units(ctx context.Context) ([]model.Unit, error)
	// UpdateUnit writes u only if the stored status still equals expect,
	// returning ErrConflict otherwise.
	UpdateUnit(ctx context.Context, u model.Unit, expect model.UnitStatus) error
}

// PendingAckStore persists retry bookkeeping for reliable outbound messages.
type PendingAckStore interface {
	// PutPendingAck inserts or replaces the record keyed by its MsgID.
	PutPendingAck(ctx context.Context, a model.PendingAck) error
	PendingAck(ctx context.Context, msgID string) (model.PendingAck, error)
	PendingAcks(ctx context.Context) ([]model.PendingAck, error)
	DeletePendingAck(ctx context.Context, msgID string) error
}

// Store is the single source of truth shared by all actors.
type Store interface {
	DeliveryStore
	UnitStore
	PendingAckStore
	Close() error
}
