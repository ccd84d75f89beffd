// Package dispatch hosts the coordinator, the single consumer of the inbound
// queue and the only writer of delivery state. Commands (create, assign,
// complete, fail, reopen) arrive from the API; observations (acks, telemetry,
// arrivals, declared statuses) arrive as frames from the mesh.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/events"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/geocode"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/inbound"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/logger"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/metrics"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/outbound"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/store"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/tracker"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/transport"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/internal/clock"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/internal/eventbus"
)

const casRetries = 3

// Coordinator owns the delivery state machine and routes inbound frames.
type Coordinator struct {
	store    store.Store
	tracker  *tracker.Tracker
	outbound *outbound.Manager
	tr       transport.Transport
	geo      geocode.Geocoder
	queue    *inbound.Queue
	cfg      Config
	clk      clock.Clock
	log      logger.Logger
	bus      eventbus.EventBus
	sink     metrics.Sink
}

// NewCoordinator wires the coordinator. geo may be nil when no geocoding
// service is configured; sink may be nil.
func NewCoordinator(st store.Store, trk *tracker.Tracker, out *outbound.Manager, tr transport.Transport, geo geocode.Geocoder, cfg Config, clk clock.Clock, bus eventbus.EventBus, sink metrics.Sink, log logger.Logger) (*Coordinator, error) {
	if st == nil || trk == nil || out == nil || tr == nil {
		return nil, fmt.Errorf("dispatch: missing dependency")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	c := &Coordinator{
		store:    st,
		tracker:  trk,
		outbound: out,
		tr:       tr,
		geo:      geo,
		cfg:      cfg,
		clk:      clk,
		log:      log,
		bus:      bus,
		sink:     sink,
	}
	c.queue = inbound.New(cfg.QueueSize, log)
	c.queue.OnDrop = func(queueLen int) {
		framesDropped.Inc()
		if bus != nil {
			bus.Publish(events.DropEvent{QueueLen: queueLen})
		}
	}
	out.SetFailureHandler(c)
	return c, nil
}

// HandleFrame enqueues a raw frame from the transport receive callback.
func (c *Coordinator) HandleFrame(frame []byte) {
	c.queue.Push(frame)
}

// Run consumes the inbound queue until the context is canceled. Each frame is
// processed under a recover so one bad frame cannot take the consumer down.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.queue.Frames():
			if !ok {
				return
			}
			c.ingestSafe(ctx, frame)
		}
	}
}

func (c *Coordinator) ingestSafe(ctx context.Context, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("frame processing panic: %v\n%s", r, debug.Stack())
		}
	}()
	c.Ingest(ctx, frame)
}

// mutateDelivery applies fn under a compare-and-set on the delivery status,
// validating the transition and publishing the change. A same-status write is
// rejected like any other forbidden transition; callers that want idempotency
// check the current status first.
func (c *Coordinator) mutateDelivery(ctx context.Context, id int64, to model.DeliveryStatus, fn func(d *model.Delivery)) (model.Delivery, error) {
	var last error
	for i := 0; i < casRetries; i++ {
		d, err := c.store.Delivery(ctx, id)
		if err != nil {
			return model.Delivery{}, err
		}
		prev := d.Status
		if !prev.CanTransition(to) {
			return model.Delivery{}, TransitionError{DeliveryID: id, From: prev, To: to}
		}
		d.Status = to
		if fn != nil {
			fn(&d)
		}
		d.UpdatedAt = c.clk.Now()
		if err := c.store.UpdateDelivery(ctx, d, prev); err != nil {
			if err == store.ErrConflict {
				last = err
				continue
			}
			return model.Delivery{}, err
		}
		if d.Status != prev {
			c.log.Infof("delivery %d: %s -> %s", d.ID, prev, d.Status)
			if c.bus != nil {
				c.bus.Publish(events.DeliveryEvent{DeliveryID: d.ID, UnitID: d.AssignedUnitID, From: prev, To: d.Status})
			}
			c.sink.RecordDispatch(metrics.DispatchEvent{
				Kind:       "transition",
				DeliveryID: d.ID,
				UnitID:     d.AssignedUnitID,
				Status:     string(d.Status),
				At:         d.UpdatedAt,
			})
		}
		return d, nil
	}
	return model.Delivery{}, fmt.Errorf("delivery %d: update kept conflicting: %w", id, last)
}

// refreshDelivery applies fn under a compare-and-set without changing the
// delivery status, for updates that are not lifecycle transitions.
func (c *Coordinator) refreshDelivery(ctx context.Context, id int64, fn func(d *model.Delivery)) (model.Delivery, error) {
	var last error
	for i := 0; i < casRetries; i++ {
		d, err := c.store.Delivery(ctx, id)
		if err != nil {
			return model.Delivery{}, err
		}
		prev := d.Status
		fn(&d)
		d.Status = prev
		d.UpdatedAt = c.clk.Now()
		if err := c.store.UpdateDelivery(ctx, d, prev); err != nil {
			if err == store.ErrConflict {
				last = err
				continue
			}
			return model.Delivery{}, err
		}
		return d, nil
	}
	return model.Delivery{}, fmt.Errorf("delivery %d: update kept conflicting: %w", id, last)
}

// CreateDelivery registers a new pending delivery for the address. Geocoding
// failure does not block creation: the delivery is stored without coordinates
// and the typed error tells the caller resolution is still owed.
func (c *Coordinator) CreateDelivery(ctx context.Context, address string) (model.Delivery, error) {
	if address == "" {
		return model.Delivery{}, fmt.Errorf("dispatch: empty address")
	}
	now := c.clk.Now()
	d := model.Delivery{Address: address, Status: model.DeliveryPending, CreatedAt: now, UpdatedAt: now}
	var geoErr error
	if c.geo != nil {
		pos, err := c.geo.Resolve(ctx, address)
		if err != nil {
			geoErr = GeocodeError{Address: address, Err: err}
			c.log.Warnf("geocode %q failed, delivery created unresolved: %v", address, err)
		} else {
			d.Destination = &pos
		}
	}
	if err := c.store.CreateDelivery(ctx, &d); err != nil {
		return model.Delivery{}, fmt.Errorf("create delivery: %w", err)
	}
	c.log.Infof("created delivery %d for %q", d.ID, address)
	c.sink.RecordDispatch(metrics.DispatchEvent{Kind: "created", DeliveryID: d.ID, Status: string(d.Status), At: now})
	return d, geoErr
}

// GeocodeDelivery re-resolves the address of a pending delivery, for
// deliveries created while the geocoding service was unavailable.
func (c *Coordinator) GeocodeDelivery(ctx context.Context, id int64) (model.Delivery, error) {
	if c.geo == nil {
		return model.Delivery{}, fmt.Errorf("dispatch: no geocoder configured")
	}
	d, err := c.store.Delivery(ctx, id)
	if err != nil {
		return model.Delivery{}, err
	}
	if d.Status != model.DeliveryPending {
		return model.Delivery{}, TransitionError{DeliveryID: id, From: d.Status, To: model.DeliveryPending}
	}
	pos, err := c.geo.Resolve(ctx, d.Address)
	if err != nil {
		return model.Delivery{}, GeocodeError{Address: d.Address, Err: err}
	}
	return c.refreshDelivery(ctx, id, func(d *model.Delivery) {
		d.Destination = &pos
	})
}

// AssignDelivery binds a pending delivery to an idle unit and sends the
// reliable assignment command. The delivery moves first; if the unit refuses
// the binding the delivery is rolled back to pending.
func (c *Coordinator) AssignDelivery(ctx context.Context, deliveryID int64, unitID string) (model.Delivery, error) {
	d, err := c.store.Delivery(ctx, deliveryID)
	if err != nil {
		return model.Delivery{}, err
	}
	if d.Destination == nil {
		return model.Delivery{}, ErrUnresolvedAddress
	}
	if d.Status != model.DeliveryPending {
		return model.Delivery{}, TransitionError{DeliveryID: deliveryID, From: d.Status, To: model.DeliveryAssigned}
	}
	d, err = c.mutateDelivery(ctx, deliveryID, model.DeliveryAssigned, func(d *model.Delivery) {
		d.AssignedUnitID = unitID
	})
	if err != nil {
		return model.Delivery{}, err
	}
	u, err := c.tracker.Assign(ctx, unitID, deliveryID)
	if err != nil {
		c.revertAssignment(ctx, deliveryID)
		return model.Delivery{}, err
	}
	env := model.Envelope{
		Type:       model.MsgAssign,
		UnitID:     unitID,
		DeliveryID: deliveryID,
		Lat:        d.Destination.Lat,
		Lon:        d.Destination.Lon,
		Address:    d.Address,
	}
	if u.Location != nil {
		env.DistanceM = model.Haversine(*u.Location, *d.Destination)
	}
	if _, err := c.outbound.SendReliable(ctx, env); err != nil {
		if _, rerr := c.tracker.Release(ctx, unitID); rerr != nil {
			c.log.Errorf("release unit %s after send failure: %v", unitID, rerr)
		}
		c.revertAssignment(ctx, deliveryID)
		return model.Delivery{}, fmt.Errorf("send assignment: %w", err)
	}
	c.log.Infof("assigned delivery %d to unit %s", deliveryID, unitID)
	return d, nil
}

func (c *Coordinator) revertAssignment(ctx context.Context, deliveryID int64) {
	if _, err := c.mutateDelivery(ctx, deliveryID, model.DeliveryPending, func(d *model.Delivery) {
		d.AssignedUnitID = ""
	}); err != nil {
		c.log.Errorf("revert delivery %d to pending: %v", deliveryID, err)
	}
}

// ConfirmComplete marks an arrived delivery completed and sends the unit a
// fire-and-forget command to head back to base.
func (c *Coordinator) ConfirmComplete(ctx context.Context, deliveryID int64) (model.Delivery, error) {
	var unitID string
	d, err := c.mutateDelivery(ctx, deliveryID, model.DeliveryCompleted, func(d *model.Delivery) {
		unitID = d.AssignedUnitID
		d.AssignedUnitID = ""
	})
	if err != nil {
		return model.Delivery{}, err
	}
	if unitID == "" {
		return d, nil
	}
	u, err := c.tracker.BeginReturn(ctx, unitID)
	if err != nil {
		c.log.Warnf("unit %s not sent returning: %v", unitID, err)
	}
	env := model.Envelope{
		Type:       model.MsgComplete,
		UnitID:     unitID,
		DeliveryID: deliveryID,
		Lat:        c.cfg.Base.Lat,
		Lon:        c.cfg.Base.Lon,
		Timestamp:  c.clk.Now().Unix(),
	}
	if u.Location != nil {
		env.DistanceM = model.Haversine(*u.Location, c.cfg.Base)
	}
	// best effort only, the unit also learns completion from silence
	if payload, err := env.Encode(); err == nil {
		if err := c.tr.Send(unitID, payload); err != nil {
			c.log.Warnf("send complete to %s: %v", unitID, err)
		}
	}
	return d, nil
}

// MarkFailed fails an active delivery, records the reason, retires its
// pending commands and parks the unit in error for operator review.
func (c *Coordinator) MarkFailed(ctx context.Context, deliveryID int64, reason string) (model.Delivery, error) {
	var unitID string
	d, err := c.mutateDelivery(ctx, deliveryID, model.DeliveryFailed, func(d *model.Delivery) {
		unitID = d.AssignedUnitID
		d.AssignedUnitID = ""
		d.FailureReason = reason
	})
	if err != nil {
		return model.Delivery{}, err
	}
	if err := c.outbound.CancelDelivery(ctx, deliveryID); err != nil {
		c.log.Errorf("cancel pending commands for delivery %d: %v", deliveryID, err)
	}
	if unitID != "" {
		if _, err := c.tracker.MarkError(ctx, unitID); err != nil {
			c.log.Warnf("mark unit %s error: %v", unitID, err)
		}
	}
	return d, nil
}

// Reopen returns a terminal delivery to the pending pool. Only completed and
// failed deliveries qualify; an active one must be failed first so its unit is
// released along the way.
func (c *Coordinator) Reopen(ctx context.Context, deliveryID int64) (model.Delivery, error) {
	d, err := c.store.Delivery(ctx, deliveryID)
	if err != nil {
		return model.Delivery{}, err
	}
	if !d.Status.Terminal() {
		return model.Delivery{}, TransitionError{DeliveryID: deliveryID, From: d.Status, To: model.DeliveryPending}
	}
	return c.mutateDelivery(ctx, deliveryID, model.DeliveryPending, func(d *model.Delivery) {
		d.AssignedUnitID = ""
		d.FailureReason = ""
	})
}

// ClearUnitError acknowledges an errored unit and returns it to the pool.
func (c *Coordinator) ClearUnitError(ctx context.Context, unitID string) (model.Unit, error) {
	return c.tracker.ClearError(ctx, unitID)
}

// OnAckExhausted implements outbound.FailureHandler: an unacknowledged
// assignment fails its delivery and parks the unit in error.
func (c *Coordinator) OnAckExhausted(ctx context.Context, ack model.PendingAck) {
	c.log.Errorf("assignment to unit %s never acknowledged, failing delivery %d", ack.UnitID, ack.DeliveryID)
	if ack.DeliveryID != 0 {
		if _, err := c.mutateDelivery(ctx, ack.DeliveryID, model.DeliveryFailed, func(d *model.Delivery) {
			d.AssignedUnitID = ""
			d.FailureReason = "assignment not acknowledged"
		}); err != nil {
			c.log.Errorf("fail delivery %d: %v", ack.DeliveryID, err)
		}
	}
	if ack.UnitID != "" {
		if _, err := c.tracker.MarkError(ctx, ack.UnitID); err != nil {
			c.log.Warnf("mark unit %s error: %v", ack.UnitID, err)
		}
	}
}

// Ingest decodes and routes one inbound frame. Malformed frames are counted
// and dropped; they never stop the consumer.
func (c *Coordinator) Ingest(ctx context.Context, frame []byte) {
	env, err := model.DecodeEnvelope(frame)
	if err != nil {
		framesMalformed.Inc()
		c.log.Warnf("dropping malformed frame: %v", err)
		return
	}
	framesReceived.WithLabelValues(string(env.Type)).Inc()
	if c.bus != nil {
		c.bus.Publish(events.FrameEvent{Type: env.Type, UnitID: env.UnitID})
	}
	at := env.Time(c.clk.Now())
	switch env.Type {
	case model.MsgAck:
		c.handleAck(ctx, env, at)
	case model.MsgTelemetry:
		c.handleTelemetry(ctx, env, at)
	case model.MsgArrival:
		c.handleArrivalFrame(ctx, env, at)
	case model.MsgStatus:
		c.handleStatus(ctx, env, at)
	default:
		c.log.Debugf("ignoring inbound %s frame", env.Type)
	}
}

func (c *Coordinator) handleAck(ctx context.Context, env model.Envelope, at time.Time) {
	if env.UnitID != "" {
		if _, err := c.tracker.Observe(ctx, env.UnitID, nil, at); err != nil {
			c.log.Warnf("record contact from %s: %v", env.UnitID, err)
		}
	}
	if err := c.outbound.OnAck(ctx, env.MsgID); err != nil {
		c.log.Errorf("process ack %s: %v", env.MsgID, err)
	}
}

// position returns the envelope coordinates, treating the unset (0, 0) pair
// as no fix.
func position(env model.Envelope) *model.Coordinates {
	if env.Lat == 0 && env.Lon == 0 {
		return nil
	}
	p := env.Position()
	return &p
}

func (c *Coordinator) handleTelemetry(ctx context.Context, env model.Envelope, at time.Time) {
	loc := position(env)
	u, err := c.tracker.Observe(ctx, env.UnitID, loc, at)
	if err != nil {
		c.log.Errorf("telemetry from %s: %v", env.UnitID, err)
		return
	}
	if loc != nil {
		c.sink.RecordTelemetry(metrics.TelemetryPoint{UnitID: env.UnitID, Position: *loc, At: at})
	}
	if loc == nil || u.AssignedDeliveryID == 0 {
		return
	}
	if u.Status != model.UnitAssigned && u.Status != model.UnitEnRoute {
		return
	}
	d, err := c.store.Delivery(ctx, u.AssignedDeliveryID)
	if err != nil || d.Destination == nil || !d.Status.Active() {
		return
	}
	if model.Haversine(*loc, *d.Destination) <= c.cfg.ArrivalThresholdM {
		c.log.Infof("unit %s within %.0fm of delivery %d destination", env.UnitID, c.cfg.ArrivalThresholdM, d.ID)
		c.arrive(ctx, env.UnitID, at)
	}
}

func (c *Coordinator) handleArrivalFrame(ctx context.Context, env model.Envelope, at time.Time) {
	if _, err := c.tracker.Observe(ctx, env.UnitID, position(env), at); err != nil {
		c.log.Errorf("arrival from %s: %v", env.UnitID, err)
		return
	}
	c.arrive(ctx, env.UnitID, at)
}

// arrive moves the unit and its delivery to arrived_dest. Repeated arrivals
// are no-ops on the unit and conflicts on the delivery are logged only.
func (c *Coordinator) arrive(ctx context.Context, unitID string, at time.Time) {
	u, err := c.tracker.Arrive(ctx, unitID, at)
	if err != nil {
		c.log.Warnf("unit %s arrival rejected: %v", unitID, err)
		return
	}
	if u.AssignedDeliveryID == 0 {
		return
	}
	d, err := c.store.Delivery(ctx, u.AssignedDeliveryID)
	if err != nil {
		c.log.Errorf("load delivery %d: %v", u.AssignedDeliveryID, err)
		return
	}
	if d.Status == model.DeliveryArrived {
		return
	}
	if _, err := c.mutateDelivery(ctx, d.ID, model.DeliveryArrived, nil); err != nil {
		c.log.Warnf("delivery %d arrival rejected: %v", d.ID, err)
	}
}

// statusByWire maps unit-declared wire statuses to unit states.
var statusByWire = map[string]model.UnitStatus{
	"idle":         model.UnitIdle,
	"assigned":     model.UnitAssigned,
	"en_route":     model.UnitEnRoute,
	"arrived_dest": model.UnitArrived,
	"returning":    model.UnitReturning,
	"error":        model.UnitError,
}

func (c *Coordinator) handleStatus(ctx context.Context, env model.Envelope, at time.Time) {
	seen, err := c.tracker.Observe(ctx, env.UnitID, position(env), at)
	if err != nil {
		c.log.Errorf("status from %s: %v", env.UnitID, err)
		return
	}
	status, ok := statusByWire[env.Status]
	if !ok {
		c.log.Warnf("unit %s declared unknown status %q", env.UnitID, env.Status)
		return
	}
	// A carrying unit cannot talk itself out of its delivery. An idle claim is
	// ignored (contact was already recorded); an error claim fails the delivery
	// so both sides stay consistent.
	if seen.AssignedDeliveryID != 0 {
		switch status {
		case model.UnitIdle:
			c.log.Warnf("unit %s declared idle while carrying delivery %d, ignored", env.UnitID, seen.AssignedDeliveryID)
			return
		case model.UnitError:
			c.log.Warnf("unit %s reported error carrying delivery %d", env.UnitID, seen.AssignedDeliveryID)
			if _, err := c.MarkFailed(ctx, seen.AssignedDeliveryID, "unit reported error"); err != nil {
				c.log.Errorf("fail delivery %d: %v", seen.AssignedDeliveryID, err)
			}
			return
		}
	}
	u, err := c.tracker.Declare(ctx, env.UnitID, status, at)
	if err != nil {
		c.log.Warnf("unit %s status %s rejected: %v", env.UnitID, env.Status, err)
		return
	}
	// a departing unit moves its delivery with it
	if status == model.UnitEnRoute && u.AssignedDeliveryID != 0 {
		d, err := c.store.Delivery(ctx, u.AssignedDeliveryID)
		if err == nil && d.Status == model.DeliveryAssigned {
			if _, err := c.mutateDelivery(ctx, d.ID, model.DeliveryEnRoute, nil); err != nil {
				c.log.Warnf("delivery %d en_route rejected: %v", d.ID, err)
			}
		}
	}
}

// Delivery returns one delivery.
func (c *Coordinator) Delivery(ctx context.Context, id int64) (model.Delivery, error) {
	return c.store.Delivery(ctx, id)
}

// Deliveries returns all deliveries.
func (c *Coordinator) Deliveries(ctx context.Context) ([]model.Delivery, error) {
	return c.store.Deliveries(ctx)
}

// Unit returns one unit.
func (c *Coordinator) Unit(ctx context.Context, id string) (model.Unit, error) {
	return c.store.Unit(ctx, id)
}

// Units returns all units.
func (c *Coordinator) Units(ctx context.Context) ([]model.Unit, error) {
	return c.store.Units(ctx)
}
