// Package tracker owns the unit state machine. Every inbound observation of
// a unit (telemetry, declared status, mere contact) funnels through here, as
// do the dispatcher-side transitions (assign, release, error). A periodic
// sweep marks silent units offline without touching their assignment.
package tracker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/events"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/logger"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/store"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/internal/clock"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/internal/eventbus"
)

// TransitionError reports a unit status change the state machine forbids.
type TransitionError struct {
	UnitID string
	From   model.UnitStatus
	To     model.UnitStatus
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("unit %s: invalid transition %s -> %s", e.UnitID, e.From, e.To)
}

// casRetries bounds read-modify-write loops on store conflicts.
const casRetries = 3

// Tracker mutates unit records through compare-and-set updates.
type Tracker struct {
	store store.Store
	cfg   Config
	clk   clock.Clock
	log   logger.Logger
	bus   eventbus.EventBus
}

// New creates a Tracker.
func New(st store.Store, cfg Config, clk clock.Clock, bus eventbus.EventBus, log logger.Logger) (*Tracker, error) {
	if st == nil {
		return nil, fmt.Errorf("tracker: nil store")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Tracker{store: st, cfg: cfg, clk: clk, log: log, bus: bus}, nil
}

// mutate applies fn to the unit under a compare-and-set on its status,
// retrying a few times when a concurrent writer got in between.
func (t *Tracker) mutate(ctx context.Context, unitID string, fn func(u *model.Unit) error) (model.Unit, error) {
	var last error
	for i := 0; i < casRetries; i++ {
		u, err := t.store.Unit(ctx, unitID)
		if err != nil {
			return model.Unit{}, err
		}
		prev := u.Status
		if err := fn(&u); err != nil {
			return model.Unit{}, err
		}
		u.UpdatedAt = t.clk.Now()
		if err := t.store.UpdateUnit(ctx, u, prev); err != nil {
			if err == store.ErrConflict {
				last = err
				continue
			}
			return model.Unit{}, err
		}
		if u.Status != prev && t.bus != nil {
			t.bus.Publish(events.UnitEvent{UnitID: u.ID, From: prev, To: u.Status})
		}
		return u, nil
	}
	return model.Unit{}, fmt.Errorf("unit %s: update kept conflicting: %w", unitID, last)
}

// transition moves the unit to next, validating against the state machine.
// Same-status writes pass through so observations can refresh timestamps.
func transition(u *model.Unit, next model.UnitStatus) error {
	if u.Status == next {
		return nil
	}
	if !u.Status.CanTransition(next) {
		return TransitionError{UnitID: u.ID, From: u.Status, To: next}
	}
	u.Status = next
	return nil
}

// Observe records contact from the unit, registering it on first sight and
// waking it from offline. loc may be nil for frames without a position. The
// restored status is inferred from the delivery the unit still carries.
func (t *Tracker) Observe(ctx context.Context, unitID string, loc *model.Coordinates, at time.Time) (model.Unit, error) {
	if _, err := t.store.Unit(ctx, unitID); err == store.ErrNotFound {
		now := t.clk.Now()
		u := model.Unit{ID: unitID, Status: model.UnitIdle, LastContact: at, UpdatedAt: now}
		if err := t.store.PutUnit(ctx, u); err != nil {
			return model.Unit{}, err
		}
		t.log.Infof("registered new unit %s", unitID)
	} else if err != nil {
		return model.Unit{}, err
	}
	return t.mutate(ctx, unitID, func(u *model.Unit) error {
		u.LastContact = at
		if loc != nil {
			u.Location = loc
			u.LocatedAt = at
		}
		if u.Status == model.UnitOffline {
			restored, err := t.restoredStatus(ctx, *u)
			if err != nil {
				return err
			}
			t.log.Infof("unit %s back online as %s", u.ID, restored)
			if err := transition(u, restored); err != nil {
				return err
			}
			if !u.Status.Carrying() {
				u.AssignedDeliveryID = 0
			}
			return nil
		}
		return nil
	})
}

// restoredStatus infers the post-offline status from the carried delivery.
func (t *Tracker) restoredStatus(ctx context.Context, u model.Unit) (model.UnitStatus, error) {
	if u.AssignedDeliveryID == 0 {
		return model.UnitIdle, nil
	}
	d, err := t.store.Delivery(ctx, u.AssignedDeliveryID)
	if err == store.ErrNotFound {
		return model.UnitIdle, nil
	}
	if err != nil {
		return "", err
	}
	return model.UnitStatusForDelivery(d.Status), nil
}

// Declare applies a unit-declared status after validating the transition.
func (t *Tracker) Declare(ctx context.Context, unitID string, status model.UnitStatus, at time.Time) (model.Unit, error) {
	if !status.Valid() {
		return model.Unit{}, fmt.Errorf("unit %s: unknown status %q", unitID, status)
	}
	return t.mutate(ctx, unitID, func(u *model.Unit) error {
		u.LastContact = at
		if err := transition(u, status); err != nil {
			return err
		}
		if !u.Status.Carrying() {
			u.AssignedDeliveryID = 0
		}
		return nil
	})
}

// Assign binds the delivery to an idle unit.
func (t *Tracker) Assign(ctx context.Context, unitID string, deliveryID int64) (model.Unit, error) {
	return t.mutate(ctx, unitID, func(u *model.Unit) error {
		if u.Status != model.UnitIdle {
			return TransitionError{UnitID: u.ID, From: u.Status, To: model.UnitAssigned}
		}
		u.Status = model.UnitAssigned
		u.AssignedDeliveryID = deliveryID
		return nil
	})
}

// Arrive moves the unit to arrived_dest. Tolerates a lost depart frame by
// accepting the jump straight from assigned.
func (t *Tracker) Arrive(ctx context.Context, unitID string, at time.Time) (model.Unit, error) {
	return t.mutate(ctx, unitID, func(u *model.Unit) error {
		u.LastContact = at
		return transition(u, model.UnitArrived)
	})
}

// BeginReturn sends the unit back to base after its delivery was confirmed.
// The assignment is cleared, the job is done.
func (t *Tracker) BeginReturn(ctx context.Context, unitID string) (model.Unit, error) {
	return t.mutate(ctx, unitID, func(u *model.Unit) error {
		if err := transition(u, model.UnitReturning); err != nil {
			return err
		}
		u.AssignedDeliveryID = 0
		return nil
	})
}

// Release returns the unit to idle and clears its assignment. Used when a
// delivery is failed or reopened out from under the unit.
func (t *Tracker) Release(ctx context.Context, unitID string) (model.Unit, error) {
	return t.mutate(ctx, unitID, func(u *model.Unit) error {
		if err := transition(u, model.UnitIdle); err != nil {
			return err
		}
		u.AssignedDeliveryID = 0
		return nil
	})
}

// MarkError puts the unit in the error state, keeping it out of the
// assignable pool until an operator clears it.
func (t *Tracker) MarkError(ctx context.Context, unitID string) (model.Unit, error) {
	return t.mutate(ctx, unitID, func(u *model.Unit) error {
		if err := transition(u, model.UnitError); err != nil {
			return err
		}
		u.AssignedDeliveryID = 0
		return nil
	})
}

// ClearError acknowledges an errored unit and returns it to idle.
func (t *Tracker) ClearError(ctx context.Context, unitID string) (model.Unit, error) {
	return t.mutate(ctx, unitID, func(u *model.Unit) error {
		if u.Status != model.UnitError {
			return TransitionError{UnitID: u.ID, From: u.Status, To: model.UnitIdle}
		}
		u.Status = model.UnitIdle
		return nil
	})
}

// Sweep marks units silent beyond the offline timeout as offline. Idle units
// are skipped, silence is their normal condition, and the assignment of a
// swept unit is kept: a radio shadow is not a failed delivery.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) {
	units, err := t.store.Units(ctx)
	if err != nil {
		t.log.Errorf("staleness sweep: list units: %v", err)
		return
	}
	cutoff := now.Add(-time.Duration(t.cfg.OfflineTimeoutSeconds) * time.Second)
	for _, u := range units {
		if u.Status == model.UnitIdle || u.Status == model.UnitOffline {
			continue
		}
		if u.LastContact.After(cutoff) {
			continue
		}
		if _, err := t.mutate(ctx, u.ID, func(u *model.Unit) error {
			return transition(u, model.UnitOffline)
		}); err != nil {
			t.log.Errorf("mark unit %s offline: %v", u.ID, err)
			continue
		}
		unitsOffline.Inc()
		t.log.Warnf("unit %s silent since %s, marked offline", u.ID, u.LastContact.Format(time.RFC3339))
	}
}

// Run drives the staleness sweep until the context is canceled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(t.cfg.SweepIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweepSafe(ctx)
		}
	}
}

func (t *Tracker) sweepSafe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Errorf("staleness sweep panic: %v\n%s", r, debug.Stack())
		}
	}()
	t.Sweep(ctx, t.clk.Now())
}
