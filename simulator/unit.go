// Package simulator implements a software delivery unit speaking the mesh
// envelope protocol. It acknowledges assignments, walks toward the
// destination emitting telemetry, declares arrival within the proximity
// threshold and returns to base on completion.
package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/logger"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
	infralogger "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/logger"
)

// SendFunc delivers a raw frame to the dispatcher uplink.
type SendFunc func(payload []byte) error

// Unit is one simulated delivery unit.
type Unit struct {
	cfg  Config
	send SendFunc
	ack  AckStrategy
	log  logger.Logger

	mu     sync.Mutex
	pos    model.Coordinates
	target *model.Coordinates
	status model.UnitStatus
}

// NewUnit creates a simulated unit. send publishes frames to the uplink; ack
// defaults to immediate acknowledgment.
func NewUnit(cfg Config, send SendFunc, ack AckStrategy) (*Unit, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if send == nil {
		return nil, fmt.Errorf("simulator: nil send func")
	}
	if ack == nil {
		if cfg.AckDropRate > 0 {
			ack = RandomAck{Delay: time.Duration(cfg.AckDelayMS) * time.Millisecond, DropRate: cfg.AckDropRate}
		} else {
			ack = AutoAck{Delay: time.Duration(cfg.AckDelayMS) * time.Millisecond}
		}
	}
	return &Unit{
		cfg:    cfg,
		send:   send,
		ack:    ack,
		log:    infralogger.New("sim-" + cfg.UnitID),
		pos:    cfg.Base,
		status: model.UnitIdle,
	}, nil
}

// HandleCommand processes one frame from the unit's command topic.
func (u *Unit) HandleCommand(ctx context.Context, frame []byte) {
	env, err := model.DecodeEnvelope(frame)
	if err != nil {
		u.log.Warnf("dropping malformed command: %v", err)
		return
	}
	switch env.Type {
	case model.MsgAssign:
		u.log.Infof("assignment for delivery %d to %q", env.DeliveryID, env.Address)
		go u.ack.Ack(ctx, func() { u.sendAck(env.MsgID) })
		u.mu.Lock()
		u.target = &model.Coordinates{Lat: env.Lat, Lon: env.Lon}
		u.status = model.UnitEnRoute
		u.mu.Unlock()
		u.sendStatus("en_route")
	case model.MsgComplete:
		u.log.Infof("delivery %d confirmed, returning to base", env.DeliveryID)
		base := u.cfg.Base
		u.mu.Lock()
		u.target = &base
		u.status = model.UnitReturning
		u.mu.Unlock()
		u.sendStatus("returning")
	default:
		u.log.Debugf("ignoring %s command", env.Type)
	}
}

// Run walks and reports until the context is canceled.
func (u *Unit) Run(ctx context.Context) {
	interval := time.Duration(u.cfg.TelemetryIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	u.sendStatus("idle")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.tick(interval)
		}
	}
}

// tick advances the position and emits the due report.
func (u *Unit) tick(elapsed time.Duration) {
	u.mu.Lock()
	if u.target != nil {
		u.pos = step(u.pos, *u.target, u.cfg.SpeedMPS*elapsed.Seconds())
		if model.Haversine(u.pos, *u.target) <= u.cfg.ArrivalThresholdM {
			arrivedAtDest := u.status == model.UnitEnRoute
			u.target = nil
			if arrivedAtDest {
				u.status = model.UnitArrived
				u.mu.Unlock()
				u.sendFrame(model.Envelope{Type: model.MsgArrival})
				return
			}
			u.status = model.UnitIdle
			u.mu.Unlock()
			u.sendStatus("idle")
			return
		}
	}
	u.mu.Unlock()
	u.sendFrame(model.Envelope{Type: model.MsgTelemetry})
}

// step moves from pos toward target by at most d meters.
func step(pos, target model.Coordinates, d float64) model.Coordinates {
	total := model.Haversine(pos, target)
	if total <= d || total == 0 {
		return target
	}
	f := d / total
	return model.Coordinates{
		Lat: pos.Lat + (target.Lat-pos.Lat)*f,
		Lon: pos.Lon + (target.Lon-pos.Lon)*f,
	}
}

func (u *Unit) sendAck(msgID string) {
	u.sendFrame(model.Envelope{Type: model.MsgAck, MsgID: msgID})
}

func (u *Unit) sendStatus(status string) {
	u.sendFrame(model.Envelope{Type: model.MsgStatus, Status: status})
}

func (u *Unit) sendFrame(env model.Envelope) {
	u.mu.Lock()
	pos := u.pos
	u.mu.Unlock()
	env.UnitID = u.cfg.UnitID
	env.Lat = pos.Lat
	env.Lon = pos.Lon
	env.Timestamp = time.Now().Unix()
	payload, err := env.Encode()
	if err != nil {
		u.log.Errorf("encode %s frame: %v", env.Type, err)
		return
	}
	if err := u.send(payload); err != nil {
		u.log.Warnf("send %s frame: %v", env.Type, err)
	}
}

// Position returns the current position, for tests.
func (u *Unit) Position() model.Coordinates {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pos
}

// Status returns the current self-declared status, for tests.
func (u *Unit) Status() model.UnitStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}
