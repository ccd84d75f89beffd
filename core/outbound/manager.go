// Package outbound guarantees that critical commands reach their unit at
// least once, or that the failure is surfaced. Every reliable message is
// backed by a durable PendingAck record; a deadline scheduler retransmits the
// identical payload until an ACK arrives or attempts run out.
package outbound

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/events"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/logger"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/store"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/transport"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/internal/clock"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/internal/eventbus"
)

// FailureHandler is notified when a reliable message permanently fails.
type FailureHandler interface {
	OnAckExhausted(ctx context.Context, ack model.PendingAck)
}

// Manager is the reliable outbound manager. It is the sole mutator of
// PendingAck records. One mutex serializes the ACK and exhaustion paths so a
// record is retired by exactly one of them.
type Manager struct {
	store   store.PendingAckStore
	tr      transport.Transport
	cfg     Config
	clk     clock.Clock
	log     logger.Logger
	bus     eventbus.EventBus
	failure FailureHandler

	mu   sync.Mutex
	heap retryHeap
}

// NewManager creates a Manager. The failure handler is attached separately
// via SetFailureHandler because the coordinator and the manager reference
// each other.
func NewManager(st store.PendingAckStore, tr transport.Transport, cfg Config, clk clock.Clock, bus eventbus.EventBus, log logger.Logger) (*Manager, error) {
	if st == nil || tr == nil {
		return nil, fmt.Errorf("outbound: nil store or transport")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Manager{store: st, tr: tr, cfg: cfg, clk: clk, log: log, bus: bus}, nil
}

// SetFailureHandler registers the permanent-failure callback.
func (m *Manager) SetFailureHandler(h FailureHandler) {
	m.mu.Lock()
	m.failure = h
	m.mu.Unlock()
}

// SendReliable assigns the envelope a unique message id, persists a
// PendingAck record, sends the frame and arms the retry deadline. The record
// is persisted before the first send so a crash in between still retries. A
// transport outage is not an error here: the scheduler retransmits.
func (m *Manager) SendReliable(ctx context.Context, env model.Envelope) (model.PendingAck, error) {
	now := m.clk.Now()
	env.MsgID = uuid.NewString()
	env.Timestamp = now.Unix()
	payload, err := env.Encode()
	if err != nil {
		return model.PendingAck{}, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	ack := model.PendingAck{
		MsgID:      env.MsgID,
		UnitID:     env.UnitID,
		DeliveryID: env.DeliveryID,
		Payload:    payload,
		CreatedAt:  now,
		Attempts:   1,
		NextRetry:  now.Add(m.cfg.backoffFor(1)),
	}
	if err := m.store.PutPendingAck(ctx, ack); err != nil {
		return model.PendingAck{}, fmt.Errorf("persist pending ack: %w", err)
	}
	m.send(ack)
	m.mu.Lock()
	heap.Push(&m.heap, deadline{msgID: ack.MsgID, at: ack.NextRetry})
	m.mu.Unlock()
	return ack, nil
}

// OnAck retires the matching PendingAck. Duplicate or late ACKs are ignored.
func (m *Manager) OnAck(ctx context.Context, msgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.store.PendingAck(ctx, msgID)
	if err == store.ErrNotFound {
		m.log.Debugf("ignoring ack for unknown msg %s", msgID)
		return nil
	}
	if err != nil {
		return err
	}
	if err := m.store.DeletePendingAck(ctx, msgID); err != nil && err != store.ErrNotFound {
		return err
	}
	acksTotal.Inc()
	latency := m.clk.Now().Sub(a.CreatedAt)
	ackLatency.Observe(latency.Seconds())
	m.log.Infof("msg %s acknowledged by %s after %d attempt(s)", msgID, a.UnitID, a.Attempts)
	if m.bus != nil {
		m.bus.Publish(events.AckEvent{
			MsgID:      a.MsgID,
			UnitID:     a.UnitID,
			DeliveryID: a.DeliveryID,
			Attempts:   a.Attempts,
			Latency:    latency,
		})
	}
	return nil
}

// CancelDelivery retires all pending messages correlated with the delivery,
// without signaling failure. Used when the dispatcher manually fails or
// reopens a delivery that still has an assignment in flight.
func (m *Manager) CancelDelivery(ctx context.Context, deliveryID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acks, err := m.store.PendingAcks(ctx)
	if err != nil {
		return err
	}
	for _, a := range acks {
		if a.DeliveryID != deliveryID {
			continue
		}
		if err := m.store.DeletePendingAck(ctx, a.MsgID); err != nil && err != store.ErrNotFound {
			return err
		}
		m.log.Infof("cancelled pending msg %s for delivery %d", a.MsgID, deliveryID)
	}
	return nil
}

// Recover reloads all PendingAck rows and re-arms their deadlines. Attempts
// already spent are preserved, so the maximum bound holds across restarts.
// Records whose deadline passed while the process was down are due at once.
func (m *Manager) Recover(ctx context.Context) error {
	acks, err := m.store.PendingAcks(ctx)
	if err != nil {
		return fmt.Errorf("reload pending acks: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range acks {
		heap.Push(&m.heap, deadline{msgID: a.MsgID, at: a.NextRetry})
	}
	if len(acks) > 0 {
		m.log.Infof("re-armed %d pending ack(s) from store", len(acks))
	}
	return nil
}

// Run drives the retry scheduler until the context is canceled. The loop is
// supervised: a panic in one scan is logged and the scheduler continues.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(m.cfg.PollIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

func (m *Manager) scan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("retry scheduler panic: %v\n%s", r, debug.Stack())
		}
	}()
	m.ProcessDue(ctx, m.clk.Now())
}

// ProcessDue handles every deadline at or before now: retransmit if attempts
// remain, otherwise retire the record and signal permanent failure. Exported
// so tests can drive the scheduler with a fake clock.
func (m *Manager) ProcessDue(ctx context.Context, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.heap.Len() > 0 && !m.heap[0].at.After(now) {
		d := heap.Pop(&m.heap).(deadline)
		a, err := m.store.PendingAck(ctx, d.msgID)
		if err == store.ErrNotFound {
			continue // already acked or cancelled
		}
		if err != nil {
			m.log.Errorf("load pending ack %s: %v", d.msgID, err)
			heap.Push(&m.heap, deadline{msgID: d.msgID, at: now.Add(m.cfg.backoffFor(1))})
			continue
		}
		if a.NextRetry.After(now) {
			// stale heap entry, the record was re-armed
			heap.Push(&m.heap, deadline{msgID: a.MsgID, at: a.NextRetry})
			continue
		}
		if a.Attempts >= m.cfg.MaxAttempts {
			m.exhaust(ctx, a)
			continue
		}
		a.Attempts++
		a.NextRetry = now.Add(m.cfg.backoffFor(a.Attempts))
		if err := m.store.PutPendingAck(ctx, a); err != nil {
			m.log.Errorf("update pending ack %s: %v", a.MsgID, err)
			continue
		}
		m.log.Warnf("no ack for msg %s, retrying (attempt %d/%d)", a.MsgID, a.Attempts, m.cfg.MaxAttempts)
		retriesTotal.Inc()
		m.send(a)
		heap.Push(&m.heap, deadline{msgID: a.MsgID, at: a.NextRetry})
		if m.bus != nil {
			m.bus.Publish(events.RetryEvent{MsgID: a.MsgID, UnitID: a.UnitID, Attempt: a.Attempts})
		}
	}
}

// send hands the identical payload to the transport. Failures are recorded
// but not propagated; the deadline already armed covers the retry.
func (m *Manager) send(a model.PendingAck) {
	sendAttempts.Inc()
	if err := m.tr.Send(a.UnitID, a.Payload); err != nil {
		sendFailures.Inc()
		m.log.Warnf("send msg %s to %s: %v", a.MsgID, a.UnitID, err)
	}
}

// exhaust retires the record and signals permanent failure. Runs under m.mu,
// mutually exclusive with OnAck.
func (m *Manager) exhaust(ctx context.Context, a model.PendingAck) {
	if err := m.store.DeletePendingAck(ctx, a.MsgID); err != nil && err != store.ErrNotFound {
		m.log.Errorf("delete exhausted ack %s: %v", a.MsgID, err)
		return
	}
	exhaustedTotal.Inc()
	m.log.Errorf("msg %s to %s exhausted after %d attempts", a.MsgID, a.UnitID, a.Attempts)
	if m.bus != nil {
		m.bus.Publish(events.AckExhaustedEvent{
			MsgID:      a.MsgID,
			UnitID:     a.UnitID,
			DeliveryID: a.DeliveryID,
			Attempts:   a.Attempts,
		})
	}
	if m.failure != nil {
		m.failure.OnAckExhausted(ctx, a)
	}
}

// Pending returns the number of armed deadlines, for introspection in tests.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heap.Len()
}
