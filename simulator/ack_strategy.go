package simulator

import (
	"context"
	"math/rand"
	"time"
)

// AckStrategy defines how a simulated unit acknowledges commands. Strategies
// other than immediate acknowledgment exist to exercise the dispatcher's
// retry and exhaustion paths.
type AckStrategy interface {
	Ack(ctx context.Context, send func())
}

// AutoAck sends an ACK after an optional fixed delay.
type AutoAck struct {
	Delay time.Duration
}

// Ack implements AckStrategy.
func (a AutoAck) Ack(ctx context.Context, send func()) {
	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-ctx.Done():
			return
		}
	}
	send()
}

// RandomAck drops acknowledgments with the configured probability and waits
// for the specified delay before sending.
type RandomAck struct {
	Delay    time.Duration
	DropRate float64
}

// Ack implements AckStrategy. Each assignment is acknowledged from its own
// goroutine, so the shared top-level source is used rather than a rand.Rand.
func (r RandomAck) Ack(ctx context.Context, send func()) {
	if r.DropRate > 0 && rand.Float64() < r.DropRate {
		return
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return
		}
	}
	send()
}
