// Package inbound decouples the transport receive callback from message
// interpretation. The radio callback must never block on database I/O or
// state-machine logic, so frames are buffered here and drained by exactly one
// consumer, preserving arrival order.
package inbound

import (
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/logger"
)

// Queue is a bounded FIFO of raw frames. When full, the oldest unprocessed
// frame is shed: telemetry is latest-position-wins, so dropping stale frames
// beats stalling the transport.
type Queue struct {
	ch  chan []byte
	log logger.Logger
	// OnDrop is invoked for each shed frame with the queue length at the time.
	OnDrop func(queueLen int)
}

// New creates a queue holding up to size frames.
func New(size int, log logger.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan []byte, size), log: log}
}

// Push enqueues the frame, shedding the oldest entry when the queue is full.
// Push is called from the single transport receive callback and never blocks.
func (q *Queue) Push(frame []byte) {
	cp := append([]byte(nil), frame...)
	for {
		select {
		case q.ch <- cp:
			return
		default:
		}
		select {
		case <-q.ch:
			q.log.Warnf("inbound queue full, dropping oldest frame")
			if q.OnDrop != nil {
				q.OnDrop(len(q.ch))
			}
		default:
		}
	}
}

// Frames returns the consumer side of the queue.
func (q *Queue) Frames() <-chan []byte { return q.ch }

// Len returns the number of buffered frames.
func (q *Queue) Len() int { return len(q.ch) }

// Close closes the queue. Push must not be called afterwards.
func (q *Queue) Close() { close(q.ch) }
