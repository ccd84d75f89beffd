// Package transport abstracts the mesh radio link. The adapter moves opaque
// JSON frames; it never interprets content and never guarantees delivery.
package transport

import "errors"

// ErrNotConnected is returned by Send while the link is down. The link
// reconnects on its own; callers retry on their own schedule.
var ErrNotConnected = errors.New("transport: not connected")

// Handler is invoked once per received frame, in arrival order. It must not
// block: handlers hand frames to a queue and return.
type Handler func(frame []byte)

// Transport is one radio link to the delivery units.
type Transport interface {
	// Send transmits the payload toward the given unit, best effort.
	Send(unitID string, payload []byte) error
	// SetHandler registers the receive callback. Frames received before a
	// handler is set are dropped.
	SetHandler(h Handler)
	Close() error
}
