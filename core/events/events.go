// Package events defines the typed events published on the internal bus.
package events

import (
	"time"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
)

// FrameEvent is published for each inbound frame accepted by the coordinator.
type FrameEvent struct {
	Type   model.MessageType
	UnitID string
}

// DropEvent is published when the inbound queue sheds its oldest frame.
type DropEvent struct {
	QueueLen int
}

// AckEvent is published when a reliable message is acknowledged.
type AckEvent struct {
	MsgID      string
	UnitID     string
	DeliveryID int64
	Attempts   int
	Latency    time.Duration
}

// RetryEvent is published for each retransmission of a reliable message.
type RetryEvent struct {
	MsgID   string
	UnitID  string
	Attempt int
}

// AckExhaustedEvent is published when a reliable message runs out of attempts.
type AckExhaustedEvent struct {
	MsgID      string
	UnitID     string
	DeliveryID int64
	Attempts   int
}

// DeliveryEvent is published on every delivery status transition.
type DeliveryEvent struct {
	DeliveryID int64
	UnitID     string
	From       model.DeliveryStatus
	To         model.DeliveryStatus
}

// UnitEvent is published on every unit status transition.
type UnitEvent struct {
	UnitID string
	From   model.UnitStatus
	To     model.UnitStatus
}
