package model

import "time"

// PendingAck tracks an outbound message awaiting acknowledgment. Records are
// durable: they survive restarts and are re-armed against the retry scheduler
// with their spent attempts preserved.
type PendingAck struct {
	MsgID      string    `json:"msg_id"`
	UnitID     string    `json:"unit_id"`
	DeliveryID int64     `json:"delivery_id"`
	Payload    []byte    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
	Attempts   int       `json:"attempts"`
	NextRetry  time.Time `json:"next_retry"`
}
