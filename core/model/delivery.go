package model

import "time"

// DeliveryStatus is the lifecycle state of a delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryAssigned  DeliveryStatus = "assigned"
	DeliveryEnRoute   DeliveryStatus = "en_route"
	DeliveryArrived   DeliveryStatus = "arrived_dest"
	DeliveryCompleted DeliveryStatus = "completed"
	DeliveryFailed    DeliveryStatus = "failed"
)

// deliveryTransitions lists the allowed next states for each delivery status.
// Frames can be lost on the mesh, so an arrival may be observed while the
// delivery is still "assigned" (the depart frame never made it). An assigned
// delivery may also fall back to pending: the assignment is withdrawn when the
// unit refuses the binding or the command cannot be handed to the transport.
var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryPending:   {DeliveryAssigned},
	DeliveryAssigned:  {DeliveryPending, DeliveryEnRoute, DeliveryArrived, DeliveryFailed},
	DeliveryEnRoute:   {DeliveryArrived, DeliveryFailed},
	DeliveryArrived:   {DeliveryCompleted, DeliveryFailed},
	DeliveryCompleted: {DeliveryPending},
	DeliveryFailed:    {DeliveryPending},
}

// Valid reports whether s is a known delivery status.
func (s DeliveryStatus) Valid() bool {
	_, ok := deliveryTransitions[s]
	return ok
}

// Terminal reports whether no automatic transition leaves s.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryCompleted || s == DeliveryFailed
}

// Active reports whether the delivery is bound to a unit in this status.
func (s DeliveryStatus) Active() bool {
	return s == DeliveryAssigned || s == DeliveryEnRoute || s == DeliveryArrived
}

// CanTransition reports whether moving from s to next is allowed.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	for _, n := range deliveryTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Delivery is a dispatch order for a destination address. The identifier is
// assigned by the store on creation. Destination is nil until the address has
// been geocoded. AssignedUnitID is non-empty exactly while Status is active.
type Delivery struct {
	ID             int64          `json:"id"`
	Address        string         `json:"address"`
	Destination    *Coordinates   `json:"destination,omitempty"`
	Status         DeliveryStatus `json:"status"`
	AssignedUnitID string         `json:"assigned_unit_id,omitempty"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
