package model

import "time"

// UnitStatus is the lifecycle state of a delivery unit.
type UnitStatus string

const (
	UnitIdle      UnitStatus = "idle"
	UnitAssigned  UnitStatus = "assigned"
	UnitEnRoute   UnitStatus = "en_route"
	UnitArrived   UnitStatus = "arrived_dest"
	UnitReturning UnitStatus = "returning"
	UnitOffline   UnitStatus = "offline"
	UnitError     UnitStatus = "error"
)

// unitTransitions lists the allowed next states for each unit status. Any
// active state may drop to offline (staleness sweep) or error (dispatcher
// marks failed, ack exhaustion). Offline units are restored to the state
// inferred from their delivery when they reconnect.
var unitTransitions = map[UnitStatus][]UnitStatus{
	UnitIdle:      {UnitAssigned, UnitError},
	UnitAssigned:  {UnitEnRoute, UnitArrived, UnitIdle, UnitOffline, UnitError},
	UnitEnRoute:   {UnitArrived, UnitIdle, UnitOffline, UnitError},
	UnitArrived:   {UnitReturning, UnitIdle, UnitOffline, UnitError},
	UnitReturning: {UnitIdle, UnitOffline, UnitError},
	UnitOffline:   {UnitIdle, UnitAssigned, UnitEnRoute, UnitArrived, UnitReturning, UnitError},
	UnitError:     {UnitIdle, UnitOffline},
}

// Valid reports whether s is a known unit status.
func (s UnitStatus) Valid() bool {
	_, ok := unitTransitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is allowed.
func (s UnitStatus) CanTransition(next UnitStatus) bool {
	for _, n := range unitTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Carrying reports whether the unit keeps its delivery assignment in this
// status. Offline keeps the assignment on purpose: a silent unit may just be
// in a radio shadow and its delivery stays pending a dispatcher decision.
func (s UnitStatus) Carrying() bool {
	switch s {
	case UnitAssigned, UnitEnRoute, UnitArrived, UnitReturning, UnitOffline:
		return true
	}
	return false
}

// Unit is a delivery unit reachable over the mesh. The identifier is chosen by
// the operator and stable across restarts. AssignedDeliveryID is zero when the
// unit carries no delivery.
type Unit struct {
	ID                 string       `json:"id"`
	Status             UnitStatus   `json:"status"`
	AssignedDeliveryID int64        `json:"assigned_delivery_id,omitempty"`
	Location           *Coordinates `json:"location,omitempty"`
	LocatedAt          time.Time    `json:"located_at"`
	LastContact        time.Time    `json:"last_contact"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// UnitStatusForDelivery infers the unit status matching a delivery status.
// Used when an offline unit reconnects and its previous state must be derived
// from the delivery it still carries.
func UnitStatusForDelivery(s DeliveryStatus) UnitStatus {
	switch s {
	case DeliveryAssigned:
		return UnitAssigned
	case DeliveryEnRoute:
		return UnitEnRoute
	case DeliveryArrived:
		return UnitArrived
	case DeliveryCompleted:
		return UnitReturning
	default:
		return UnitIdle
	}
}
