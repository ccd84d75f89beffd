package dispatch

import (
	"errors"
	"fmt"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
)

// ErrUnresolvedAddress is returned when an assignment is attempted on a
// delivery whose address never geocoded.
var ErrUnresolvedAddress = errors.New("dispatch: delivery address not resolved")

// TransitionError reports a delivery status change the state machine forbids.
type TransitionError struct {
	DeliveryID int64
	From       model.DeliveryStatus
	To         model.DeliveryStatus
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("delivery %d: invalid transition %s -> %s", e.DeliveryID, e.From, e.To)
}

// GeocodeError reports that an address could not be resolved. The delivery it
// decorates still exists and can be re-geocoded later.
type GeocodeError struct {
	Address string
	Err     error
}

func (e GeocodeError) Error() string {
	return fmt.Sprintf("geocode %q: %v", e.Address, e.Err)
}

func (e GeocodeError) Unwrap() error { return e.Err }
