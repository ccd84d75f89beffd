// Package geocode defines address resolution for delivery destinations.
package geocode

import (
	"context"
	"errors"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
)

// ErrNotFound is returned when the service resolved the request but knows no
// coordinates for the address. Retrying will not help.
var ErrNotFound = errors.New("geocode: address not found")

// Geocoder resolves a street address to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (model.Coordinates, error)
}
