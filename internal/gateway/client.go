package gateway

import (
	"context"
	"errors"
)

// ErrUpstream marks transient upstream/network failures. Callers on a poll
// tick swallow it and retry on the next tick.
var ErrUpstream = errors.New("upstream request failed")

// Client is the narrow contract the trip engine consumes. Upstream wire
// shapes are this package's concern; everything crossing this boundary is
// normalized.
type Client interface {
	// SearchStations looks up stops by (partial) name. An empty slice is a
	// business-level empty result, not an error.
	SearchStations(ctx context.Context, name string) ([]Station, error)

	// ListRoutesAtStop returns the routes serving the stop with the given
	// ARS id.
	ListRoutesAtStop(ctx context.Context, arsID string) ([]Route, error)

	// PollArrival fetches the live arrival message for a stop+route pair.
	// ok == false signals that the feed carries no active vehicle for the
	// route (service ended), which is a business outcome, not an error.
	PollArrival(ctx context.Context, arsID, routeID string) (ArrivalSample, bool, error)

	// ListRemainingStops returns the stops still ahead of the given vehicle
	// on its route, in true stop-sequence order, starting at the vehicle's
	// current stop.
	ListRemainingStops(ctx context.Context, routeID, vehicleID string) ([]Station, error)

	// PollVehiclePosition reports the stop the vehicle is currently at or
	// approaching. ok == false means the feed has no position for the
	// vehicle right now.
	PollVehiclePosition(ctx context.Context, vehicleID string) (Position, bool, error)
}
