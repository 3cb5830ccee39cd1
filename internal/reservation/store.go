package reservation

import (
	"context"
	"errors"
)

// Kind distinguishes the two reservation families a rider can hold.
// At most one live record exists per (owner, kind).
type Kind string

const (
	Boarding  Kind = "boarding"
	Alighting Kind = "alighting"
)

// ErrDuplicate is returned by Create when the owner already holds a live
// reservation of that kind. The protocol is cancel-then-create, never
// update-in-place; a duplicate create is a caller bug and is surfaced loudly
// instead of silently producing two live records.
var ErrDuplicate = errors.New("reservation already exists for owner and kind")

// Record is one live reservation.
type Record struct {
	ID      string
	OwnerID string
	Kind    Kind
	StopID  string
	ArsID   string
	RouteID string
}

// Store is the server-side single source of truth for reservations.
type Store interface {
	// Create inserts a new live reservation and returns its id.
	// Returns ErrDuplicate when a record of that kind already exists for
	// the owner.
	Create(ctx context.Context, rec Record) (string, error)

	// CancelAll deletes every live reservation of the given kind for the
	// owner and returns how many were deleted. Cancelling when nothing
	// exists returns 0, not an error.
	CancelAll(ctx context.Context, kind Kind, ownerID string) (int64, error)
}
