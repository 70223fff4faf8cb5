package trip

import "errors"

var (
	// ErrInvalidTransition rejects a trigger that is not legal for the
	// trip's current state. The state is left unchanged.
	ErrInvalidTransition = errors.New("trip: invalid transition")

	// ErrAlreadyAccepted rejects an accept on a trip that already has a
	// driver assigned, so the losing side of a concurrent accept race can
	// tell the trip is no longer available.
	ErrAlreadyAccepted = errors.New("trip: already accepted")

	// ErrPermissionDenied rejects a caller who lacks authority for the
	// action, such as a non-assigned driver marking completion.
	ErrPermissionDenied = errors.New("trip: permission denied")
)
