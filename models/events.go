package models

import "time"

// TransitionCause names the trigger that produced a transition.
type TransitionCause string

const (
	CauseTripRequested      TransitionCause = "trip_requested"
	CauseDriverAccepted     TransitionCause = "driver_accepted"
	CausePickupReached      TransitionCause = "pickup_reached"
	CausePickupComplete     TransitionCause = "pickup_complete"
	CauseDestinationReached TransitionCause = "destination_reached"
	CauseDropOff            TransitionCause = "drop_off"
	CausePassengerCancelled TransitionCause = "passenger_cancelled"
	// CauseRemoteSync marks a transition applied from a store event committed
	// by another process rather than a local trigger.
	CauseRemoteSync TransitionCause = "remote_sync"
)

// Transition is a committed state-machine edge, delivered to observers in
// commit order.
type Transition struct {
	TripID    string          `json:"trip_id"` // passenger uid
	From      TripState       `json:"from"`
	To        TripState       `json:"to"`
	Cause     TransitionCause `json:"cause"`
	DriverUID string          `json:"driver_uid,omitempty"`
	At        time.Time       `json:"at"`
}
