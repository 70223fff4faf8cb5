package models

import "time"

// TripState is the lifecycle position of a trip. The integer values of the
// non-terminal-to-Completed range are the wire encoding used by the realtime
// store and must not be reordered.
type TripState int

const (
	StateRequested TripState = iota // 0
	StateAccepted
	StateDriverArrived
	StateInProgress
	StateArrivedAtDestination
	StateCompleted
	// StateCancelled is never written to the store; a cancelled trip is
	// signalled by deleting its record.
	StateCancelled
)

// ParseTripState maps a stored state integer back to a TripState.
func ParseTripState(v int) (TripState, bool) {
	if v < int(StateRequested) || v > int(StateCompleted) {
		return 0, false
	}
	return TripState(v), true
}

func (s TripState) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateAccepted:
		return "accepted"
	case StateDriverArrived:
		return "driver_arrived"
	case StateInProgress:
		return "in_progress"
	case StateArrivedAtDestination:
		return "arrived_at_destination"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s TripState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Trip is a single passenger-to-driver ride, identified by the passenger's
// uid. DriverUID is empty until a driver accepts.
type Trip struct {
	PassengerUID string     `json:"passenger_uid"`
	DriverUID    string     `json:"driver_uid,omitempty"`
	Pickup       Coordinate `json:"pickup"`
	Destination  Coordinate `json:"destination"`
	State        TripState  `json:"state"`
	RequestedAt  time.Time  `json:"requested_at"`
}

// DriverAssigned reports whether a driver uid is present. The state machine
// keeps this true exactly for Accepted..ArrivedAtDestination.
func (t *Trip) DriverAssigned() bool {
	return t.DriverUID != ""
}
