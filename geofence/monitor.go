// Package geofence registers circular regions tied to a trip and emits
// one-shot entered events when the tracked driver's position crosses in.
package geofence

import (
	"fmt"
	"sync"
	"time"

	"trip-coordinator/geo"
	"trip-coordinator/models"
)

// RegionKind labels which end of the trip a region guards.
type RegionKind string

const (
	Pickup      RegionKind = "pickup"
	Destination RegionKind = "destination"
)

// DefaultRadiusMeters is the region radius used when none is configured,
// for both pickup and destination.
const DefaultRadiusMeters = 25.0

// Registration is one circular region tied to a trip. DriverUID scopes the
// region to the assigned driver's positions; other devices never trigger it.
type Registration struct {
	ID           string
	TripID       string
	DriverUID    string
	Kind         RegionKind
	Center       models.Coordinate
	RadiusMeters float64
	Active       bool
}

// Entered reports that the tracked driver crossed into a region. The
// registration is already gone by the time the event is delivered; a device
// cannot re-trigger the same region.
type Entered struct {
	RegistrationID string
	TripID         string
	Kind           RegionKind
	DriverUID      string
	At             time.Time
}

// Monitor tracks active registrations against a location-update feed.
type Monitor struct {
	mu      sync.Mutex
	regions map[string]*Registration
	events  chan Entered
}

// NewMonitor returns a monitor with an empty region set. The events channel
// is buffered; the consumer drives a dispatch loop that drains it.
func NewMonitor() *Monitor {
	return &Monitor{
		regions: make(map[string]*Registration),
		events:  make(chan Entered, 64),
	}
}

// Events is the stream of one-shot entered events.
func (m *Monitor) Events() <-chan Entered { return m.events }

// Register adds a region for tripID and returns its registration id. There is
// at most one active region per kind per trip: registering the same kind again
// replaces the prior region.
func (m *Monitor) Register(tripID, driverUID string, kind RegionKind, center models.Coordinate, radiusMeters float64) string {
	if radiusMeters <= 0 {
		radiusMeters = DefaultRadiusMeters
	}
	id := registrationID(tripID, kind)

	m.mu.Lock()
	m.regions[id] = &Registration{
		ID:           id,
		TripID:       tripID,
		DriverUID:    driverUID,
		Kind:         kind,
		Center:       center,
		RadiusMeters: radiusMeters,
		Active:       true,
	}
	m.mu.Unlock()
	return id
}

// Unregister removes a region. Unknown ids are ignored.
func (m *Monitor) Unregister(id string) {
	m.mu.Lock()
	delete(m.regions, id)
	m.mu.Unlock()
}

// ReleaseTrip removes every region registered for tripID.
func (m *Monitor) ReleaseTrip(tripID string) {
	m.mu.Lock()
	for id, reg := range m.regions {
		if reg.TripID == tripID {
			delete(m.regions, id)
		}
	}
	m.mu.Unlock()
}

// Active returns the registration for a trip and kind, if one is live.
func (m *Monitor) Active(tripID string, kind RegionKind) (Registration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regions[registrationID(tripID, kind)]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// ObserveLocation feeds one device position into the monitor. Each region the
// device enters is consumed: marked inactive, removed, and reported exactly
// once on the events channel.
func (m *Monitor) ObserveLocation(driverUID string, loc models.Coordinate, at time.Time) {
	var entered []Entered

	m.mu.Lock()
	for id, reg := range m.regions {
		if reg.DriverUID != driverUID {
			continue
		}
		if geo.Distance(reg.Center, loc) > reg.RadiusMeters {
			continue
		}
		reg.Active = false
		delete(m.regions, id)
		entered = append(entered, Entered{
			RegistrationID: id,
			TripID:         reg.TripID,
			Kind:           reg.Kind,
			DriverUID:      driverUID,
			At:             at,
		})
	}
	m.mu.Unlock()

	for _, ev := range entered {
		m.events <- ev
	}
}

func registrationID(tripID string, kind RegionKind) string {
	return fmt.Sprintf("%s/%s", tripID, kind)
}
