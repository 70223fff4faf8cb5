// Package trip owns the ride lifecycle: it validates transitions, applies
// their side effects, and reacts to geofence crossings and realtime store
// events.
//
// States move Requested -> Accepted -> DriverArrived -> InProgress ->
// ArrivedAtDestination -> Completed, with Cancelled reachable from Requested
// or Accepted by the passenger. Completed and Cancelled delete the trip
// record from the store; no history is retained here.
package trip

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"trip-coordinator/geofence"
	"trip-coordinator/models"
	"trip-coordinator/notify"
	"trip-coordinator/realtime"
)

// Machine is the single writer of every trip's state and driver assignment.
// All work for one trip id runs on that trip's serialized queue; independent
// trips proceed concurrently.
type Machine struct {
	adapter    realtime.Adapter
	monitor    *geofence.Monitor
	dispatcher *notify.Dispatcher
	log        *logrus.Entry

	// geofenceRadius is the pickup/destination region radius in meters.
	geofenceRadius float64

	mu     sync.Mutex
	queues map[string]*queue
	trips  map[string]*models.Trip
}

// NewMachine wires the state machine over its collaborators.
// geofenceRadius <= 0 selects geofence.DefaultRadiusMeters.
func NewMachine(adapter realtime.Adapter, monitor *geofence.Monitor, dispatcher *notify.Dispatcher, geofenceRadius float64, log *logrus.Entry) *Machine {
	if geofenceRadius <= 0 {
		geofenceRadius = geofence.DefaultRadiusMeters
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Machine{
		adapter:        adapter,
		monitor:        monitor,
		dispatcher:     dispatcher,
		log:            log,
		geofenceRadius: geofenceRadius,
		queues:         make(map[string]*queue),
		trips:          make(map[string]*models.Trip),
	}
}

// exec runs fn on the trip's queue and waits for its result.
func (m *Machine) exec(tripID string, fn func() error) error {
	for {
		q := m.queueFor(tripID)
		res := make(chan error, 1)
		ok := q.submit(func() {
			err := fn()
			m.reapIdle(tripID)
			res <- err
		})
		if ok {
			return <-res
		}
		// The queue closed between lookup and submit; the trip just ended.
		// Retry on a fresh queue so fn can observe the trip as gone.
	}
}

// dispatch runs fn on the trip's queue without waiting. Used by the event
// loop so one trip's slow store write never stalls other trips' events.
func (m *Machine) dispatch(tripID string, fn func() error) {
	for {
		q := m.queueFor(tripID)
		ok := q.submit(func() {
			if err := fn(); err != nil {
				m.log.WithField("trip", tripID).WithError(err).Warn("event handling failed")
			}
			m.reapIdle(tripID)
		})
		if ok {
			return
		}
	}
}

// reapIdle drops the trip's queue when no live trip remains and nothing is
// queued behind the caller. Without it, lookups of unknown ids and the store
// echoes of finished trips would each leave a parked queue goroutine behind.
func (m *Machine) reapIdle(tripID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, live := m.trips[tripID]; live {
		return
	}
	q, ok := m.queues[tripID]
	if !ok {
		return
	}
	if q.closeIfIdle() {
		delete(m.queues, tripID)
	}
}

func (m *Machine) queueFor(tripID string) *queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[tripID]
	if !ok {
		q = newQueue()
		m.queues[tripID] = q
	}
	return q
}

func (m *Machine) memTrip(tripID string) (*models.Trip, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	return t, ok
}

func (m *Machine) setTrip(t *models.Trip) {
	m.mu.Lock()
	m.trips[t.PassengerUID] = t
	m.mu.Unlock()
}

// release tears a finished trip down: its record is gone, its geofences are
// released, and its queue drains and stops.
func (m *Machine) release(tripID string) {
	m.mu.Lock()
	delete(m.trips, tripID)
	q, ok := m.queues[tripID]
	if ok {
		delete(m.queues, tripID)
	}
	m.mu.Unlock()
	if ok {
		q.close()
	}
	m.monitor.ReleaseTrip(tripID)
}

// loadTrip resolves the trip from memory, falling back to the store. A
// malformed store payload reads as not found.
func (m *Machine) loadTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	if t, ok := m.memTrip(tripID); ok {
		return t, nil
	}
	fields, err := m.adapter.Get(ctx, realtime.Join(realtime.PathTrips, tripID))
	if err != nil {
		return nil, err
	}
	decoded, err := models.TripFromFields(tripID, fields)
	if err != nil {
		return nil, realtime.ErrNotFound
	}
	t := &decoded
	m.setTrip(t)
	return t, nil
}

func (m *Machine) publishTransition(tripID string, from, to models.TripState, cause models.TransitionCause, driverUID string) {
	m.dispatcher.Publish(models.Transition{
		TripID:    tripID,
		From:      from,
		To:        to,
		Cause:     cause,
		DriverUID: driverUID,
		At:        time.Now(),
	})
	m.log.WithFields(logrus.Fields{
		"trip":  tripID,
		"from":  from.String(),
		"to":    to.String(),
		"cause": cause,
	}).Info("trip transition")
}

// RequestTrip creates a trip in Requested for the passenger and writes it to
// the store. A passenger with a live trip cannot request another.
func (m *Machine) RequestTrip(ctx context.Context, passengerUID string, pickup, destination models.Coordinate) error {
	return m.exec(passengerUID, func() error {
		if t, ok := m.memTrip(passengerUID); ok && !t.State.Terminal() {
			return ErrInvalidTransition
		}
		t := &models.Trip{
			PassengerUID: passengerUID,
			Pickup:       pickup,
			Destination:  destination,
			State:        models.StateRequested,
			RequestedAt:  time.Now(),
		}
		if err := m.adapter.Update(ctx, realtime.Join(realtime.PathTrips, passengerUID), t.StoreFields()); err != nil {
			return err
		}
		m.setTrip(t)
		m.publishTransition(passengerUID, models.StateRequested, models.StateRequested, models.CauseTripRequested, "")
		return nil
	})
}

// Accept assigns driverUID to a Requested trip and registers the pickup
// geofence. The losing side of a concurrent accept gets ErrAlreadyAccepted.
func (m *Machine) Accept(ctx context.Context, passengerUID, driverUID string) error {
	return m.exec(passengerUID, func() error {
		t, err := m.loadTrip(ctx, passengerUID)
		if err != nil {
			return err
		}
		if t.DriverAssigned() {
			return ErrAlreadyAccepted
		}
		if t.State != models.StateRequested {
			return ErrInvalidTransition
		}
		fields := map[string]interface{}{
			models.FieldState:     int(models.StateAccepted),
			models.FieldDriverUID: driverUID,
		}
		if err := m.adapter.Update(ctx, realtime.Join(realtime.PathTrips, passengerUID), fields); err != nil {
			return err
		}
		from := t.State
		t.DriverUID = driverUID
		t.State = models.StateAccepted
		m.monitor.Register(passengerUID, driverUID, geofence.Pickup, t.Pickup, m.geofenceRadius)
		m.publishTransition(passengerUID, from, t.State, models.CauseDriverAccepted, driverUID)
		return nil
	})
}

// MarkPickupComplete moves DriverArrived -> InProgress and registers the
// destination geofence. Only the assigned driver may call it.
func (m *Machine) MarkPickupComplete(ctx context.Context, passengerUID, driverUID string) error {
	return m.exec(passengerUID, func() error {
		t, err := m.loadTrip(ctx, passengerUID)
		if err != nil {
			return err
		}
		if t.State != models.StateDriverArrived {
			return ErrInvalidTransition
		}
		if t.DriverUID != driverUID {
			return ErrPermissionDenied
		}
		fields := map[string]interface{}{models.FieldState: int(models.StateInProgress)}
		if err := m.adapter.Update(ctx, realtime.Join(realtime.PathTrips, passengerUID), fields); err != nil {
			return err
		}
		from := t.State
		t.State = models.StateInProgress
		m.monitor.Register(passengerUID, driverUID, geofence.Destination, t.Destination, m.geofenceRadius)
		m.publishTransition(passengerUID, from, t.State, models.CausePickupComplete, driverUID)
		return nil
	})
}

// MarkDropOff completes the trip: the record is deleted from the store and
// every registration for the trip is released. Only the assigned driver may
// call it.
func (m *Machine) MarkDropOff(ctx context.Context, passengerUID, driverUID string) error {
	return m.exec(passengerUID, func() error {
		t, err := m.loadTrip(ctx, passengerUID)
		if err != nil {
			return err
		}
		if t.State != models.StateArrivedAtDestination {
			return ErrInvalidTransition
		}
		if t.DriverUID != driverUID {
			return ErrPermissionDenied
		}
		if err := m.adapter.Delete(ctx, realtime.Join(realtime.PathTrips, passengerUID)); err != nil {
			return err
		}
		from := t.State
		m.publishTransition(passengerUID, from, models.StateCompleted, models.CauseDropOff, driverUID)
		m.release(passengerUID)
		return nil
	})
}

// Cancel aborts a trip that has not been picked up yet. Only the passenger
// may cancel, and only from Requested or Accepted.
func (m *Machine) Cancel(ctx context.Context, passengerUID, callerUID string) error {
	return m.exec(passengerUID, func() error {
		t, err := m.loadTrip(ctx, passengerUID)
		if err != nil {
			return err
		}
		if t.State != models.StateRequested && t.State != models.StateAccepted {
			return ErrInvalidTransition
		}
		if callerUID != passengerUID {
			return ErrPermissionDenied
		}
		if err := m.adapter.Delete(ctx, realtime.Join(realtime.PathTrips, passengerUID)); err != nil {
			return err
		}
		from := t.State
		m.publishTransition(passengerUID, from, models.StateCancelled, models.CausePassengerCancelled, t.DriverUID)
		m.release(passengerUID)
		return nil
	})
}

// Trip returns a snapshot of the passenger's current trip.
func (m *Machine) Trip(ctx context.Context, passengerUID string) (models.Trip, error) {
	var snapshot models.Trip
	err := m.exec(passengerUID, func() error {
		t, err := m.loadTrip(ctx, passengerUID)
		if err != nil {
			return err
		}
		snapshot = *t
		return nil
	})
	return snapshot, err
}

// Run consumes the two asynchronous event sources: geofence crossings and
// the store's trips feed. It blocks until ctx is cancelled. Each event is
// dispatched to its trip's queue, so events for one trip apply in arrival
// order while trips stay independent.
func (m *Machine) Run(ctx context.Context) error {
	added, err := m.adapter.Subscribe(ctx, realtime.PathTrips, realtime.ChildAdded)
	if err != nil {
		return err
	}
	changed, err := m.adapter.Subscribe(ctx, realtime.PathTrips, realtime.ChildChanged)
	if err != nil {
		return err
	}
	removed, err := m.adapter.Subscribe(ctx, realtime.PathTrips, realtime.ChildRemoved)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.monitor.Events():
			m.handleEntered(ctx, ev)
		case ev, ok := <-added:
			if !ok {
				return nil
			}
			m.handleChildAdded(ev)
		case ev, ok := <-changed:
			if !ok {
				return nil
			}
			m.handleChildChanged(ev)
		case ev, ok := <-removed:
			if !ok {
				return nil
			}
			m.handleChildRemoved(ev)
		}
	}
}

// handleEntered applies a geofence crossing. A crossing whose registration
// was already consumed, or whose trip has moved on, is a no-op rather than an
// error: the same underlying event may be delivered more than once.
func (m *Machine) handleEntered(ctx context.Context, ev geofence.Entered) {
	m.dispatch(ev.TripID, func() error {
		t, ok := m.memTrip(ev.TripID)
		if !ok {
			return nil
		}
		switch {
		case ev.Kind == geofence.Pickup && t.State == models.StateAccepted:
			fields := map[string]interface{}{models.FieldState: int(models.StateDriverArrived)}
			if err := m.adapter.Update(ctx, realtime.Join(realtime.PathTrips, ev.TripID), fields); err != nil {
				return err
			}
			from := t.State
			t.State = models.StateDriverArrived
			m.publishTransition(ev.TripID, from, t.State, models.CausePickupReached, t.DriverUID)
		case ev.Kind == geofence.Destination && t.State == models.StateInProgress:
			fields := map[string]interface{}{models.FieldState: int(models.StateArrivedAtDestination)}
			if err := m.adapter.Update(ctx, realtime.Join(realtime.PathTrips, ev.TripID), fields); err != nil {
				return err
			}
			from := t.State
			t.State = models.StateArrivedAtDestination
			m.publishTransition(ev.TripID, from, t.State, models.CauseDestinationReached, t.DriverUID)
		default:
			m.log.WithFields(logrus.Fields{
				"trip":  ev.TripID,
				"kind":  ev.Kind,
				"state": t.State.String(),
			}).Debug("ignoring stale geofence event")
		}
		return nil
	})
}

// handleChildAdded surfaces trips created by other writers, which is how
// driver-side observers learn about new requests. Our own writes echo back
// here and are skipped.
func (m *Machine) handleChildAdded(ev realtime.Event) {
	m.dispatch(ev.Key, func() error {
		if _, ok := m.memTrip(ev.Key); ok {
			return nil
		}
		decoded, err := models.TripFromFields(ev.Key, ev.Fields)
		if err != nil {
			return nil
		}
		t := &decoded
		m.setTrip(t)
		if t.State == models.StateRequested {
			m.publishTransition(ev.Key, models.StateRequested, models.StateRequested, models.CauseTripRequested, "")
		}
		return nil
	})
}

// handleChildChanged folds in a transition committed by another process.
// Only forward movement is applied, and only as a notification: the process
// that committed the transition owns its side effects.
func (m *Machine) handleChildChanged(ev realtime.Event) {
	m.dispatch(ev.Key, func() error {
		t, ok := m.memTrip(ev.Key)
		if !ok {
			return nil
		}
		remote, err := models.TripFromFields(ev.Key, ev.Fields)
		if err != nil {
			return nil
		}
		if remote.State <= t.State {
			return nil
		}
		from := t.State
		t.State = remote.State
		if remote.DriverUID != "" {
			t.DriverUID = remote.DriverUID
		}
		m.publishTransition(ev.Key, from, t.State, models.CauseRemoteSync, t.DriverUID)
		if t.State == models.StateCompleted {
			m.release(ev.Key)
		}
		return nil
	})
}

// handleChildRemoved treats a deleted record for a live local trip as a
// cancellation, which is how the cancelled-trip notification reaches the
// driver side. Removals for trips we already finished locally are echoes.
func (m *Machine) handleChildRemoved(ev realtime.Event) {
	m.dispatch(ev.Key, func() error {
		t, ok := m.memTrip(ev.Key)
		if !ok || t.State.Terminal() {
			return nil
		}
		from := t.State
		m.publishTransition(ev.Key, from, models.StateCancelled, models.CausePassengerCancelled, t.DriverUID)
		m.release(ev.Key)
		return nil
	})
}

// IsNotFound reports whether err means the trip or record is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, realtime.ErrNotFound)
}
