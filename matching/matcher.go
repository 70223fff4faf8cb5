// Package matching turns a passenger's pickup request into a stream of
// nearby-driver sightings.
package matching

import (
	"context"

	"github.com/sirupsen/logrus"

	"trip-coordinator/geo"
	"trip-coordinator/models"
	"trip-coordinator/realtime"
)

// DefaultRadiusMeters is the search radius used when none is configured. It
// is small for a city-scale service, which is why the radius is a constructor
// parameter rather than a constant.
const DefaultRadiusMeters = 50.0

// Matcher feeds driver location broadcasts from the realtime store into the
// geospatial index and surfaces candidate sightings around a pickup point.
// The stream is advisory for the UI and never touches trip state.
type Matcher struct {
	index   *geo.Index
	adapter realtime.Adapter
	radius  float64
	log     *logrus.Entry
}

// NewMatcher wires a matcher over the shared index and store adapter.
// radiusMeters <= 0 selects DefaultRadiusMeters.
func NewMatcher(index *geo.Index, adapter realtime.Adapter, radiusMeters float64, log *logrus.Entry) *Matcher {
	if radiusMeters <= 0 {
		radiusMeters = DefaultRadiusMeters
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Matcher{index: index, adapter: adapter, radius: radiusMeters, log: log}
}

// Radius returns the configured search radius in meters.
func (m *Matcher) Radius() float64 { return m.radius }

// Nearby answers a one-shot radius query from the index snapshot.
func (m *Matcher) Nearby(center models.Coordinate) []models.DriverSighting {
	return m.index.Query(center, m.radius)
}

// Stream produces a lazy, unbounded sequence of sightings for drivers within
// the configured radius of center. A driver already surfaced is delivered
// again with its updated position rather than as a new entry; consumers key
// entries by driver uid. Cancelling ctx ends the stream, and a fresh call
// restarts it from the current store contents.
func (m *Matcher) Stream(ctx context.Context, center models.Coordinate) (<-chan models.DriverSighting, error) {
	added, err := m.adapter.Subscribe(ctx, realtime.PathDriverLocations, realtime.ChildAdded)
	if err != nil {
		return nil, err
	}
	changed, err := m.adapter.Subscribe(ctx, realtime.PathDriverLocations, realtime.ChildChanged)
	if err != nil {
		return nil, err
	}
	removed, err := m.adapter.Subscribe(ctx, realtime.PathDriverLocations, realtime.ChildRemoved)
	if err != nil {
		return nil, err
	}

	out := make(chan models.DriverSighting, 32)
	go func() {
		defer close(out)
		for {
			var ev realtime.Event
			var ok bool
			select {
			case <-ctx.Done():
				return
			case ev, ok = <-added:
			case ev, ok = <-changed:
			case ev, ok = <-removed:
			}
			if !ok {
				return
			}

			if ev.Kind == realtime.ChildRemoved {
				m.index.Remove(ev.Key)
				continue
			}

			sighting, err := models.SightingFromFields(ev.Key, ev.Fields)
			if err != nil {
				m.log.WithField("driver", ev.Key).Debug("ignoring malformed driver location")
				continue
			}
			m.index.Upsert(sighting.DriverUID, sighting.Location, sighting.UpdatedAt)

			if geo.Distance(center, sighting.Location) > m.radius {
				continue
			}
			select {
			case out <- sighting:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
