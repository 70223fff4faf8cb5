// Package feed ingests driver location updates and fans them into the three
// places a position matters: the realtime store, the geospatial index, and
// the geofence monitor.
package feed

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"trip-coordinator/geo"
	"trip-coordinator/geofence"
	"trip-coordinator/models"
	"trip-coordinator/realtime"
)

// Ingestor is the single entry point for driver position updates, whether
// they arrive over HTTP or the MQTT broker.
type Ingestor struct {
	adapter realtime.Adapter
	index   *geo.Index
	monitor *geofence.Monitor
	log     *logrus.Entry
}

func NewIngestor(adapter realtime.Adapter, index *geo.Index, monitor *geofence.Monitor, log *logrus.Entry) *Ingestor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ingestor{adapter: adapter, index: index, monitor: monitor, log: log}
}

// Publish records one driver position. The index and monitor are updated
// first so geofence transitions never wait on the store write; the store
// write error is still surfaced to the caller.
func (in *Ingestor) Publish(ctx context.Context, driverUID string, loc models.Coordinate, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	in.index.Upsert(driverUID, loc, at)
	in.monitor.ObserveLocation(driverUID, loc, at)

	sighting := models.DriverSighting{DriverUID: driverUID, Location: loc, UpdatedAt: at}
	fields := models.SightingFields(sighting, geo.Encode(loc))
	if err := in.adapter.Update(ctx, realtime.Join(realtime.PathDriverLocations, driverUID), fields); err != nil {
		in.log.WithField("driver", driverUID).WithError(err).Warn("driver location sync failed")
		return err
	}
	return nil
}

// Remove drops a driver that stopped broadcasting.
func (in *Ingestor) Remove(ctx context.Context, driverUID string) error {
	in.index.Remove(driverUID)
	return in.adapter.Delete(ctx, realtime.Join(realtime.PathDriverLocations, driverUID))
}
