package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-coordinator/config"
	"trip-coordinator/geo"
	"trip-coordinator/geofence"
	"trip-coordinator/models"
	"trip-coordinator/realtime"
)

func TestPublishFansOut(t *testing.T) {
	ctx := context.Background()
	adapter := realtime.NewMemoryAdapter()
	index := geo.NewIndex()
	monitor := geofence.NewMonitor()
	in := NewIngestor(adapter, index, monitor, nil)

	center := models.Coordinate{Latitude: 40.0, Longitude: -73.0}
	monitor.Register("trip-1", "driver-1", geofence.Pickup, center, 100)

	loc := models.Coordinate{Latitude: 40.0001, Longitude: -73.0001}
	at := time.Now()
	require.NoError(t, in.Publish(ctx, "driver-1", loc, at))

	// Index.
	got, ok := index.Get("driver-1")
	require.True(t, ok)
	assert.Equal(t, loc, got.Location)

	// Monitor: the position crosses the armed region.
	select {
	case ev := <-monitor.Events():
		assert.Equal(t, "trip-1", ev.TripID)
		assert.Equal(t, "driver-1", ev.DriverUID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a geofence crossing from Publish")
	}

	// Store, with the geohash tag attached.
	fields, err := adapter.Get(ctx, realtime.Join(realtime.PathDriverLocations, "driver-1"))
	require.NoError(t, err)
	assert.Equal(t, geo.Encode(loc), fields[models.FieldGeohash])
	decoded, err := models.SightingFromFields("driver-1", fields)
	require.NoError(t, err)
	assert.Equal(t, loc, decoded.Location)
	assert.Equal(t, at.Unix(), decoded.UpdatedAt.Unix())
}

func TestPublishZeroTimestampDefaultsToNow(t *testing.T) {
	adapter := realtime.NewMemoryAdapter()
	in := NewIngestor(adapter, geo.NewIndex(), geofence.NewMonitor(), nil)

	before := time.Now()
	require.NoError(t, in.Publish(context.Background(), "driver-1",
		models.Coordinate{Latitude: 40.0, Longitude: -73.0}, time.Time{}))

	fields, err := adapter.Get(context.Background(), realtime.Join(realtime.PathDriverLocations, "driver-1"))
	require.NoError(t, err)
	decoded, err := models.SightingFromFields("driver-1", fields)
	require.NoError(t, err)
	assert.False(t, decoded.UpdatedAt.Before(before.Truncate(time.Second)))
}

func TestRemoveDropsEverywhere(t *testing.T) {
	ctx := context.Background()
	adapter := realtime.NewMemoryAdapter()
	index := geo.NewIndex()
	in := NewIngestor(adapter, index, geofence.NewMonitor(), nil)

	require.NoError(t, in.Publish(ctx, "driver-1", models.Coordinate{Latitude: 40.0, Longitude: -73.0}, time.Now()))
	require.NoError(t, in.Remove(ctx, "driver-1"))

	_, ok := index.Get("driver-1")
	assert.False(t, ok)
	_, err := adapter.Get(ctx, realtime.Join(realtime.PathDriverLocations, "driver-1"))
	assert.ErrorIs(t, err, realtime.ErrNotFound)
}

func TestDriverFromTopic(t *testing.T) {
	cases := []struct {
		topic string
		uid   string
		ok    bool
	}{
		{"drivers/abc123/location", "abc123", true},
		{"drivers/abc123/status", "", false},
		{"drivers//location", "", false},
		{"riders/abc123/location", "", false},
		{"drivers/abc123", "", false},
		{"drivers/abc123/location/extra", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		uid, ok := driverFromTopic(tc.topic)
		assert.Equal(t, tc.ok, ok, "topic %q", tc.topic)
		assert.Equal(t, tc.uid, uid, "topic %q", tc.topic)
	}
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()
	adapter := realtime.NewMemoryAdapter()
	index := geo.NewIndex()
	in := NewIngestor(adapter, index, geofence.NewMonitor(), nil)
	f := NewMQTTFeed(config.MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "test", Topic: "drivers/+/location"}, in, nil)

	body, err := json.Marshal(locationPayload{Latitude: 40.0, Longitude: -73.0, Timestamp: 1700000000})
	require.NoError(t, err)
	f.handleMessage(ctx, "drivers/driver-1/location", body)

	got, ok := index.Get("driver-1")
	require.True(t, ok)
	assert.Equal(t, models.Coordinate{Latitude: 40.0, Longitude: -73.0}, got.Location)
	assert.Equal(t, int64(1700000000), got.UpdatedAt.Unix())

	// Garbage payloads and foreign topics are dropped without touching state.
	f.handleMessage(ctx, "drivers/driver-2/location", []byte("{not json"))
	f.handleMessage(ctx, "other/driver-3/location", body)
	_, ok = index.Get("driver-2")
	assert.False(t, ok)
	_, ok = index.Get("driver-3")
	assert.False(t, ok)
}
