package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-coordinator/feed"
	"trip-coordinator/geo"
	"trip-coordinator/geofence"
	"trip-coordinator/matching"
	"trip-coordinator/models"
	"trip-coordinator/notify"
	"trip-coordinator/realtime"
	"trip-coordinator/trip"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	adapter := realtime.NewMemoryAdapter()
	index := geo.NewIndex()
	monitor := geofence.NewMonitor()
	dispatcher := notify.NewDispatcher()
	log := logrus.NewEntry(logrus.New())

	machine := trip.NewMachine(adapter, monitor, dispatcher, 100, log)
	go machine.Run(ctx)

	h := &Handler{
		Machine: machine,
		Matcher: matching.NewMatcher(index, adapter, 100, log),
		Ingest:  feed.NewIngestor(adapter, index, monitor, log),
		Log:     log,
	}
	srv := httptest.NewServer(RegisterRoutes(h))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestTripLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, "POST", srv.URL+"/trips", map[string]interface{}{
		"passenger_id":          "passenger-1",
		"pickup_latitude":       40.0,
		"pickup_longitude":      -73.0,
		"destination_latitude":  40.1,
		"destination_longitude": -73.1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created struct {
		TripID  string                  `json:"trip_id"`
		Drivers []models.DriverSighting `json:"drivers"`
	}
	decodeBody(t, resp, &created)
	assert.Equal(t, "passenger-1", created.TripID)

	resp = doJSON(t, "POST", srv.URL+"/trips/passenger-1/accept", map[string]string{"driver_id": "driver-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A second accept is turned away.
	resp = doJSON(t, "POST", srv.URL+"/trips/passenger-1/accept", map[string]string{"driver_id": "driver-2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, "GET", srv.URL+"/trips/passenger-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Trip
	decodeBody(t, resp, &got)
	assert.Equal(t, models.StateAccepted, got.State)
	assert.Equal(t, "driver-1", got.DriverUID)

	// Pickup completion is rejected until the driver has arrived.
	resp = doJSON(t, "PUT", srv.URL+"/trips/passenger-1/pickup-complete", map[string]string{"driver_id": "driver-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRequestTripValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, "POST", srv.URL+"/trips", map[string]interface{}{"pickup_latitude": 40.0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, "POST", srv.URL+"/trips/passenger-1/accept", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetMissingTrip(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, "GET", srv.URL+"/trips/nobody", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelTripOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, "POST", srv.URL+"/trips", map[string]interface{}{
		"passenger_id":          "passenger-1",
		"pickup_latitude":       40.0,
		"pickup_longitude":      -73.0,
		"destination_latitude":  40.1,
		"destination_longitude": -73.1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, "DELETE", srv.URL+"/trips/passenger-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "caller_id is required")

	resp = doJSON(t, "DELETE", srv.URL+"/trips/passenger-1?caller_id=driver-1", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, "DELETE", srv.URL+"/trips/passenger-1?caller_id=passenger-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, "GET", srv.URL+"/trips/passenger-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDriverLocationAndNearby(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, "PUT", srv.URL+"/drivers/driver-1/location", map[string]float64{
		"latitude":  40.0005,
		"longitude": -73.0003,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, "PUT", srv.URL+"/drivers/driver-2/location", map[string]float64{
		"latitude":  40.1,
		"longitude": -73.1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, "GET", srv.URL+"/drivers/nearby?latitude=40.0&longitude=-73.0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sightings []models.DriverSighting
	decodeBody(t, resp, &sightings)
	require.Len(t, sightings, 1)
	assert.Equal(t, "driver-1", sightings[0].DriverUID)

	resp = doJSON(t, "GET", srv.URL+"/drivers/nearby?latitude=oops&longitude=-73.0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNearbyEmptyIsJSONArray(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, "GET", srv.URL+"/drivers/nearby?latitude=40.0&longitude=-73.0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sightings []models.DriverSighting
	decodeBody(t, resp, &sightings)
	assert.NotNil(t, sightings)
	assert.Empty(t, sightings)
}

func TestDistanceEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, "POST", srv.URL+"/distance", map[string]float64{
		"from_latitude":  40.0,
		"from_longitude": -73.0,
		"to_latitude":    40.0005,
		"to_longitude":   -73.0003,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]float64
	decodeBody(t, resp, &out)
	assert.InDelta(t, 61.3, out["meters"], 1.0, fmt.Sprintf("got %v", out))
}
