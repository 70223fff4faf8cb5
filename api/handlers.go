package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"trip-coordinator/feed"
	"trip-coordinator/geo"
	"trip-coordinator/matching"
	"trip-coordinator/models"
	"trip-coordinator/realtime"
	"trip-coordinator/trip"
	"trip-coordinator/users"
)

// Handler carries the wired core components; there are no package globals.
type Handler struct {
	Machine *trip.Machine
	Matcher *matching.Matcher
	Users   *users.Registry
	Ingest  *feed.Ingestor
	Log     *logrus.Entry
}

// RequestTrip handles a passenger's ride request.
func (h *Handler) RequestTrip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PassengerID    string  `json:"passenger_id"`
		PickupLat      float64 `json:"pickup_latitude"`
		PickupLon      float64 `json:"pickup_longitude"`
		DestinationLat float64 `json:"destination_latitude"`
		DestinationLon float64 `json:"destination_longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PassengerID == "" {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	pickup := models.Coordinate{Latitude: req.PickupLat, Longitude: req.PickupLon}
	dest := models.Coordinate{Latitude: req.DestinationLat, Longitude: req.DestinationLon}
	if err := h.Machine.RequestTrip(r.Context(), req.PassengerID, pickup, dest); err != nil {
		h.writeError(w, err)
		return
	}

	// Advisory candidate list so the requesting UI can show nearby drivers
	// right away; the live stream comes from the matcher subscription.
	candidates := h.Matcher.Nearby(pickup)
	response := map[string]interface{}{
		"message": "Trip requested",
		"trip_id": req.PassengerID,
		"drivers": candidates,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// AcceptTrip handles a driver accepting a requested trip.
func (h *Handler) AcceptTrip(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	if err := h.Machine.Accept(r.Context(), tripID, req.DriverID); err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Trip accepted"})
}

// PickupComplete handles the assigned driver starting the ride.
func (h *Handler) PickupComplete(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	if err := h.Machine.MarkPickupComplete(r.Context(), tripID, req.DriverID); err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Trip in progress"})
}

// DropOff handles the assigned driver completing the ride.
func (h *Handler) DropOff(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	if err := h.Machine.MarkDropOff(r.Context(), tripID, req.DriverID); err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Trip completed"})
}

// CancelTrip handles the passenger cancelling before pickup.
func (h *Handler) CancelTrip(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	callerID := r.URL.Query().Get("caller_id")
	if callerID == "" {
		http.Error(w, "Missing caller_id", http.StatusBadRequest)
		return
	}

	if err := h.Machine.Cancel(r.Context(), tripID, callerID); err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Trip cancelled"})
}

// GetTrip handles fetching the passenger's current trip.
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	t, err := h.Machine.Trip(r.Context(), tripID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t)
}

// UpdateDriverLocation handles a driver position broadcast over HTTP.
func (h *Handler) UpdateDriverLocation(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	var req struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	loc := models.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := h.Ingest.Publish(r.Context(), driverID, loc, time.Now()); err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Driver location updated"})
}

// NearbyDrivers handles a one-shot radius query around a coordinate.
func (h *Handler) NearbyDrivers(w http.ResponseWriter, r *http.Request) {
	lat, lon, ok := queryCoordinate(r)
	if !ok {
		http.Error(w, "Invalid latitude/longitude", http.StatusBadRequest)
		return
	}
	sightings := h.Matcher.Nearby(models.Coordinate{Latitude: lat, Longitude: lon})
	if sightings == nil {
		sightings = []models.DriverSighting{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sightings)
}

// Distance handles computing the great-circle distance between two points.
func (h *Handler) Distance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromLat float64 `json:"from_latitude"`
		FromLon float64 `json:"from_longitude"`
		ToLat   float64 `json:"to_latitude"`
		ToLon   float64 `json:"to_longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	meters := geo.Distance(
		models.Coordinate{Latitude: req.FromLat, Longitude: req.FromLon},
		models.Coordinate{Latitude: req.ToLat, Longitude: req.ToLon},
	)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]float64{"meters": meters})
}

// CreateUser handles registering a new passenger or driver account.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID         string `json:"uid"`
		FullName    string `json:"fullname"`
		Email       string `json:"email"`
		AccountType int    `json:"account_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UID == "" || req.FullName == "" {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	u := models.User{
		UID:         req.UID,
		FullName:    req.FullName,
		Email:       req.Email,
		AccountType: models.AccountType(req.AccountType),
	}
	if err := h.Users.Create(r.Context(), u); err != nil {
		if errors.Is(err, users.ErrExists) {
			http.Error(w, "User already exists", http.StatusConflict)
			return
		}
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(u)
}

// GetUser handles fetching a user profile by uid.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	u, err := h.Users.Get(r.Context(), uid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(u)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var syncErr *realtime.SyncError
	switch {
	case errors.Is(err, realtime.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, trip.ErrAlreadyAccepted):
		http.Error(w, "Trip no longer available", http.StatusConflict)
	case errors.Is(err, trip.ErrInvalidTransition):
		http.Error(w, "Invalid trip state for this action", http.StatusConflict)
	case errors.Is(err, trip.ErrPermissionDenied):
		http.Error(w, "Not allowed", http.StatusForbidden)
	case errors.As(err, &syncErr):
		h.Log.WithError(err).Error("store operation failed")
		http.Error(w, "Store unavailable", http.StatusBadGateway)
	default:
		h.Log.WithError(err).Error("request failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func queryCoordinate(r *http.Request) (lat, lon float64, ok bool) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("latitude"), 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(q.Get("longitude"), 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}
