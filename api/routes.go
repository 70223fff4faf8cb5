package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// RegisterRoutes builds the HTTP surface over the wired handler.
func RegisterRoutes(h *Handler) http.Handler {
	router := mux.NewRouter()

	// User endpoints
	router.HandleFunc("/users", h.CreateUser).Methods("POST")
	router.HandleFunc("/users/{uid}", h.GetUser).Methods("GET")

	// Driver endpoints
	router.HandleFunc("/drivers/{driver_id}/location", h.UpdateDriverLocation).Methods("PUT")
	router.HandleFunc("/drivers/nearby", h.NearbyDrivers).Methods("GET")

	// Trip endpoints
	router.HandleFunc("/trips", h.RequestTrip).Methods("POST")
	router.HandleFunc("/trips/{trip_id}", h.GetTrip).Methods("GET")
	router.HandleFunc("/trips/{trip_id}", h.CancelTrip).Methods("DELETE")
	router.HandleFunc("/trips/{trip_id}/accept", h.AcceptTrip).Methods("POST")
	router.HandleFunc("/trips/{trip_id}/pickup-complete", h.PickupComplete).Methods("PUT")
	router.HandleFunc("/trips/{trip_id}/dropoff", h.DropOff).Methods("PUT")

	// Distance endpoint
	router.HandleFunc("/distance", h.Distance).Methods("POST")

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return cors(router)
}
