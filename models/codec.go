package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Field names under the realtime store's trips/{passengerId} keys. Coordinates
// are stored as two-element [lat, lng] arrays.
const (
	FieldPickupCoordinates      = "pickupCoordinates"
	FieldDestinationCoordinates = "destinationCoordinates"
	FieldState                  = "state"
	FieldDriverUID              = "driverUid"
)

// Field names under driver-locations/{driverId}.
const (
	FieldLatitude  = "latitude"
	FieldLongitude = "longitude"
	FieldGeohash   = "geohash"
	FieldUpdatedAt = "updatedAt"
)

// Field names under users/{uid}.
const (
	FieldFullName    = "fullname"
	FieldEmail       = "email"
	FieldAccountType = "accountType"
)

// ErrMalformedRecord marks a store payload that cannot be decoded into a
// domain value. Callers treat it the same as a missing record.
var ErrMalformedRecord = errors.New("malformed store record")

// StoreFields encodes the trip into the store's field mapping. DriverUID is
// omitted while unassigned, so a decoded Requested trip has no driverUid key.
func (t *Trip) StoreFields() map[string]interface{} {
	fields := map[string]interface{}{
		FieldPickupCoordinates:      []float64{t.Pickup.Latitude, t.Pickup.Longitude},
		FieldDestinationCoordinates: []float64{t.Destination.Latitude, t.Destination.Longitude},
		FieldState:                  int(t.State),
	}
	if t.DriverUID != "" {
		fields[FieldDriverUID] = t.DriverUID
	}
	return fields
}

// TripFromFields rebuilds a trip from its store fields. Payloads missing the
// coordinate pairs or carrying an unknown state integer yield
// ErrMalformedRecord.
func TripFromFields(passengerUID string, fields map[string]interface{}) (Trip, error) {
	pickup, ok := coordinateValue(fields[FieldPickupCoordinates])
	if !ok {
		return Trip{}, ErrMalformedRecord
	}
	dest, ok := coordinateValue(fields[FieldDestinationCoordinates])
	if !ok {
		return Trip{}, ErrMalformedRecord
	}
	raw, ok := intValue(fields[FieldState])
	if !ok {
		return Trip{}, ErrMalformedRecord
	}
	state, ok := ParseTripState(raw)
	if !ok {
		return Trip{}, ErrMalformedRecord
	}
	trip := Trip{
		PassengerUID: passengerUID,
		Pickup:       pickup,
		Destination:  dest,
		State:        state,
	}
	if uid, ok := fields[FieldDriverUID].(string); ok {
		trip.DriverUID = uid
	}
	return trip, nil
}

// SightingFields encodes a driver sighting for driver-locations/{driverId},
// including its geohash tag.
func SightingFields(s DriverSighting, geohash string) map[string]interface{} {
	return map[string]interface{}{
		FieldLatitude:  s.Location.Latitude,
		FieldLongitude: s.Location.Longitude,
		FieldGeohash:   geohash,
		FieldUpdatedAt: s.UpdatedAt.Unix(),
	}
}

// SightingFromFields rebuilds a sighting from its store fields.
func SightingFromFields(driverUID string, fields map[string]interface{}) (DriverSighting, error) {
	lat, ok := floatValue(fields[FieldLatitude])
	if !ok {
		return DriverSighting{}, ErrMalformedRecord
	}
	lng, ok := floatValue(fields[FieldLongitude])
	if !ok {
		return DriverSighting{}, ErrMalformedRecord
	}
	s := DriverSighting{
		DriverUID: driverUID,
		Location:  Coordinate{Latitude: lat, Longitude: lng},
	}
	if ts, ok := intValue(fields[FieldUpdatedAt]); ok {
		s.UpdatedAt = time.Unix(int64(ts), 0)
	}
	return s, nil
}

// UserFields encodes a user profile for users/{uid}.
func UserFields(u User) map[string]interface{} {
	return map[string]interface{}{
		FieldFullName:    u.FullName,
		FieldEmail:       u.Email,
		FieldAccountType: int(u.AccountType),
	}
}

// UserFromFields rebuilds a user from its store fields.
func UserFromFields(uid string, fields map[string]interface{}) (User, error) {
	fullname, ok := fields[FieldFullName].(string)
	if !ok {
		return User{}, ErrMalformedRecord
	}
	email, _ := fields[FieldEmail].(string)
	account, _ := intValue(fields[FieldAccountType])
	return User{
		UID:         uid,
		FullName:    fullname,
		Email:       email,
		AccountType: AccountType(account),
	}, nil
}

// Store values round-trip through JSON in some adapter backends, so numbers
// may arrive as float64 or json.Number and arrays as []interface{}.

func coordinateValue(v interface{}) (Coordinate, bool) {
	switch pair := v.(type) {
	case []float64:
		if len(pair) != 2 {
			return Coordinate{}, false
		}
		return Coordinate{Latitude: pair[0], Longitude: pair[1]}, true
	case []interface{}:
		if len(pair) != 2 {
			return Coordinate{}, false
		}
		lat, ok1 := floatValue(pair[0])
		lng, ok2 := floatValue(pair[1])
		if !ok1 || !ok2 {
			return Coordinate{}, false
		}
		return Coordinate{Latitude: lat, Longitude: lng}, true
	}
	return Coordinate{}, false
}

func floatValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func intValue(v interface{}) (int, bool) {
	f, ok := floatValue(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}
