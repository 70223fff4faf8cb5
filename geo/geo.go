// Package geo maintains driver position records and answers radius queries.
package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"

	"trip-coordinator/models"
)

const (
	earthRadiusMeters = 6371000.0

	// metersPerDegreeLat is the approximate north-south span of one degree
	// of latitude, used to size bounding boxes for index searches.
	metersPerDegreeLat = 111320.0

	// geohashPrecision 9 gives ~5m cells, matching the precision the store
	// keeps under driver-locations.
	geohashPrecision = 9
)

// Distance returns the great-circle distance between two coordinates in
// meters (haversine).
func Distance(a, b models.Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// Encode returns the geohash cell for a coordinate.
func Encode(c models.Coordinate) string {
	return geohash.EncodeWithPrecision(c.Latitude, c.Longitude, geohashPrecision)
}

// Neighbors returns the geohashes of the cells adjacent to hash.
func Neighbors(hash string) []string {
	return geohash.Neighbors(hash)
}
