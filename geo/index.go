package geo

import (
	"math"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"

	"trip-coordinator/models"
)

// pointTolerance is the side length of the degenerate rectangle a sighting
// occupies in the R-tree.
const pointTolerance = 0.0001

// Index holds one sighting per broadcasting driver and answers radius
// queries against an R-tree. Writers and readers may proceed concurrently;
// every query observes a consistent snapshot.
type Index struct {
	mu        sync.RWMutex
	tree      *rtreego.Rtree
	sightings map[string]*indexEntry
}

type indexEntry struct {
	sighting models.DriverSighting
	geohash  string
	rect     rtreego.Rect
}

// Bounds satisfies rtreego.Spatial.
func (e *indexEntry) Bounds() rtreego.Rect { return e.rect }

// NewIndex returns an empty driver index.
func NewIndex() *Index {
	return &Index{
		tree:      rtreego.NewTree(2, 25, 50),
		sightings: make(map[string]*indexEntry),
	}
}

// Upsert records a driver's position, overwriting any prior sighting for the
// same driver uid. Last writer by arrival order wins; the timestamp is kept
// for staleness eviction, not for ordering.
func (ix *Index) Upsert(driverUID string, loc models.Coordinate, at time.Time) {
	point := rtreego.Point{loc.Latitude, loc.Longitude}
	entry := &indexEntry{
		sighting: models.DriverSighting{DriverUID: driverUID, Location: loc, UpdatedAt: at},
		geohash:  Encode(loc),
		rect:     point.ToRect(pointTolerance),
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if prev, ok := ix.sightings[driverUID]; ok {
		ix.tree.Delete(prev)
	}
	ix.sightings[driverUID] = entry
	ix.tree.Insert(entry)
}

// Remove drops a driver's sighting. Removing an unknown driver is a no-op.
func (ix *Index) Remove(driverUID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if entry, ok := ix.sightings[driverUID]; ok {
		ix.tree.Delete(entry)
		delete(ix.sightings, driverUID)
	}
}

// Get returns the current sighting for a driver, if any.
func (ix *Index) Get(driverUID string) (models.DriverSighting, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	entry, ok := ix.sightings[driverUID]
	if !ok {
		return models.DriverSighting{}, false
	}
	return entry.sighting, true
}

// Geohash returns the cell tag computed for a driver's current sighting.
func (ix *Index) Geohash(driverUID string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	entry, ok := ix.sightings[driverUID]
	if !ok {
		return "", false
	}
	return entry.geohash, true
}

// Query returns all sightings within radiusMeters of center, unordered. The
// R-tree narrows candidates to a bounding box; the great-circle distance
// filter decides membership.
func (ix *Index) Query(center models.Coordinate, radiusMeters float64) []models.DriverSighting {
	bbox := boundingRect(center, radiusMeters)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []models.DriverSighting
	for _, spatial := range ix.tree.SearchIntersect(bbox) {
		entry := spatial.(*indexEntry)
		if Distance(center, entry.sighting.Location) <= radiusMeters {
			out = append(out, entry.sighting)
		}
	}
	return out
}

// EvictStale removes sightings not updated within maxAge of now and returns
// how many were dropped. The upstream feed has no removal event for drivers
// that stop broadcasting, so this is the only way stale entries leave the
// index.
func (ix *Index) EvictStale(maxAge time.Duration, now time.Time) int {
	cutoff := now.Add(-maxAge)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	evicted := 0
	for uid, entry := range ix.sightings {
		if entry.sighting.UpdatedAt.Before(cutoff) {
			ix.tree.Delete(entry)
			delete(ix.sightings, uid)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked drivers.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.sightings)
}

func boundingRect(center models.Coordinate, radiusMeters float64) rtreego.Rect {
	latDelta := radiusMeters / metersPerDegreeLat
	lngDelta := latDelta
	if cosLat := math.Cos(center.Latitude * math.Pi / 180); cosLat > 1e-6 {
		lngDelta = radiusMeters / (metersPerDegreeLat * cosLat)
	}
	origin := rtreego.Point{center.Latitude - latDelta, center.Longitude - lngDelta}
	rect, err := rtreego.NewRect(origin, []float64{2 * latDelta, 2 * lngDelta})
	if err != nil {
		// Only reachable with a non-positive radius; fall back to a point box.
		return rtreego.Point{center.Latitude, center.Longitude}.ToRect(pointTolerance)
	}
	return rect
}
