package geo

import (
	"fmt"
	"math"
	"testing"
	"time"

	"trip-coordinator/models"
)

func TestDistanceKnownPairs(t *testing.T) {
	cases := []struct {
		name       string
		a, b       models.Coordinate
		wantMeters float64
		tolerance  float64
	}{
		{
			name:       "same point",
			a:          models.Coordinate{Latitude: 40.0, Longitude: -73.0},
			b:          models.Coordinate{Latitude: 40.0, Longitude: -73.0},
			wantMeters: 0,
			tolerance:  0.001,
		},
		{
			name:       "one degree of latitude",
			a:          models.Coordinate{Latitude: 40.0, Longitude: -73.0},
			b:          models.Coordinate{Latitude: 41.0, Longitude: -73.0},
			wantMeters: 111195, // earth circumference / 360
			tolerance:  200,
		},
		{
			name:       "short hop",
			a:          models.Coordinate{Latitude: 40.0, Longitude: -73.0},
			b:          models.Coordinate{Latitude: 40.0005, Longitude: -73.0003},
			wantMeters: 61.3,
			tolerance:  1.0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Distance(tc.a, tc.b)
			if math.Abs(got-tc.wantMeters) > tc.tolerance {
				t.Fatalf("Distance = %.2f m, want %.2f ± %.2f", got, tc.wantMeters, tc.tolerance)
			}
		})
	}
}

func TestIndexQueryRadius(t *testing.T) {
	ix := NewIndex()
	now := time.Now()
	center := models.Coordinate{Latitude: 40.0, Longitude: -73.0}

	ix.Upsert("near", models.Coordinate{Latitude: 40.0003, Longitude: -73.0002}, now)
	ix.Upsert("edge", models.Coordinate{Latitude: 40.0005, Longitude: -73.0003}, now) // ~61m out
	ix.Upsert("far", models.Coordinate{Latitude: 40.1, Longitude: -73.1}, now)

	got := ix.Query(center, 50)
	if len(got) != 1 || got[0].DriverUID != "near" {
		t.Fatalf("Query(50m) = %v, want only 'near'", got)
	}

	got = ix.Query(center, 100)
	if len(got) != 2 {
		t.Fatalf("Query(100m) returned %d sightings, want 2", len(got))
	}
}

func TestIndexUpsertOverwrites(t *testing.T) {
	ix := NewIndex()
	center := models.Coordinate{Latitude: 40.0, Longitude: -73.0}

	ix.Upsert("d1", models.Coordinate{Latitude: 40.1, Longitude: -73.1}, time.Now())
	if got := ix.Query(center, 100); len(got) != 0 {
		t.Fatalf("driver should start outside the radius, got %v", got)
	}

	// Last writer by arrival order wins, regardless of timestamp value.
	ix.Upsert("d1", models.Coordinate{Latitude: 40.0001, Longitude: -73.0001}, time.Now().Add(-time.Hour))
	got := ix.Query(center, 100)
	if len(got) != 1 || got[0].DriverUID != "d1" {
		t.Fatalf("Query after move = %v, want d1", got)
	}
	if ix.Len() != 1 {
		t.Fatalf("Len = %d, want 1 sighting per driver", ix.Len())
	}
}

func TestIndexRemove(t *testing.T) {
	ix := NewIndex()
	ix.Upsert("d1", models.Coordinate{Latitude: 40.0, Longitude: -73.0}, time.Now())
	ix.Remove("d1")
	ix.Remove("unknown") // no-op

	if _, ok := ix.Get("d1"); ok {
		t.Fatal("d1 should be gone after Remove")
	}
	if got := ix.Query(models.Coordinate{Latitude: 40.0, Longitude: -73.0}, 100); len(got) != 0 {
		t.Fatalf("Query after Remove = %v, want empty", got)
	}
}

func TestIndexEvictStale(t *testing.T) {
	ix := NewIndex()
	now := time.Now()
	ix.Upsert("fresh", models.Coordinate{Latitude: 40.0, Longitude: -73.0}, now.Add(-30*time.Second))
	ix.Upsert("stale", models.Coordinate{Latitude: 40.0001, Longitude: -73.0}, now.Add(-5*time.Minute))

	evicted := ix.EvictStale(90*time.Second, now)
	if evicted != 1 {
		t.Fatalf("EvictStale evicted %d, want 1", evicted)
	}
	if _, ok := ix.Get("stale"); ok {
		t.Fatal("stale sighting should be evicted")
	}
	if _, ok := ix.Get("fresh"); !ok {
		t.Fatal("fresh sighting should survive")
	}
}

func TestIndexConcurrentReadersAndWriters(t *testing.T) {
	ix := NewIndex()
	center := models.Coordinate{Latitude: 40.0, Longitude: -73.0}
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			uid := fmt.Sprintf("d%d", i%10)
			ix.Upsert(uid, models.Coordinate{Latitude: 40.0, Longitude: -73.0}, time.Now())
		}
	}()
	for i := 0; i < 200; i++ {
		for _, s := range ix.Query(center, 100) {
			if s.DriverUID == "" {
				t.Fatal("query observed a partial record")
			}
		}
	}
	<-done
}

func TestEncodePrefixStability(t *testing.T) {
	// Nearby points share a geohash prefix; distant ones do not share 5.
	a := Encode(models.Coordinate{Latitude: 40.0, Longitude: -73.0})
	b := Encode(models.Coordinate{Latitude: 40.0001, Longitude: -73.0001})
	c := Encode(models.Coordinate{Latitude: 50.0, Longitude: 20.0})
	if a[:5] != b[:5] {
		t.Fatalf("nearby points diverge too early: %s vs %s", a, b)
	}
	if a[:2] == c[:2] {
		t.Fatalf("distant points share prefix: %s vs %s", a, c)
	}
}
