// Package realtime defines the push-based key-value store contract the
// coordination core depends on, plus the Redis-backed and in-memory
// implementations of it.
//
// Keys are two-segment paths, "collection/key" (for example "trips/uid123").
// Child subscriptions attach to the collection segment; value subscriptions
// attach to a full path.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Top-level store paths.
const (
	PathTrips           = "trips"
	PathDriverLocations = "driver-locations"
	PathUsers           = "users"
)

// EventKind selects which store mutations a subscription observes.
type EventKind int

const (
	ValueChanged EventKind = iota
	ChildAdded
	ChildChanged
	ChildRemoved
)

func (k EventKind) String() string {
	switch k {
	case ValueChanged:
		return "value_changed"
	case ChildAdded:
		return "child_added"
	case ChildChanged:
		return "child_changed"
	case ChildRemoved:
		return "child_removed"
	}
	return "unknown"
}

// Event is one store mutation delivered to a subscriber. Key is the child key
// within the subscribed collection. Fields is nil for ChildRemoved and for a
// ValueChanged delivery of a deleted record.
type Event struct {
	Kind   EventKind
	Key    string
	Fields map[string]interface{}
}

// Adapter is the publish/subscribe store contract. All calls are safe for
// concurrent use. Subscriptions end when their context is cancelled; the
// returned channel is closed at that point.
//
// Subscribe with a child kind takes a collection path; child-added
// subscriptions replay the collection's existing children first, then deliver
// live additions. Subscribe with ValueChanged takes a full record path and
// delivers the current value (if any) followed by every subsequent write or
// delete of that record.
type Adapter interface {
	Subscribe(ctx context.Context, path string, kind EventKind) (<-chan Event, error)
	Update(ctx context.Context, path string, fields map[string]interface{}) error
	Delete(ctx context.Context, path string) error
	Get(ctx context.Context, path string) (map[string]interface{}, error)
}

// ErrNotFound reports a record absent from the store.
var ErrNotFound = errors.New("realtime: record not found")

// SyncError wraps a failed store operation with its path and underlying cause.
type SyncError struct {
	Op   string
	Path string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("realtime: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Join builds a record path from a collection and key.
func Join(collection, key string) string {
	return collection + "/" + key
}

// splitPath returns the collection and key segments of a record path.
func splitPath(path string) (collection, key string, err error) {
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("realtime: path %q is not collection/key", path)
	}
	return parts[0], parts[1], nil
}
