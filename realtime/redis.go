package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

const (
	recordKeyPrefix = "rt:"
	eventChannel    = "rtevents:"
)

// RedisAdapter stores each record as a Redis hash (field values JSON-encoded)
// and fans mutations out over a Pub/Sub channel per collection. Writers are
// expected to be the sole mutators of the keys they own, matching the
// single-writer ownership the trip state machine enforces.
type RedisAdapter struct {
	client *redis.Client
}

// NewRedisAdapter wraps an already-connected client.
func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

type wireEvent struct {
	Kind   string                 `json:"kind"`
	Key    string                 `json:"key"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

func recordKey(coll, key string) string {
	return recordKeyPrefix + coll + ":" + key
}

// Update merges fields into the record at path and publishes a child-added or
// child-changed event carrying the full merged record.
func (r *RedisAdapter) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	coll, key, err := splitPath(path)
	if err != nil {
		return &SyncError{Op: "update", Path: path, Err: err}
	}

	rkey := recordKey(coll, key)
	existed, err := r.client.Exists(ctx, rkey).Result()
	if err != nil {
		return &SyncError{Op: "update", Path: path, Err: err}
	}

	encoded := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return &SyncError{Op: "update", Path: path, Err: err}
		}
		encoded[k] = string(data)
	}
	if err := r.client.HSet(ctx, rkey, encoded).Err(); err != nil {
		return &SyncError{Op: "update", Path: path, Err: err}
	}

	merged, err := r.readRecord(ctx, rkey)
	if err != nil {
		return &SyncError{Op: "update", Path: path, Err: err}
	}
	kind := ChildChanged
	if existed == 0 {
		kind = ChildAdded
	}
	return r.publish(ctx, coll, wireEvent{Kind: kind.String(), Key: key, Fields: merged})
}

// Delete removes the record at path. Deleting an absent record is a no-op.
func (r *RedisAdapter) Delete(ctx context.Context, path string) error {
	coll, key, err := splitPath(path)
	if err != nil {
		return &SyncError{Op: "delete", Path: path, Err: err}
	}
	removed, err := r.client.Del(ctx, recordKey(coll, key)).Result()
	if err != nil {
		return &SyncError{Op: "delete", Path: path, Err: err}
	}
	if removed == 0 {
		return nil
	}
	return r.publish(ctx, coll, wireEvent{Kind: ChildRemoved.String(), Key: key})
}

// Get returns the decoded record at path.
func (r *RedisAdapter) Get(ctx context.Context, path string) (map[string]interface{}, error) {
	coll, key, err := splitPath(path)
	if err != nil {
		return nil, &SyncError{Op: "get", Path: path, Err: err}
	}
	fields, err := r.readRecord(ctx, recordKey(coll, key))
	if err != nil {
		return nil, &SyncError{Op: "get", Path: path, Err: err}
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return fields, nil
}

// Subscribe attaches to the collection's Pub/Sub channel. Child-added
// subscriptions also replay the existing records; a record written during the
// replay window can be delivered twice, which consumers absorb because child
// handling is an idempotent upsert.
func (r *RedisAdapter) Subscribe(ctx context.Context, path string, kind EventKind) (<-chan Event, error) {
	coll := path
	key := ""
	if kind == ValueChanged {
		var err error
		coll, key, err = splitPath(path)
		if err != nil {
			return nil, &SyncError{Op: "subscribe", Path: path, Err: err}
		}
	}

	pubsub := r.client.Subscribe(ctx, eventChannel+coll)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, &SyncError{Op: "subscribe", Path: path, Err: err}
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		switch kind {
		case ChildAdded:
			r.replayChildren(ctx, coll, out)
		case ValueChanged:
			if fields, err := r.readRecord(ctx, recordKey(coll, key)); err == nil && len(fields) > 0 {
				if !send(ctx, out, Event{Kind: ValueChanged, Key: key, Fields: fields}) {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var we wireEvent
				if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
					continue
				}
				ev, ok := filterEvent(we, kind, key)
				if !ok {
					continue
				}
				if !send(ctx, out, ev) {
					return
				}
			}
		}
	}()
	return out, nil
}

func filterEvent(we wireEvent, kind EventKind, key string) (Event, bool) {
	wireKind, ok := parseKind(we.Kind)
	if !ok {
		return Event{}, false
	}
	if kind == ValueChanged {
		if we.Key != key {
			return Event{}, false
		}
		return Event{Kind: ValueChanged, Key: we.Key, Fields: we.Fields}, true
	}
	if wireKind != kind {
		return Event{}, false
	}
	return Event{Kind: wireKind, Key: we.Key, Fields: we.Fields}, true
}

func (r *RedisAdapter) replayChildren(ctx context.Context, coll string, out chan<- Event) {
	prefix := recordKeyPrefix + coll + ":"
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		rkey := iter.Val()
		fields, err := r.readRecord(ctx, rkey)
		if err != nil || len(fields) == 0 {
			continue
		}
		ev := Event{
			Kind:   ChildAdded,
			Key:    strings.TrimPrefix(rkey, prefix),
			Fields: fields,
		}
		if !send(ctx, out, ev) {
			return
		}
	}
}

func (r *RedisAdapter) readRecord(ctx context.Context, rkey string) (map[string]interface{}, error) {
	raw, err := r.client.HGetAll(ctx, rkey).Result()
	if err != nil {
		return nil, err
	}
	fields := make(map[string]interface{}, len(raw))
	for k, data := range raw {
		var v interface{}
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", k, err)
		}
		fields[k] = v
	}
	return fields, nil
}

func (r *RedisAdapter) publish(ctx context.Context, coll string, we wireEvent) error {
	payload, err := json.Marshal(we)
	if err != nil {
		return &SyncError{Op: "publish", Path: coll, Err: err}
	}
	if err := r.client.Publish(ctx, eventChannel+coll, payload).Err(); err != nil {
		return &SyncError{Op: "publish", Path: coll, Err: err}
	}
	return nil
}

func parseKind(s string) (EventKind, bool) {
	switch s {
	case "value_changed":
		return ValueChanged, true
	case "child_added":
		return ChildAdded, true
	case "child_changed":
		return ChildChanged, true
	case "child_removed":
		return ChildRemoved, true
	}
	return 0, false
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
