package realtime

import (
	"context"
	"sort"
	"sync"
)

// MemoryAdapter is an in-process Adapter. It backs tests and single-process
// deployments where the Redis store is not wired in. Every subscriber sees the
// mutations it matches in commit order.
type MemoryAdapter struct {
	mu   sync.Mutex
	data map[string]map[string]map[string]interface{} // collection -> key -> fields
	subs map[int]*memorySub
	next int
}

// NewMemoryAdapter returns an empty in-memory store.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		data: make(map[string]map[string]map[string]interface{}),
		subs: make(map[int]*memorySub),
	}
}

type memorySub struct {
	path string
	kind EventKind
	ch   chan Event
	done chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Event
	closed  bool
}

func newMemorySub(path string, kind EventKind) *memorySub {
	s := &memorySub{
		path: path,
		kind: kind,
		ch:   make(chan Event),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// push queues an event for delivery. Called with the adapter lock held, which
// is what preserves commit order across subscribers.
func (s *memorySub) push(ev Event) {
	s.mu.Lock()
	if !s.closed {
		s.pending = append(s.pending, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *memorySub) stop() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *memorySub) loop() {
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			close(s.ch)
			return
		}
		ev := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.ch <- ev:
		case <-s.done:
			close(s.ch)
			return
		}
	}
}

// Subscribe registers for store events. Child-added subscriptions replay the
// collection's existing children (in key order) before live events; value
// subscriptions replay the record's current value if present.
func (m *MemoryAdapter) Subscribe(ctx context.Context, path string, kind EventKind) (<-chan Event, error) {
	sub := newMemorySub(path, kind)

	m.mu.Lock()
	switch kind {
	case ChildAdded:
		if coll, ok := m.data[path]; ok {
			keys := make([]string, 0, len(coll))
			for k := range coll {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				sub.push(Event{Kind: ChildAdded, Key: k, Fields: copyFields(coll[k])})
			}
		}
	case ValueChanged:
		if coll, key, err := splitPath(path); err == nil {
			if fields, ok := m.data[coll][key]; ok {
				sub.push(Event{Kind: ValueChanged, Key: key, Fields: copyFields(fields)})
			}
		}
	}
	id := m.next
	m.next++
	m.subs[id] = sub
	m.mu.Unlock()

	go sub.loop()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		sub.stop()
	}()
	return sub.ch, nil
}

// Update merges fields into the record at path, creating it if absent.
func (m *MemoryAdapter) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	coll, key, err := splitPath(path)
	if err != nil {
		return &SyncError{Op: "update", Path: path, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.data[coll]
	if !ok {
		records = make(map[string]map[string]interface{})
		m.data[coll] = records
	}
	record, existed := records[key]
	if !existed {
		record = make(map[string]interface{})
		records[key] = record
	}
	for k, v := range fields {
		record[k] = v
	}

	childKind := ChildChanged
	if !existed {
		childKind = ChildAdded
	}
	m.publish(coll, key, childKind, copyFields(record))
	return nil
}

// Delete removes the record at path. Deleting an absent record is a no-op.
func (m *MemoryAdapter) Delete(ctx context.Context, path string) error {
	coll, key, err := splitPath(path)
	if err != nil {
		return &SyncError{Op: "delete", Path: path, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[coll][key]; !ok {
		return nil
	}
	delete(m.data[coll], key)
	m.publish(coll, key, ChildRemoved, nil)
	return nil
}

// Get returns a copy of the record at path.
func (m *MemoryAdapter) Get(ctx context.Context, path string) (map[string]interface{}, error) {
	coll, key, err := splitPath(path)
	if err != nil {
		return nil, &SyncError{Op: "get", Path: path, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.data[coll][key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyFields(fields), nil
}

// publish fans one mutation out to matching subscribers. Caller holds m.mu.
func (m *MemoryAdapter) publish(coll, key string, childKind EventKind, fields map[string]interface{}) {
	recordPath := Join(coll, key)
	for _, sub := range m.subs {
		switch {
		case sub.kind == childKind && sub.path == coll:
			sub.push(Event{Kind: childKind, Key: key, Fields: copyFields(fields)})
		case sub.kind == ValueChanged && sub.path == recordPath:
			sub.push(Event{Kind: ValueChanged, Key: key, Fields: copyFields(fields)})
		}
	}
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
