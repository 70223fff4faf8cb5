// Package notify fans trip state-machine transitions out to registered
// observers.
package notify

import (
	"sort"
	"sync"

	"trip-coordinator/models"
)

// observerBuffer bounds how far an observer may lag before Publish blocks on
// it; delivery order is preserved either way.
const observerBuffer = 32

// Dispatcher delivers each committed transition to every observer registered
// at publish time, in commit order. Observers registered after a transition do
// not receive it retroactively.
type Dispatcher struct {
	mu   sync.Mutex
	subs map[int]*observer
	next int
}

type observer struct {
	tripID string // "" observes all trips
	ch     chan models.Transition
	done   chan struct{}
}

// NewDispatcher returns a dispatcher with no observers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[int]*observer)}
}

// Subscribe registers an observer. tripID filters to one trip; pass "" for
// all transitions. The returned cancel func unregisters the observer and
// closes its channel.
func (d *Dispatcher) Subscribe(tripID string) (<-chan models.Transition, func()) {
	obs := &observer{
		tripID: tripID,
		ch:     make(chan models.Transition, observerBuffer),
		done:   make(chan struct{}),
	}

	d.mu.Lock()
	id := d.next
	d.next++
	d.subs[id] = obs
	d.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(obs.done)
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
			close(obs.ch)
		})
	}
	return obs.ch, cancel
}

// Publish delivers one transition to every matching observer. Holding the
// lock across the sends keeps concurrent publishers from interleaving their
// deliveries out of commit order; an observer that cancelled mid-send is
// skipped.
func (d *Dispatcher) Publish(t models.Transition) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]int, 0, len(d.subs))
	for id := range d.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		obs := d.subs[id]
		if obs.tripID != "" && obs.tripID != t.TripID {
			continue
		}
		select {
		case obs.ch <- t:
		case <-obs.done:
		}
	}
}
