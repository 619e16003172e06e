// Package queue implements the admission gate that keeps the world
// population under its configured cap, holding overflow connections in
// FIFO order until room frees up.
package queue

import (
	"context"
	"sync"

	"github.com/kongor-project/loginway/internal/events"
)

// Handle is the narrow contract the queue needs from a connection: enough
// to identify it for arbitrary-position removal and to notify it once
// admitted. The queue never stores anything beyond this interface value,
// so it never independently extends a connection's lifetime past what
// the SessionRegistry already grants it.
type Handle interface {
	ID() string
	Admit()
}

// AdmissionQueue is a single-writer FIFO gate: enqueue/dequeue/population
// bookkeeping all happen under one mutex, and the head of the queue is
// popped automatically whenever a Decrement drops the population back
// under the cap, rather than through a separate polling loop.
type AdmissionQueue struct {
	mu         sync.Mutex
	cap        int
	population int
	order      []Handle
	eventBus   *events.EventBus
}

// New constructs an AdmissionQueue with the given population cap. eventBus
// may be nil in tests that don't care about telemetry.
func New(cap int, eventBus *events.EventBus) *AdmissionQueue {
	return &AdmissionQueue{cap: cap, eventBus: eventBus}
}

// TryAdmit is the single atomic admission decision point: below the cap,
// the connection is admitted immediately (population grows by one and the
// call returns true); at or above the cap, it joins the back of the
// queue and the call returns false. Doing the check-and-mutate as one
// locked operation is what keeps this race-free under concurrent accepts.
func (q *AdmissionQueue) TryAdmit(h Handle) bool {
	q.mu.Lock()
	if q.population < q.cap {
		q.population++
		pop, cap := q.population, q.cap
		q.mu.Unlock()
		q.emitPopulation(events.EventPopulationGrew, pop, cap)
		return true
	}
	q.order = append(q.order, h)
	depth := len(q.order)
	q.mu.Unlock()
	q.emitQueued(h.ID(), depth)
	return false
}

// Dequeue removes one connection from an arbitrary position in the queue
// (used for disconnect cleanup of a still-queued connection) without
// touching the population counter. It reports whether the handle was
// found.
func (q *AdmissionQueue) Dequeue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, h := range q.order {
		if h.ID() == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return true
		}
	}
	return false
}

// Decrement shrinks the population counter and admits queued connections
// from the head, one at a time, for as long as the population stays
// under the cap and the queue is non-empty.
func (q *AdmissionQueue) Decrement() {
	q.mu.Lock()
	q.population--

	var admitted []Handle
	for q.population < q.cap && len(q.order) > 0 {
		h := q.order[0]
		q.order = q.order[1:]
		q.population++
		admitted = append(admitted, h)
	}
	pop, cap := q.population, q.cap
	q.mu.Unlock()

	q.emitPopulation(events.EventPopulationFell, pop, cap)
	for _, h := range admitted {
		h.Admit()
	}
}

// Population returns the current active-world population.
func (q *AdmissionQueue) Population() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.population
}

// Len returns the current queue depth.
func (q *AdmissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Cap returns the configured population cap.
func (q *AdmissionQueue) Cap() int {
	return q.cap
}

func (q *AdmissionQueue) emitPopulation(evType events.EventType, population, cap int) {
	if q.eventBus == nil {
		return
	}
	q.eventBus.Emit(context.Background(), events.Event{
		Type:    evType,
		Source:  "queue",
		Payload: events.PopulationPayload{Population: population, Cap: cap},
	})
}

func (q *AdmissionQueue) emitQueued(id string, depth int) {
	if q.eventBus == nil {
		return
	}
	q.eventBus.Emit(context.Background(), events.Event{
		Type:    events.EventQueued,
		Source:  "queue",
		Payload: events.QueuePayload{Username: id, Depth: depth},
	})
}
