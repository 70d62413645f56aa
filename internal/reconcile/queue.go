// Package reconcile merges locally predicted mutations with confirmed
// server state. A Queue holds the last confirmed snapshot and an ordered
// list of pending mutations; the visible state is the confirmed snapshot
// with every pending mutation applied on top, in submission order.
package reconcile

import (
	"strconv"
	"sync"
)

type entry[S any] struct {
	id        string
	apply     func(S) S
	acked     bool
	reflected func(S) bool
}

// Queue is safe for concurrent use.
type Queue[S any] struct {
	mu        sync.Mutex
	confirmed S
	clone     func(S) S
	pending   []*entry[S]
	seq       uint64
	changes   chan struct{}
}

// NewQueue creates a queue seeded with initial. clone must return a copy
// of a state that apply functions may modify freely.
func NewQueue[S any](initial S, clone func(S) S) *Queue[S] {
	return &Queue[S]{
		confirmed: initial,
		clone:     clone,
		changes:   make(chan struct{}, 1),
	}
}

// Push records a predicted mutation and returns its id. apply must be
// deterministic: it is re-run on top of every new confirmed snapshot until
// the entry is dropped.
func (q *Queue[S]) Push(apply func(S) S) string {
	q.mu.Lock()
	q.seq++
	id := strconv.FormatUint(q.seq, 10)
	q.pending = append(q.pending, &entry[S]{id: id, apply: apply})
	q.mu.Unlock()

	q.signal()
	return id
}

// Ack marks the write behind id as confirmed by the store. The entry stays
// in effect until reflected reports that a confirmed snapshot contains the
// write, so a stale snapshot arriving after the ack cannot undo the
// prediction. A nil reflected drops the entry immediately.
func (q *Queue[S]) Ack(id string, reflected func(S) bool) {
	q.mu.Lock()
	changed := false
	for i, e := range q.pending {
		if e.id != id {
			continue
		}
		e.acked = true
		e.reflected = reflected
		if reflected == nil || reflected(q.confirmed) {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			changed = true
		}
		break
	}
	q.mu.Unlock()

	if changed {
		q.signal()
	}
}

// Reject drops the entry for id, rolling its prediction back. It reports
// whether the entry was still pending.
func (q *Queue[S]) Reject(id string) bool {
	q.mu.Lock()
	found := false
	for i, e := range q.pending {
		if e.id == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			found = true
			break
		}
	}
	q.mu.Unlock()

	if found {
		q.signal()
	}
	return found
}

// Observe replaces the confirmed state and drops every acknowledged entry
// it reflects.
func (q *Queue[S]) Observe(s S) {
	q.Update(func(S) S { return s })
}

// Update derives the confirmed state from the previous one. Views that
// assemble their state from several feeds use it to replace one part.
func (q *Queue[S]) Update(fn func(S) S) {
	q.mu.Lock()
	q.confirmed = fn(q.confirmed)
	kept := q.pending[:0]
	for _, e := range q.pending {
		if e.acked && (e.reflected == nil || e.reflected(q.confirmed)) {
			continue
		}
		kept = append(kept, e)
	}
	clear(q.pending[len(kept):])
	q.pending = kept
	q.mu.Unlock()

	q.signal()
}

// State returns the confirmed state with all pending mutations applied.
func (q *Queue[S]) State() S {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.clone(q.confirmed)
	for _, e := range q.pending {
		s = e.apply(s)
	}
	return s
}

// Confirmed returns a copy of the last confirmed state.
func (q *Queue[S]) Confirmed() S {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.clone(q.confirmed)
}

// Pending returns the number of unresolved entries.
func (q *Queue[S]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Changes receives a value whenever the visible state may have changed.
// Notifications coalesce; read State after each one.
func (q *Queue[S]) Changes() <-chan struct{} {
	return q.changes
}

func (q *Queue[S]) signal() {
	select {
	case q.changes <- struct{}{}:
	default:
	}
}
