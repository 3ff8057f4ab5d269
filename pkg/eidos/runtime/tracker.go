// Package runtime – tracker.go implements the response freshness tracker:
// a per-(agent, room) registry of the latest in-flight response id.
// When two messages for the same room race, only the generation started
// last is allowed to deliver; the earlier one discards its output.
package runtime

import (
	"sync"

	"github.com/google/uuid"
)

// ResponseTracker records the most recently started generation per
// (agent, room) pair. It is the only mutable structure shared across
// concurrent invocations for one agent, so access is mutex-guarded.
//
// It is an injectable component rather than package state so a
// multi-process deployment can swap in a distributed implementation.
type ResponseTracker struct {
	mu sync.Mutex

	// latest maps agent id → room id → current response id.
	latest map[uuid.UUID]map[uuid.UUID]uuid.UUID
}

// NewResponseTracker creates an empty tracker.
func NewResponseTracker() *ResponseTracker {
	return &ResponseTracker{
		latest: make(map[uuid.UUID]map[uuid.UUID]uuid.UUID),
	}
}

// Begin registers a fresh response id for (agent, room), unconditionally
// overwriting any previous one. Last writer wins: an earlier in-flight
// generation for the same room becomes stale the moment Begin is called
// again.
func (t *ResponseTracker) Begin(agentID, roomID uuid.UUID) uuid.UUID {
	id := uuid.New()

	t.mu.Lock()
	defer t.mu.Unlock()

	rooms, ok := t.latest[agentID]
	if !ok {
		rooms = make(map[uuid.UUID]uuid.UUID)
		t.latest[agentID] = rooms
	}
	rooms[roomID] = id
	return id
}

// IsCurrent reports whether responseID is still the live generation for
// (agent, room). Must be checked immediately before any user-visible
// delivery; a stale result means the caller discards its output.
func (t *ResponseTracker) IsCurrent(agentID, roomID, responseID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms, ok := t.latest[agentID]
	if !ok {
		return false
	}
	current, ok := rooms[roomID]
	return ok && current == responseID
}

// End removes the tracked id for (agent, room) once no further delivery
// will be attempted. Empty agent entries are pruned as housekeeping.
func (t *ResponseTracker) End(agentID, roomID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remove(agentID, roomID)
}

// EndIf removes the tracked id for (agent, room) only while responseID
// is still the live generation, as a single atomic operation. A run
// tearing itself down must use this rather than IsCurrent followed by
// End: a newer Begin landing between those two calls would have its id
// deleted by the older run, and the newest generation's delivery check
// would then wrongly fail.
func (t *ResponseTracker) EndIf(agentID, roomID, responseID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms, ok := t.latest[agentID]
	if !ok {
		return
	}
	if current, ok := rooms[roomID]; !ok || current != responseID {
		return
	}
	t.remove(agentID, roomID)
}

// remove deletes the room entry and prunes the agent map. Callers hold
// the mutex.
func (t *ResponseTracker) remove(agentID, roomID uuid.UUID) {
	rooms, ok := t.latest[agentID]
	if !ok {
		return
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(t.latest, agentID)
	}
}
