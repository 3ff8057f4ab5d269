package runtime

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestTrackerLastWriterWins(t *testing.T) {
	tr := NewResponseTracker()
	agent := uuid.New()
	room := uuid.New()

	id1 := tr.Begin(agent, room)
	if !tr.IsCurrent(agent, room, id1) {
		t.Fatal("id1 should be current right after Begin")
	}

	id2 := tr.Begin(agent, room)
	if tr.IsCurrent(agent, room, id1) {
		t.Error("id1 should be stale after a second Begin")
	}
	if !tr.IsCurrent(agent, room, id2) {
		t.Error("id2 should be current")
	}
}

func TestTrackerEnd(t *testing.T) {
	tr := NewResponseTracker()
	agent := uuid.New()
	room := uuid.New()

	id := tr.Begin(agent, room)
	tr.End(agent, room)
	if tr.IsCurrent(agent, room, id) {
		t.Error("id should not be current after End")
	}

	// End on an unknown pair is a no-op.
	tr.End(uuid.New(), uuid.New())
}

func TestTrackerEndIfKeepsNewerGeneration(t *testing.T) {
	tr := NewResponseTracker()
	agent := uuid.New()
	room := uuid.New()

	// An older run tearing down after a newer Begin must not delete the
	// newer generation's id.
	older := tr.Begin(agent, room)
	newer := tr.Begin(agent, room)

	tr.EndIf(agent, room, older)
	if !tr.IsCurrent(agent, room, newer) {
		t.Fatal("newer generation must stay current after the older run's teardown")
	}

	tr.EndIf(agent, room, newer)
	if tr.IsCurrent(agent, room, newer) {
		t.Error("the owning run's EndIf should clear the slot")
	}

	// EndIf on an unknown pair is a no-op.
	tr.EndIf(uuid.New(), uuid.New(), uuid.New())
}

func TestTrackerRoomsAreIndependent(t *testing.T) {
	tr := NewResponseTracker()
	agent := uuid.New()
	roomA := uuid.New()
	roomB := uuid.New()

	idA := tr.Begin(agent, roomA)
	idB := tr.Begin(agent, roomB)

	if !tr.IsCurrent(agent, roomA, idA) || !tr.IsCurrent(agent, roomB, idB) {
		t.Fatal("each room tracks its own generation")
	}

	tr.End(agent, roomA)
	if !tr.IsCurrent(agent, roomB, idB) {
		t.Error("ending room A must not clear room B")
	}
}

func TestTrackerAgentsAreIndependent(t *testing.T) {
	tr := NewResponseTracker()
	room := uuid.New()
	agentA := uuid.New()
	agentB := uuid.New()

	idA := tr.Begin(agentA, room)
	idB := tr.Begin(agentB, room)

	if !tr.IsCurrent(agentA, room, idA) || !tr.IsCurrent(agentB, room, idB) {
		t.Error("agents sharing a tracker must not collide")
	}
}

func TestTrackerUnknownIsNeverCurrent(t *testing.T) {
	tr := NewResponseTracker()
	if tr.IsCurrent(uuid.New(), uuid.New(), uuid.New()) {
		t.Error("an untracked id must never be current")
	}
}

func TestTrackerConcurrentBegin(t *testing.T) {
	tr := NewResponseTracker()
	agent := uuid.New()
	room := uuid.New()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 50)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = tr.Begin(agent, room)
		}(i)
	}
	wg.Wait()

	// Exactly one of the started generations is current.
	current := 0
	for _, id := range ids {
		if tr.IsCurrent(agent, room, id) {
			current++
		}
	}
	if current != 1 {
		t.Errorf("expected exactly 1 current generation, got %d", current)
	}
}
