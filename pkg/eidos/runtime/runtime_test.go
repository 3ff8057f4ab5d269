package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/provolt/eidos/pkg/eidos/character"
)

// memStore is an in-memory MemoryStore for tests.
type memStore struct {
	mu       sync.Mutex
	memories []*Memory
}

func (s *memStore) CreateMemory(ctx context.Context, m *Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.memories {
		if existing.ID == m.ID {
			return ErrDuplicateMemory
		}
	}
	cp := *m
	s.memories = append(s.memories, &cp)
	return nil
}

func (s *memStore) AddEmbedding(ctx context.Context, m *Memory) error { return nil }

func (s *memStore) RecentMemories(ctx context.Context, roomID uuid.UUID, limit int) ([]*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Memory
	for _, m := range s.memories {
		if m.RoomID == roomID && m.Kind == KindMessage {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) SearchFacts(ctx context.Context, roomID uuid.UUID, query string, limit int) ([]*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Memory
	for _, m := range s.memories {
		if m.RoomID == roomID && m.Kind == KindFact {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) Participants(ctx context.Context, roomID uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var names []string
	for _, m := range s.memories {
		if m.RoomID == roomID && m.EntityName != "" && !seen[m.EntityName] {
			seen[m.EntityName] = true
			names = append(names, m.EntityName)
		}
	}
	return names, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memories)
}

func (s *memStore) byKind(kind MemoryKind) []*Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Memory
	for _, m := range s.memories {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// scriptedModel returns canned responses per model class and counts calls.
type scriptedModel struct {
	mu sync.Mutex

	// small and large are consumed in order; the last entry repeats.
	small []string
	large []string

	smallCalls int
	largeCalls int

	// onCall runs before returning, for tests that need a side effect
	// mid-generation.
	onCall func(class ModelClass)
}

func (m *scriptedModel) UseModel(ctx context.Context, class ModelClass, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onCall != nil {
		m.onCall(class)
	}
	pick := func(script []string, n int) string {
		if len(script) == 0 {
			return ""
		}
		if n >= len(script) {
			return script[len(script)-1]
		}
		return script[n]
	}
	switch class {
	case ModelSmall:
		out := pick(m.small, m.smallCalls)
		m.smallCalls++
		return out, nil
	default:
		out := pick(m.large, m.largeCalls)
		m.largeCalls++
		return out, nil
	}
}

func (m *scriptedModel) calls() (small, large int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.smallCalls, m.largeCalls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRuntime(t *testing.T, model ModelCaller) (*Runtime, *memStore) {
	t.Helper()
	store := &memStore{}
	ch := &character.Character{Name: "Testa", System: "test system", Bio: []string{"a test agent"}}
	rt := New(uuid.New(), ch, model, store, testLogger())
	return rt, store
}
