package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/provolt/eidos/pkg/eidos/runtime"
)

func newTestStore(t *testing.T, embedder runtime.Embedder) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(path, embedder, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemory(roomID uuid.UUID, kind runtime.MemoryKind, name, text string, at time.Time) *runtime.Memory {
	return &runtime.Memory{
		ID:         uuid.New(),
		RoomID:     roomID,
		EntityID:   uuid.New(),
		EntityName: name,
		AgentID:    uuid.New(),
		Kind:       kind,
		Content:    runtime.Content{Text: text},
		CreatedAt:  at,
	}
}

func TestCreateAndRecentMemories(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	roomID := uuid.New()
	base := time.Now().Add(-time.Hour)

	texts := []string{"first", "second", "third", "fourth"}
	for i, text := range texts {
		m := newMemory(roomID, runtime.KindMessage, "Rin", text, base.Add(time.Duration(i)*time.Minute))
		if err := s.CreateMemory(ctx, m); err != nil {
			t.Fatalf("CreateMemory(%q): %v", text, err)
		}
	}
	// A different room and a non-message kind must not appear.
	if err := s.CreateMemory(ctx, newMemory(uuid.New(), runtime.KindMessage, "Rin", "elsewhere", base)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateMemory(ctx, newMemory(roomID, runtime.KindFact, "", "a fact", base)); err != nil {
		t.Fatal(err)
	}

	got, err := s.RecentMemories(ctx, roomID, 3)
	if err != nil {
		t.Fatalf("RecentMemories: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d memories, want 3", len(got))
	}
	// Limit keeps the newest, returned oldest first.
	for i, want := range []string{"second", "third", "fourth"} {
		if got[i].Content.Text != want {
			t.Errorf("position %d: got %q, want %q", i, got[i].Content.Text, want)
		}
	}
	if got[0].EntityName != "Rin" || got[0].RoomID != roomID {
		t.Errorf("round-trip lost fields: %+v", got[0])
	}
}

func TestCreateMemoryDuplicateID(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	m := newMemory(uuid.New(), runtime.KindMessage, "Rin", "once", time.Now())
	if err := s.CreateMemory(ctx, m); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.CreateMemory(ctx, m)
	if !errors.Is(err, runtime.ErrDuplicateMemory) {
		t.Errorf("second insert should be ErrDuplicateMemory, got %v", err)
	}
}

func TestReactionDedup(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	roomID := uuid.New()
	entityID := uuid.New()

	first := newMemory(roomID, runtime.KindReaction, "Rin", "👍", time.Now())
	first.EntityID = entityID
	if err := s.CreateMemory(ctx, first); err != nil {
		t.Fatalf("first reaction: %v", err)
	}

	// Same entity, room and content with a fresh ID still collides.
	second := newMemory(roomID, runtime.KindReaction, "Rin", "👍", time.Now())
	second.EntityID = entityID
	err := s.CreateMemory(ctx, second)
	if !errors.Is(err, runtime.ErrDuplicateMemory) {
		t.Errorf("identical reaction should dedup, got %v", err)
	}

	// A different reaction from the same entity is fine.
	third := newMemory(roomID, runtime.KindReaction, "Rin", "🎉", time.Now())
	third.EntityID = entityID
	if err := s.CreateMemory(ctx, third); err != nil {
		t.Errorf("different reaction should insert: %v", err)
	}

	// Identical message texts never dedup; only reactions carry the constraint.
	m1 := newMemory(roomID, runtime.KindMessage, "Rin", "same text", time.Now())
	m1.EntityID = entityID
	m2 := newMemory(roomID, runtime.KindMessage, "Rin", "same text", time.Now())
	m2.EntityID = entityID
	if err := s.CreateMemory(ctx, m1); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateMemory(ctx, m2); err != nil {
		t.Errorf("duplicate message text should insert: %v", err)
	}
}

func TestParticipants(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	roomID := uuid.New()
	now := time.Now()

	for _, name := range []string{"Rin", "Sol", "Rin"} {
		if err := s.CreateMemory(ctx, newMemory(roomID, runtime.KindMessage, name, "hi", now)); err != nil {
			t.Fatal(err)
		}
	}
	// Nameless and non-message rows are excluded.
	if err := s.CreateMemory(ctx, newMemory(roomID, runtime.KindMessage, "", "anon", now)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateMemory(ctx, newMemory(roomID, runtime.KindFact, "Ghost", "fact", now)); err != nil {
		t.Fatal(err)
	}

	names, err := s.Participants(ctx, roomID)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(names) != 2 || names[0] != "Rin" || names[1] != "Sol" {
		t.Errorf("got %v, want [Rin Sol]", names)
	}
}

func TestAddEmbedding(t *testing.T) {
	s := newTestStore(t, NewHashEmbedder())
	ctx := context.Background()

	m := newMemory(uuid.New(), runtime.KindMessage, "Rin", "otters hold hands while sleeping", time.Now())
	if err := s.CreateMemory(ctx, m); err != nil {
		t.Fatal(err)
	}
	if err := s.AddEmbedding(ctx, m); err != nil {
		t.Fatalf("AddEmbedding: %v", err)
	}
	if len(m.Embedding) == 0 {
		t.Error("embedding should be attached to the record")
	}

	// Nil embedder and empty text are both no-ops.
	bare := newTestStore(t, nil)
	if err := bare.AddEmbedding(ctx, m); err != nil {
		t.Errorf("nil embedder should be a no-op, got %v", err)
	}
	empty := newMemory(uuid.New(), runtime.KindMessage, "Rin", "  ", time.Now())
	if err := s.AddEmbedding(ctx, empty); err != nil {
		t.Errorf("empty text should be a no-op, got %v", err)
	}
	if len(empty.Embedding) != 0 {
		t.Error("empty text should not get a vector")
	}
}

func TestSearchFactsSemanticRanking(t *testing.T) {
	s := newTestStore(t, NewHashEmbedder())
	ctx := context.Background()
	roomID := uuid.New()
	base := time.Now().Add(-time.Hour)

	facts := []string{
		"the weather in oslo is rainy today",
		"otters are semi aquatic mammals",
		"the train leaves at nine",
	}
	for i, text := range facts {
		m := newMemory(roomID, runtime.KindFact, "", text, base.Add(time.Duration(i)*time.Minute))
		if err := s.CreateMemory(ctx, m); err != nil {
			t.Fatal(err)
		}
		if err := s.AddEmbedding(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SearchFacts(ctx, roomID, "tell me about otters and other aquatic mammals", 2)
	if err != nil {
		t.Fatalf("SearchFacts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d facts, want 2", len(got))
	}
	if got[0].Content.Text != "otters are semi aquatic mammals" {
		t.Errorf("best match should rank first, got %q", got[0].Content.Text)
	}
}

func TestSearchFactsRecencyFallback(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	roomID := uuid.New()
	base := time.Now().Add(-time.Hour)

	for i, text := range []string{"oldest", "middle", "newest"} {
		m := newMemory(roomID, runtime.KindFact, "", text, base.Add(time.Duration(i)*time.Minute))
		if err := s.CreateMemory(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SearchFacts(ctx, roomID, "anything", 2)
	if err != nil {
		t.Fatalf("SearchFacts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d facts, want 2", len(got))
	}
	if got[0].Content.Text != "newest" || got[1].Content.Text != "middle" {
		t.Errorf("without an embedder facts come back newest first, got %q, %q",
			got[0].Content.Text, got[1].Content.Text)
	}

	empty, err := s.SearchFacts(ctx, uuid.New(), "anything", 2)
	if err != nil || empty != nil {
		t.Errorf("empty room should yield nil, nil; got %v, %v", empty, err)
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "Otters hold hands.")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Embed(ctx, "otters hold hands")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding should be case and punctuation insensitive")
		}
	}

	if sim := cosineSimilarity(a, b); sim < 0.999 {
		t.Errorf("identical token bags should have similarity 1, got %f", sim)
	}
}
