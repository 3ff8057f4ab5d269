// Package memory implements the SQLite-backed message store for the
// agent runtime. Memories (messages, reactions, facts) are stored as
// JSON-encoded content rows; embeddings are JSON-encoded float32 arrays
// ranked with in-process cosine similarity, avoiding any vector
// extension. Reaction records carry a uniqueness constraint so the same
// reaction cannot be recorded twice; a collision surfaces as
// runtime.ErrDuplicateMemory and callers treat it as a no-op.
package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/provolt/eidos/pkg/eidos/runtime"
)

// Store is a SQLite implementation of runtime.MemoryStore.
type Store struct {
	db       *sql.DB
	embedder runtime.Embedder
	logger   *slog.Logger
}

// NewStore opens (or creates) the memory database. embedder may be nil;
// embeddings and semantic fact search then degrade gracefully.
func NewStore(dbPath string, embedder runtime.Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{
		db:       db,
		embedder: embedder,
		logger:   logger.With("component", "memory"),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			id           TEXT PRIMARY KEY,
			room_id      TEXT NOT NULL,
			entity_id    TEXT NOT NULL,
			entity_name  TEXT NOT NULL DEFAULT '',
			agent_id     TEXT NOT NULL,
			kind         TEXT NOT NULL,
			content      TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			embedding    TEXT,
			created_at   DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_memories_room
			ON memories(room_id, kind, created_at);

		-- Reaction dedup: the same entity reacting identically in the
		-- same room is one record. Collisions are benign.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_reaction_unique
			ON memories(room_id, entity_id, content_hash)
			WHERE kind = 'reaction';
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateMemory persists one memory record.
func (s *Store) CreateMemory(ctx context.Context, m *runtime.Memory) error {
	contentJSON, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, room_id, entity_id, entity_name, agent_id, kind, content, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID.String(), m.RoomID.String(), m.EntityID.String(), m.EntityName,
		m.AgentID.String(), string(m.Kind), string(contentJSON),
		hashContent(contentJSON), m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", runtime.ErrDuplicateMemory, m.ID)
		}
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// AddEmbedding computes and stores the embedding vector for m. Without
// an embedder this is a no-op.
func (s *Store) AddEmbedding(ctx context.Context, m *runtime.Memory) error {
	if s.embedder == nil || strings.TrimSpace(m.Content.Text) == "" {
		return nil
	}

	vec, err := s.embedder.Embed(ctx, m.Content.Text)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	encoded, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE memories SET embedding = ? WHERE id = ?",
		string(encoded), m.ID.String(),
	); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	m.Embedding = vec
	return nil
}

// RecentMemories returns up to limit message memories for a room,
// oldest first (the order templates render them in).
func (s *Store) RecentMemories(ctx context.Context, roomID uuid.UUID, limit int) ([]*runtime.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, entity_id, entity_name, agent_id, kind, content, created_at
		FROM memories
		WHERE room_id = ? AND kind = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, roomID.String(), string(runtime.KindMessage), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent memories: %w", err)
	}
	defer rows.Close()

	memories, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}

	// Query is newest-first for the LIMIT; reverse to oldest-first.
	for i, j := 0, len(memories)-1; i < j; i, j = i+1, j-1 {
		memories[i], memories[j] = memories[j], memories[i]
	}
	return memories, nil
}

// SearchFacts retrieves fact memories relevant to query, best first.
// With an embedder, facts are ranked by cosine similarity; without one
// (or when embedding fails) the most recent facts are returned instead.
func (s *Store) SearchFacts(ctx context.Context, roomID uuid.UUID, query string, limit int) ([]*runtime.Memory, error) {
	if limit <= 0 {
		limit = 8
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, entity_id, entity_name, agent_id, kind, content, embedding, created_at
		FROM memories
		WHERE room_id = ? AND kind = ?
		ORDER BY created_at DESC
		LIMIT 500
	`, roomID.String(), string(runtime.KindFact))
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	type scored struct {
		mem   *runtime.Memory
		score float64
	}
	var facts []scored
	for rows.Next() {
		m, embJSON, err := scanMemoryWithEmbedding(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, scored{mem: m, score: 0})
		if embJSON != "" {
			_ = json.Unmarshal([]byte(embJSON), &facts[len(facts)-1].mem.Embedding)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, nil
	}

	if s.embedder != nil {
		if queryVec, err := s.embedder.Embed(ctx, query); err == nil {
			for i := range facts {
				if len(facts[i].mem.Embedding) > 0 {
					facts[i].score = cosineSimilarity(queryVec, facts[i].mem.Embedding)
				}
			}
			sort.SliceStable(facts, func(i, j int) bool {
				return facts[i].score > facts[j].score
			})
		} else {
			s.logger.Warn("query embedding failed, using recency order", "error", err)
		}
	}

	if len(facts) > limit {
		facts = facts[:limit]
	}
	result := make([]*runtime.Memory, len(facts))
	for i, f := range facts {
		result[i] = f.mem
	}
	return result, nil
}

// Participants returns the distinct display names seen in a room.
func (s *Store) Participants(ctx context.Context, roomID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entity_name FROM memories
		WHERE room_id = ? AND kind = ? AND entity_name != ''
		ORDER BY entity_name
	`, roomID.String(), string(runtime.KindMessage))
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func scanMemories(rows *sql.Rows) ([]*runtime.Memory, error) {
	var memories []*runtime.Memory
	for rows.Next() {
		var (
			id, roomID, entityID, entityName, agentID, kind, content string
			createdAt                                                time.Time
		)
		if err := rows.Scan(&id, &roomID, &entityID, &entityName, &agentID, &kind, &content, &createdAt); err != nil {
			return nil, err
		}
		m, err := buildMemory(id, roomID, entityID, entityName, agentID, kind, content, createdAt)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func scanMemoryWithEmbedding(rows *sql.Rows) (*runtime.Memory, string, error) {
	var (
		id, roomID, entityID, entityName, agentID, kind, content string
		embedding                                                sql.NullString
		createdAt                                                time.Time
	)
	if err := rows.Scan(&id, &roomID, &entityID, &entityName, &agentID, &kind, &content, &embedding, &createdAt); err != nil {
		return nil, "", err
	}
	m, err := buildMemory(id, roomID, entityID, entityName, agentID, kind, content, createdAt)
	if err != nil {
		return nil, "", err
	}
	return m, embedding.String, nil
}

func buildMemory(id, roomID, entityID, entityName, agentID, kind, content string, createdAt time.Time) (*runtime.Memory, error) {
	m := &runtime.Memory{
		EntityName: entityName,
		Kind:       runtime.MemoryKind(kind),
		CreatedAt:  createdAt,
	}
	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse memory id: %w", err)
	}
	if m.RoomID, err = uuid.Parse(roomID); err != nil {
		return nil, fmt.Errorf("parse room id: %w", err)
	}
	if m.EntityID, err = uuid.Parse(entityID); err != nil {
		return nil, fmt.Errorf("parse entity id: %w", err)
	}
	if m.AgentID, err = uuid.Parse(agentID); err != nil {
		return nil, fmt.Errorf("parse agent id: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return m, nil
}

func hashContent(contentJSON []byte) string {
	sum := sha256.Sum256(contentJSON)
	return hex.EncodeToString(sum[:])
}

// isUniqueViolation detects a SQLite uniqueness constraint error
// without depending on driver error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// cosineSimilarity computes the cosine similarity of two vectors.
// Mismatched lengths score zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
