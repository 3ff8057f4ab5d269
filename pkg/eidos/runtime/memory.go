// Package runtime – memory.go defines the Memory record (one turn of
// conversation) and the store contract the runtime persists through.
// Memories are immutable after creation; the store is an external
// collaborator and may be SQLite, in-memory, or anything else.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// MemoryKind classifies a stored memory record.
type MemoryKind string

const (
	// KindMessage is a regular conversation turn (inbound or agent reply).
	KindMessage MemoryKind = "message"

	// KindReaction is an emoji/ack-style record. Reactions are deduplicated
	// by a uniqueness constraint at the store; a collision is benign.
	KindReaction MemoryKind = "reaction"

	// KindFact is a long-term fact extracted by the reflection evaluator.
	KindFact MemoryKind = "fact"
)

// Content is the structured payload of a memory.
// For agent replies, Thought and Actions carry the parsed model output.
type Content struct {
	// Text is the plain message text.
	Text string `json:"text"`

	// Thought is the agent's internal reasoning for a reply (not delivered).
	Thought string `json:"thought,omitempty"`

	// Actions lists the action names the agent chose for this reply.
	Actions []string `json:"actions,omitempty"`

	// Providers lists extra provider names the agent requested for context.
	Providers []string `json:"providers,omitempty"`

	// Attachments are media references carried along with the text.
	Attachments []Attachment `json:"attachments,omitempty"`

	// InReplyTo references the memory this one answers, if any.
	InReplyTo uuid.UUID `json:"in_reply_to,omitempty"`

	// Source identifies the originating channel (e.g. "discord", "console").
	Source string `json:"source,omitempty"`
}

// Attachment references a media item attached to a message.
// The runtime never interprets attachments; channels do.
type Attachment struct {
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Title       string `json:"title,omitempty"`
}

// Memory is an immutable record of one conversation turn.
type Memory struct {
	// ID is the unique memory identifier.
	ID uuid.UUID

	// RoomID identifies the conversation channel/thread.
	RoomID uuid.UUID

	// EntityID is the sender (a user, or the agent itself for replies).
	EntityID uuid.UUID

	// EntityName is the sender display name, used when rendering history.
	EntityName string

	// AgentID is the agent this memory belongs to.
	AgentID uuid.UUID

	// Kind classifies the record (message, reaction, fact).
	Kind MemoryKind

	// Content is the structured payload.
	Content Content

	// CreatedAt is when the memory was created. Zero means "now" at persist.
	CreatedAt time.Time

	// Embedding is the vector for retrieval, attached after creation.
	Embedding []float32
}

// ErrDuplicateMemory is returned by CreateMemory when a uniqueness
// constraint collides (reaction dedup). Callers treat it as a no-op.
var ErrDuplicateMemory = errors.New("memory already exists")

// MemoryStore is the persistence contract the runtime depends on.
// Implementations own their locking; the runtime treats calls as
// suspension points and never retries transport failures itself.
type MemoryStore interface {
	// CreateMemory persists a memory record. Returns ErrDuplicateMemory
	// on a benign uniqueness collision.
	CreateMemory(ctx context.Context, m *Memory) error

	// AddEmbedding computes and attaches the embedding vector for m,
	// updating the stored record. A store without an embedder is a no-op.
	AddEmbedding(ctx context.Context, m *Memory) error

	// RecentMemories returns up to limit message memories for a room,
	// newest last.
	RecentMemories(ctx context.Context, roomID uuid.UUID, limit int) ([]*Memory, error)

	// SearchFacts returns fact memories relevant to the query text,
	// best first. The store owns the embedding of the query.
	SearchFacts(ctx context.Context, roomID uuid.UUID, query string, limit int) ([]*Memory, error)

	// Participants returns the distinct entity names seen in a room.
	Participants(ctx context.Context, roomID uuid.UUID) ([]string, error)
}
