// Package channels defines the interface and types for Eidos
// communication channels. Each connector (console, Discord, Telegram)
// implements the Channel interface to receive and send messages in a
// unified way. Connectors are deliberately thin: everything beyond
// "receive text, send text" belongs to the runtime.
package channels

import (
	"context"
	"fmt"
	"time"
)

// Channel is the interface every connector must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord", "console").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to the specified chat.
	Send(ctx context.Context, chatID string, msg *OutgoingMessage) error

	// Receive returns a Go channel emitting incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected reports whether the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// IncomingMessage is a message received from any channel.
type IncomingMessage struct {
	// ID is the message identifier in the source platform.
	ID string

	// Channel identifies the source connector.
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name, if available.
	FromName string

	// ChatID is the group or DM identifier; it maps to a runtime room.
	ChatID string

	// IsGroup indicates a group chat rather than a DM.
	IsGroup bool

	// Content is the text content.
	Content string

	// Attachments carries media references, if any.
	Attachments []Attachment

	// ReplyTo is the platform id of the quoted message, if replying.
	ReplyTo string

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// OutgoingMessage is a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text to send.
	Content string

	// ReplyTo is the platform id of the message to reply to.
	ReplyTo string
}

// Attachment references a media item on an incoming message.
type Attachment struct {
	URL         string
	ContentType string
	Title       string
}

// HealthStatus reports the health of one channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrSendFailed          = fmt.Errorf("failed to send message")
	ErrConnectionFailed    = fmt.Errorf("failed to connect to channel")
)
