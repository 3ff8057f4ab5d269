// Package console implements an interactive terminal connector for Eidos.
// It reads lines from the terminal with readline and prints agent replies
// to stdout, which makes the full message pipeline usable without any
// network channel.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/provolt/eidos/pkg/eidos/channels"
)

// ChatID is the single conversation id the console connector uses.
const ChatID = "console"

// Config holds console connector configuration.
type Config struct {
	// UserName is the display name attributed to typed messages.
	UserName string `yaml:"user_name"`

	// Prompt is the readline prompt string.
	Prompt string `yaml:"prompt"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		UserName: "user",
		Prompt:   "you> ",
	}
}

// Console implements channels.Channel over an interactive terminal.
type Console struct {
	cfg    Config
	logger *slog.Logger

	rl        *readline.Instance
	messages  chan *channels.IncomingMessage
	connected atomic.Bool
	lastMsg   atomic.Value // time.Time
	seq       atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a console connector.
func New(cfg Config, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserName == "" {
		cfg.UserName = "user"
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "you> "
	}
	return &Console{
		cfg:      cfg,
		logger:   logger.With("component", "console"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect opens the readline instance and starts the input loop.
func (c *Console) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	rl, err := readline.New(c.cfg.Prompt)
	if err != nil {
		return fmt.Errorf("console: opening readline: %w", err)
	}
	c.rl = rl
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.connected.Store(true)

	go c.readLoop()
	return nil
}

// Disconnect stops the input loop and closes the terminal.
func (c *Console) Disconnect() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.connected.Store(false)
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}

// Send prints an agent reply to the terminal.
func (c *Console) Send(ctx context.Context, chatID string, msg *channels.OutgoingMessage) error {
	if !c.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	// Writing through readline keeps the prompt line intact.
	fmt.Fprintf(c.rl.Stdout(), "\n%s\n\n", msg.Content)
	return nil
}

// Receive returns the incoming message stream.
func (c *Console) Receive() <-chan *channels.IncomingMessage {
	return c.messages
}

// IsConnected reports connector state.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health reports connector health.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     c.connected.Load(),
		LastMessageAt: lastAt,
	}
}

func (c *Console) readLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// Ctrl-C clears the line, Ctrl-D or a closed terminal ends
			// the session.
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("input closed")
			} else {
				c.logger.Warn("read error", "error", err)
			}
			c.connected.Store(false)
			close(c.messages)
			return
		}
		if line == "" {
			continue
		}

		now := time.Now()
		c.lastMsg.Store(now)

		incoming := &channels.IncomingMessage{
			ID:        "console-" + strconv.FormatInt(c.seq.Add(1), 10),
			Channel:   c.Name(),
			From:      c.cfg.UserName,
			FromName:  c.cfg.UserName,
			ChatID:    ChatID,
			Content:   line,
			Timestamp: now,
		}

		select {
		case c.messages <- incoming:
		case <-c.ctx.Done():
			return
		}
	}
}

var _ channels.Channel = (*Console)(nil)
