// Package agent wires the Eidos runtime to channels, storage, the model
// client and the scheduler, and drives the message loop of one agent
// process.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/provolt/eidos/pkg/eidos/channels"
	"github.com/provolt/eidos/pkg/eidos/channels/discord"
	"github.com/provolt/eidos/pkg/eidos/channels/telegram"
	"github.com/provolt/eidos/pkg/eidos/character"
	"github.com/provolt/eidos/pkg/eidos/memory"
	"github.com/provolt/eidos/pkg/eidos/model"
	"github.com/provolt/eidos/pkg/eidos/runtime"
	"github.com/provolt/eidos/pkg/eidos/scheduler"
	"github.com/provolt/eidos/pkg/eidos/secrets"
)

// Namespace UUIDs for deriving stable ids from channel-native strings.
// The same channel/chat/sender always maps to the same room and entity,
// so history accumulates across restarts.
var (
	nsAgent   = uuid.MustParse("7a3c1f7e-9b2d-4c55-8f0a-1d6e2b9c4a10")
	nsRoom    = uuid.MustParse("b4f8d2a1-6c3e-4e77-9a52-0f1b8d7c3e21")
	nsEntity  = uuid.MustParse("c9e5a3b7-2d8f-4a11-b6c4-5e0d9f2a7b32")
	nsMessage = uuid.MustParse("d1b7c4e9-8a2f-4d66-a3b5-7c0e1f9d2a43")
)

// AgentID derives the stable agent id from the character name.
func AgentID(name string) uuid.UUID {
	return uuid.NewSHA1(nsAgent, []byte(name))
}

// RoomID derives the stable room id for a channel-native chat.
func RoomID(channel, chatID string) uuid.UUID {
	return uuid.NewSHA1(nsRoom, []byte(channel+":"+chatID))
}

// EntityID derives the stable entity id for a channel-native sender.
func EntityID(channel, sender string) uuid.UUID {
	return uuid.NewSHA1(nsEntity, []byte(channel+":"+sender))
}

// MessageID derives a stable memory id from the channel-native message
// id, so a redelivered message collides in the store instead of
// duplicating history.
func MessageID(channel, nativeID string) uuid.UUID {
	return uuid.NewSHA1(nsMessage, []byte(channel+":"+nativeID))
}

// Service is one running agent process.
type Service struct {
	cfg       *Config
	character *character.Character
	rt        *runtime.Runtime
	orch      *runtime.Orchestrator
	store     *memory.Store
	manager   *channels.Manager
	sched     *scheduler.Scheduler
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Service from config: loads the character, opens the
// store, builds the runtime and registers the bootstrap catalog.
func New(cfg *Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ch := character.Default()
	if cfg.CharacterPath != "" {
		loaded, err := character.Load(cfg.CharacterPath)
		if err != nil {
			return nil, fmt.Errorf("loading character: %w", err)
		}
		ch = loaded
	}

	// Character-level model overrides win over the endpoint defaults.
	modelCfg := cfg.Model
	if ch.Models.Small != "" {
		modelCfg.SmallModel = ch.Models.Small
	}
	if ch.Models.Large != "" {
		modelCfg.LargeModel = ch.Models.Large
	}
	modelCfg.APIKey = secrets.ResolveAPIKey(modelCfg.APIKey, logger)

	// A key that resolved from config or the environment is moved into
	// the OS keyring so it can be scrubbed from those locations.
	if modelCfg.APIKey != "" && secrets.Get("api_key") == "" && secrets.Available() {
		if err := secrets.MigrateAPIKey(modelCfg.APIKey, logger); err != nil {
			logger.Warn("keyring migration failed", "error", err)
		}
	}

	client := model.New(modelCfg, logger)

	// The API embedder needs a key and an embedding model; otherwise
	// fall back to the deterministic local embedder so retrieval still
	// works.
	var embedder runtime.Embedder = client
	if modelCfg.APIKey == "" || modelCfg.EmbeddingModel == "" {
		embedder = memory.NewHashEmbedder()
		logger.Info("using local hash embedder for retrieval")
	}

	store, err := memory.NewStore(cfg.Memory.Path, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("opening memory store: %w", err)
	}

	agentID := AgentID(ch.Name)
	rt := runtime.New(agentID, ch, client, store, logger)
	if err := rt.RegisterBootstrap(); err != nil {
		store.Close()
		return nil, fmt.Errorf("registering bootstrap catalog: %w", err)
	}

	s := &Service{
		cfg:       cfg,
		character: ch,
		rt:        rt,
		orch:      runtime.NewOrchestrator(rt, cfg.Orchestrator),
		store:     store,
		manager:   channels.NewManager(logger),
		logger:    logger.With("component", "agent"),
	}

	if cfg.Scheduler.Enabled {
		s.sched = scheduler.New(s.handleHeartbeat, logger)
		for i := range cfg.Scheduler.Tasks {
			if err := s.sched.Add(&cfg.Scheduler.Tasks[i]); err != nil {
				logger.Warn("skipping scheduler task", "error", err)
			}
		}
	}

	return s, nil
}

// Runtime exposes the underlying runtime, mainly for tests and commands.
func (s *Service) Runtime() *runtime.Runtime { return s.rt }

// Channels exposes the channel manager so commands can register extra
// connectors (the console connector, for one) before Start.
func (s *Service) Channels() *channels.Manager { return s.manager }

// RegisterConfiguredChannels registers the connectors enabled in config.
func (s *Service) RegisterConfiguredChannels() {
	if s.cfg.Channels.Discord.Enabled {
		d := discord.New(s.cfg.Channels.Discord, s.logger)
		if err := s.manager.Register(d); err != nil {
			s.logger.Error("registering discord", "error", err)
		}
	}
	if s.cfg.Channels.Telegram.Enabled {
		t := telegram.New(s.cfg.Channels.Telegram, s.logger)
		if err := s.manager.Register(t); err != nil {
			s.logger.Error("registering telegram", "error", err)
		}
	}
}

// Start connects channels and begins processing messages.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("starting agent",
		"name", s.character.Name,
		"actions", s.rt.ActionNames(),
	)

	if err := s.manager.Start(s.ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}

	if s.sched != nil {
		s.sched.Start(s.ctx)
	}

	s.wg.Add(1)
	go s.messageLoop()
	return nil
}

// Stop shuts down channels, scheduler and the message loop.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.sched != nil {
		s.sched.Stop()
	}
	s.manager.Stop()
	s.wg.Wait()
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing store", "error", err)
	}
	s.logger.Info("stopped")
}

// messageLoop drains the channel manager and hands each message to the
// orchestrator. Messages are processed concurrently; the response
// freshness tracker keeps overlapping runs in the same room honest.
func (s *Service) messageLoop() {
	defer s.wg.Done()
	for msg := range s.manager.Messages() {
		m := msg
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleIncoming(m)
		}()
	}
}

func (s *Service) handleIncoming(in *channels.IncomingMessage) {
	mem := s.toMemory(in)

	cb := func(ctx context.Context, content *runtime.Content) error {
		return s.manager.Send(ctx, in.Channel, in.ChatID, &channels.OutgoingMessage{
			Content: content.Text,
			ReplyTo: in.ID,
		})
	}

	if err := s.orch.HandleMessage(s.ctx, mem, cb); err != nil {
		s.logger.Warn("message handling failed",
			"channel", in.Channel,
			"chat_id", in.ChatID,
			"error", err,
		)
	}
}

// toMemory maps a channel message onto the runtime's memory shape.
func (s *Service) toMemory(in *channels.IncomingMessage) *runtime.Memory {
	content := runtime.Content{
		Text:   in.Content,
		Source: in.Channel,
	}
	for _, att := range in.Attachments {
		content.Attachments = append(content.Attachments, runtime.Attachment{
			URL:         att.URL,
			ContentType: att.ContentType,
			Title:       att.Title,
		})
	}
	if in.ReplyTo != "" {
		content.InReplyTo = MessageID(in.Channel, in.ReplyTo)
	}

	name := in.FromName
	if name == "" {
		name = in.From
	}

	return &runtime.Memory{
		ID:         MessageID(in.Channel, in.ID),
		RoomID:     RoomID(in.Channel, in.ChatID),
		EntityID:   EntityID(in.Channel, in.From),
		EntityName: name,
		AgentID:    s.rt.AgentID,
		Kind:       runtime.KindMessage,
		Content:    content,
		CreatedAt:  in.Timestamp,
	}
}

// handleHeartbeat turns a scheduler task into a synthetic inbound
// message so heartbeats flow through the exact same pipeline as user
// messages.
func (s *Service) handleHeartbeat(ctx context.Context, task *scheduler.Task) error {
	mem := &runtime.Memory{
		RoomID:     RoomID(task.Channel, task.ChatID),
		EntityID:   EntityID("scheduler", task.ID),
		EntityName: "heartbeat",
		AgentID:    s.rt.AgentID,
		Kind:       runtime.KindMessage,
		Content: runtime.Content{
			Text:   task.Prompt,
			Source: "scheduler",
		},
	}

	cb := func(ctx context.Context, content *runtime.Content) error {
		return s.manager.Send(ctx, task.Channel, task.ChatID, &channels.OutgoingMessage{
			Content: content.Text,
		})
	}

	return s.orch.HandleMessage(ctx, mem, cb)
}
