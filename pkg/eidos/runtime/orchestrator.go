// Package runtime – orchestrator.go implements the end-to-end message
// handling loop: persist the inbound message, decide whether to respond,
// compose state, prompt the model, parse, dispatch actions, run
// evaluators and emit lifecycle events. A wall-clock timeout races the
// whole pass.
//
// The timeout is best-effort: it declares the run abandoned but does not
// forcibly cancel in-flight model or store calls, so side effects of an
// abandoned run may still land. True preemptive cancellation is a
// deliberate non-goal.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRunTimeout caps one full message-handling pass.
	DefaultRunTimeout = 5 * time.Minute

	// DefaultMaxResponseAttempts bounds the re-prompt loop when the
	// model returns structured output missing required fields. Model
	// output is not schema-guaranteed; the occasional malformed reply
	// should not abort the turn.
	DefaultMaxResponseAttempts = 3
)

// ErrRunTimeout is returned when a run exceeds its wall-clock budget.
var ErrRunTimeout = errors.New("run timed out")

// Decision actions parsed from the should-respond model call.
const (
	DecisionRespond = "RESPOND"
	DecisionIgnore  = "IGNORE"
	DecisionStop    = "STOP"
)

// RunStatus is the terminal status of one message-handling pass.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunTimedOut  RunStatus = "timeout"
	RunErrored   RunStatus = "error"
)

// Run is the correlation scope of one message-handling pass. It is
// closed exactly once, by completion, timeout or error.
type Run struct {
	ID        uuid.UUID
	AgentID   uuid.UUID
	RoomID    uuid.UUID
	MessageID uuid.UUID
	StartedAt time.Time
	Status    RunStatus
	Error     string
}

// OrchestratorConfig holds the orchestration tunables.
type OrchestratorConfig struct {
	// RunTimeoutSeconds caps one message-handling pass (default: 300).
	RunTimeoutSeconds int `yaml:"run_timeout_seconds"`

	// MaxResponseAttempts bounds the structured-output retry loop
	// (default: 3).
	MaxResponseAttempts int `yaml:"max_response_attempts"`
}

// DefaultOrchestratorConfig returns the default tunables.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		RunTimeoutSeconds:   int(DefaultRunTimeout / time.Second),
		MaxResponseAttempts: DefaultMaxResponseAttempts,
	}
}

// Orchestrator drives the message loop for one runtime.
type Orchestrator struct {
	rt                  *Runtime
	runTimeout          time.Duration
	maxResponseAttempts int
	logger              *slog.Logger
}

// NewOrchestrator creates an orchestrator with the given tunables.
func NewOrchestrator(rt *Runtime, cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		rt:                  rt,
		runTimeout:          DefaultRunTimeout,
		maxResponseAttempts: DefaultMaxResponseAttempts,
		logger:              rt.logger.With("component", "orchestrator"),
	}
	if cfg.RunTimeoutSeconds > 0 {
		o.runTimeout = time.Duration(cfg.RunTimeoutSeconds) * time.Second
	}
	if cfg.MaxResponseAttempts > 0 {
		o.maxResponseAttempts = cfg.MaxResponseAttempts
	}
	return o
}

// shouldRespondProviders is the narrow state slice for the decision
// prompt: identity and recent history only, to keep the call small and
// fast.
var shouldRespondProviders = []string{ProviderCharacter, ProviderRecentMessages}

// messageProviders is the default full-context set for reply
// generation; the decision step may request extras on top.
var messageProviders = []string{
	ProviderCharacter, ProviderTime, ProviderEntities,
	ProviderRecentMessages, ProviderAttachments,
}

// HandleMessage processes one inbound message end to end.
//
// The pipeline runs in a goroutine racing a wall-clock timer. On
// timeout the run is abandoned (ErrRunTimeout, run_timeout event) and
// the pipeline's eventual settlement has no further effect on delivery
// decisions. Unhandled pipeline errors are emitted as run_errored and
// re-propagated to the caller; the channel adapter decides user-visible
// failure behavior.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg *Memory, cb Callback) error {
	// No self-reply loops: messages authored by this agent are dropped
	// before any persistence or tracking.
	if msg.EntityID == o.rt.AgentID {
		o.logger.Debug("skipping message from self", "message_id", msg.ID.String())
		return nil
	}

	run := &Run{
		ID:        uuid.New(),
		AgentID:   o.rt.AgentID,
		RoomID:    msg.RoomID,
		MessageID: msg.ID,
		StartedAt: time.Now(),
	}
	o.rt.Events.Emit(Event{
		Type:  EventRunStarted,
		RunID: run.ID.String(),
		Data:  map[string]any{"room_id": run.RoomID.String(), "message_id": run.MessageID.String()},
	})
	defer o.rt.Events.ForgetRun(run.ID.String())

	done := make(chan error, 1)
	go func() {
		done <- o.process(ctx, run, msg, cb)
	}()

	timer := time.NewTimer(o.runTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		elapsed := time.Since(run.StartedAt)
		if err != nil {
			run.Status = RunErrored
			run.Error = err.Error()
			o.rt.Events.Emit(Event{
				Type:  EventRunErrored,
				RunID: run.ID.String(),
				Data:  map[string]any{"error": run.Error, "elapsed_ms": elapsed.Milliseconds()},
			})
			return err
		}
		run.Status = RunCompleted
		o.rt.Events.Emit(Event{
			Type:  EventRunEnded,
			RunID: run.ID.String(),
			Data:  map[string]any{"status": string(run.Status), "elapsed_ms": elapsed.Milliseconds()},
		})
		return nil

	case <-timer.C:
		// Abandon the run. The pipeline goroutine keeps going; already
		// committed side effects are not rolled back.
		run.Status = RunTimedOut
		o.rt.Events.Emit(Event{
			Type:  EventRunTimeout,
			RunID: run.ID.String(),
			Data:  map[string]any{"timeout_s": int(o.runTimeout.Seconds())},
		})
		o.logger.Warn("run timed out, abandoning",
			"run_id", run.ID.String(),
			"room_id", run.RoomID.String(),
			"timeout_s", int(o.runTimeout.Seconds()),
		)
		return fmt.Errorf("%w after %s", ErrRunTimeout, o.runTimeout)
	}
}

// process runs PERSISTED → DECIDING → (RESPONDING | IGNORING) → ACTING
// → EVALUATING.
func (o *Orchestrator) process(ctx context.Context, run *Run, msg *Memory, cb Callback) error {
	rt := o.rt

	// ── Persist the inbound message ──
	// Never skipped, even when the agent will ignore the message: other
	// participants' later context composition depends on full history.
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.AgentID == uuid.Nil {
		msg.AgentID = rt.AgentID
	}
	if msg.Kind == "" {
		msg.Kind = KindMessage
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := rt.Memories.CreateMemory(ctx, msg); err != nil {
		if errors.Is(err, ErrDuplicateMemory) {
			// Reaction dedup collision: idempotent no-op.
			o.logger.Debug("duplicate memory, continuing", "message_id", msg.ID.String())
		} else {
			return fmt.Errorf("persist message: %w", err)
		}
	}
	if err := rt.Memories.AddEmbedding(ctx, msg); err != nil {
		// Retrieval degrades without the vector; the turn still proceeds.
		o.logger.Warn("embedding failed", "message_id", msg.ID.String(), "error", err)
	}

	// ── Freshness: this generation is now the live one for the room ──
	responseID := rt.Tracker.Begin(rt.AgentID, msg.RoomID)
	// Clear the slot only while this run still owns it. The conditional
	// removal must be atomic; see EndIf.
	defer rt.Tracker.EndIf(rt.AgentID, msg.RoomID, responseID)

	// ── Decide whether to respond ──
	decisionState := rt.ComposeState(ctx, msg, shouldRespondProviders)
	prompt := RenderPrompt(decisionState, rt.ResolveTemplate(TemplateShouldRespond))
	raw, err := rt.Model.UseModel(ctx, ModelSmall, prompt)
	if err != nil {
		return fmt.Errorf("should-respond model call: %w", err)
	}
	decision := parseDecision(raw)

	o.logger.Debug("should-respond decision",
		"run_id", run.ID.String(),
		"action", decision.Action,
		"extra_providers", decision.Providers,
	)

	didRespond := false
	evalState := decisionState
	var responses []*Memory

	if decision.Action == DecisionRespond {
		// ── Compose full state and generate the reply ──
		include := append(append([]string{}, messageProviders...), decision.Providers...)
		fullState := rt.ComposeState(ctx, msg, include)
		evalState = fullState

		content, err := o.generateResponse(ctx, fullState)
		if err != nil {
			return fmt.Errorf("generate response: %w", err)
		}
		content.InReplyTo = msg.ID
		content.Source = msg.Content.Source

		// ── Freshness gate, immediately before commit ──
		// A newer message in this room supersedes us: discard the
		// generated content without delivering, but still run the
		// evaluators for bookkeeping.
		if !rt.Tracker.IsCurrent(rt.AgentID, msg.RoomID, responseID) {
			o.logger.Info("response superseded by newer message, discarding",
				"run_id", run.ID.String(),
				"room_id", msg.RoomID.String(),
			)
			rt.Events.Emit(Event{
				Type:  EventResponseDiscarded,
				RunID: run.ID.String(),
				Data:  map[string]any{"room_id": msg.RoomID.String()},
			})
		} else {
			respMem := &Memory{
				ID:         uuid.New(),
				RoomID:     msg.RoomID,
				EntityID:   rt.AgentID,
				EntityName: rt.Character.Name,
				AgentID:    rt.AgentID,
				Kind:       KindMessage,
				Content:    *content,
				CreatedAt:  time.Now(),
			}
			if err := rt.Memories.CreateMemory(ctx, respMem); err != nil && !errors.Is(err, ErrDuplicateMemory) {
				return fmt.Errorf("persist response: %w", err)
			}
			if err := rt.Memories.AddEmbedding(ctx, respMem); err != nil {
				o.logger.Warn("response embedding failed", "error", err)
			}
			responses = append(responses, respMem)

			// ── Dispatch the chosen actions ──
			rt.ProcessActions(ctx, msg, responses, fullState, cb)
			didRespond = true
		}
	} else if decision.Action == DecisionStop {
		o.logger.Info("agent asked to stop responding in room",
			"room_id", msg.RoomID.String(),
		)
	}

	// ── Evaluators run whether or not a reply was delivered ──
	rt.Evaluate(ctx, msg, evalState, didRespond, cb, responses)

	return nil
}

// generateResponse prompts the large model and parses the structured
// reply, retrying up to maxResponseAttempts when required fields
// (thought plus text-or-actions) are missing. When retries are
// exhausted it degrades to a text-only reply from the last raw output
// rather than aborting the turn.
func (o *Orchestrator) generateResponse(ctx context.Context, st *State) (*Content, error) {
	tmpl := o.rt.ResolveTemplate(TemplateMessageHandler)

	var lastRaw string
	for attempt := 1; attempt <= o.maxResponseAttempts; attempt++ {
		prompt := RenderPrompt(st, tmpl)
		raw, err := o.rt.Model.UseModel(ctx, ModelLarge, prompt)
		if err != nil {
			// Transport failure: not retried here (the bounded retry is
			// for malformed output only).
			return nil, err
		}
		lastRaw = raw

		content := parseResponseContent(raw)
		if content != nil && hasRequiredFields(content) {
			return content, nil
		}
		o.logger.Warn("model response missing required fields, retrying",
			"attempt", attempt,
			"max_attempts", o.maxResponseAttempts,
		)
	}

	// Degraded best-effort reply: deliver the raw text instead of silence.
	o.logger.Warn("structured-output retries exhausted, degrading to plain text")
	return &Content{
		Text:    strings.TrimSpace(stripCodeFences(lastRaw)),
		Actions: []string{ActionReply},
	}, nil
}

// decision is the parsed output of the should-respond call.
type decision struct {
	Action    string
	Providers []string
}

// parseDecision extracts the routing decision. Anything unparseable or
// unknown defaults to IGNORE: an unreadable decision must not produce a
// reply.
func parseDecision(raw string) decision {
	d := decision{Action: DecisionIgnore}

	parsed, ok := ParseStructuredResponse(raw).(map[string]any)
	if !ok {
		return d
	}

	if action, ok := parsed["action"].(string); ok {
		switch strings.ToUpper(strings.TrimSpace(action)) {
		case DecisionRespond:
			d.Action = DecisionRespond
		case DecisionStop:
			d.Action = DecisionStop
		case DecisionIgnore:
			d.Action = DecisionIgnore
		}
	}
	d.Providers = stringSlice(parsed["providers"])
	return d
}

// parseResponseContent maps the parsed reply JSON onto a Content.
// Returns nil when no structured object could be recovered.
func parseResponseContent(raw string) *Content {
	parsed, ok := ParseStructuredResponse(raw).(map[string]any)
	if !ok {
		return nil
	}

	c := &Content{}
	if v, ok := parsed["thought"].(string); ok {
		c.Thought = v
	}
	if v, ok := parsed["text"].(string); ok {
		c.Text = v
	}
	for _, a := range stringSlice(parsed["actions"]) {
		c.Actions = append(c.Actions, strings.ToUpper(a))
	}
	c.Providers = stringSlice(parsed["providers"])

	// A textual reply with no explicit action list implies REPLY.
	if len(c.Actions) == 0 && c.Text != "" {
		c.Actions = []string{ActionReply}
	}
	return c
}

// hasRequiredFields is the required-field predicate for the bounded
// retry loop: a thought plus either text or at least one action.
func hasRequiredFields(c *Content) bool {
	return c.Thought != "" && (c.Text != "" || len(c.Actions) > 0)
}

// stringSlice coerces a parsed JSON value into a string slice.
func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// stripCodeFences removes markdown code fences from degraded fallback text.
func stripCodeFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	return strings.ReplaceAll(s, "```", "")
}
