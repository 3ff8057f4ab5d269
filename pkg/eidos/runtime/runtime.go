// Package runtime implements the Eidos agent core: provider-based state
// composition, prompt rendering, structured response parsing, action
// dispatch, evaluators and the message orchestration loop that ties
// them together. Platform connectors, storage and the model API are
// external collaborators consumed through narrow interfaces.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/provolt/eidos/pkg/eidos/character"
)

// ModelClass selects a model tier for a call.
type ModelClass string

const (
	// ModelSmall is the cheap tier used for routing decisions.
	ModelSmall ModelClass = "small"

	// ModelLarge is the tier used for reply generation.
	ModelLarge ModelClass = "large"
)

// ModelCaller is the model API collaborator. Calls may fail
// transiently; the runtime does not retry transport failures beyond
// the bounded structured-output retry in the orchestrator.
type ModelCaller interface {
	UseModel(ctx context.Context, class ModelClass, prompt string) (string, error)
}

// Embedder computes embedding vectors for retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Runtime owns the registries and collaborators for one agent. The
// registries are populated at wiring time and read-mostly afterwards;
// they require no locking of their own.
type Runtime struct {
	// AgentID identifies this agent in memories and the tracker.
	AgentID uuid.UUID

	// Character is the loaded persona.
	Character *character.Character

	// Model is the LLM collaborator.
	Model ModelCaller

	// Memories is the persistence collaborator.
	Memories MemoryStore

	// Events is the lifecycle event bus.
	Events *EventBus

	// Tracker gates delivery of concurrent generations per room. It is
	// keyed by agent id, so independent agents sharing one tracker
	// cannot collide.
	Tracker *ResponseTracker

	providers     []*Provider
	providerIndex map[string]*Provider
	actionIndex   map[string]*Action
	actionOrder   []string
	evaluators    []*Evaluator

	logger *slog.Logger
}

// New creates a runtime for one agent. The bootstrap provider/action/
// evaluator set is NOT registered here; call RegisterBootstrap (or
// register a custom set) before handling messages.
func New(agentID uuid.UUID, ch *character.Character, model ModelCaller, store MemoryStore, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if ch == nil {
		ch = character.Default()
	}
	return &Runtime{
		AgentID:       agentID,
		Character:     ch,
		Model:         model,
		Memories:      store,
		Events:        NewEventBus(),
		Tracker:       NewResponseTracker(),
		providerIndex: make(map[string]*Provider),
		actionIndex:   make(map[string]*Action),
		logger:        logger.With("component", "runtime", "agent", ch.Name),
	}
}

// Logger exposes the runtime's logger for handlers.
func (r *Runtime) Logger() *slog.Logger {
	return r.logger
}

// RegisterProvider appends a provider. Registration order is a
// contract: a provider reading another's fragment must be registered
// after it (or tolerate absence).
func (r *Runtime) RegisterProvider(p *Provider) error {
	if p == nil || p.Name == "" || p.Get == nil {
		return fmt.Errorf("provider requires a name and a Get func")
	}
	if _, exists := r.providerIndex[p.Name]; exists {
		return fmt.Errorf("provider %q already registered", p.Name)
	}
	r.providers = append(r.providers, p)
	r.providerIndex[p.Name] = p
	return nil
}

// RegisterAction adds an action to the dispatch registry.
func (r *Runtime) RegisterAction(a *Action) error {
	if a == nil || a.Name == "" || a.Handler == nil {
		return fmt.Errorf("action requires a name and a handler")
	}
	if _, exists := r.actionIndex[a.Name]; exists {
		return fmt.Errorf("action %q already registered", a.Name)
	}
	r.actionIndex[a.Name] = a
	r.actionOrder = append(r.actionOrder, a.Name)
	return nil
}

// RegisterEvaluator appends an evaluator; they run in registration order.
func (r *Runtime) RegisterEvaluator(ev *Evaluator) error {
	if ev == nil || ev.Name == "" || ev.Handler == nil {
		return fmt.Errorf("evaluator requires a name and a handler")
	}
	for _, existing := range r.evaluators {
		if existing.Name == ev.Name {
			return fmt.Errorf("evaluator %q already registered", ev.Name)
		}
	}
	r.evaluators = append(r.evaluators, ev)
	return nil
}

// ActionNames lists registered actions in registration order, for
// prompt templates.
func (r *Runtime) ActionNames() string {
	return strings.Join(r.actionOrder, ", ")
}

// ProviderNames renders the provider registry as "name: description"
// lines for templates that let the model request extra context. Private
// providers are included: an explicit request is the only way they run.
func (r *Runtime) ProviderNames() string {
	var b strings.Builder
	for _, p := range r.providers {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- " + p.Name)
		if p.Description != "" {
			b.WriteString(": " + p.Description)
		}
	}
	return b.String()
}
