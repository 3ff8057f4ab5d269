package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// blockingModel parks every call until release is closed.
type blockingModel struct {
	release chan struct{}
}

func (m *blockingModel) UseModel(ctx context.Context, class ModelClass, prompt string) (string, error) {
	<-m.release
	return "", nil
}

func newTestOrchestrator(t *testing.T, model ModelCaller, cfg OrchestratorConfig) (*Orchestrator, *Runtime, *memStore) {
	t.Helper()
	rt, store := newTestRuntime(t, model)
	return NewOrchestrator(rt, cfg), rt, store
}

// registerReply wires a minimal REPLY action that delivers resp.Text
// through the callback and records deliveries.
func registerReply(t *testing.T, rt *Runtime, delivered *[]string) {
	t.Helper()
	var mu sync.Mutex
	mustRegister(t, rt.RegisterAction(&Action{
		Name: ActionReply,
		Handler: func(ctx context.Context, rt *Runtime, msg *Memory, st *State, resp *Content, cb Callback) error {
			mu.Lock()
			*delivered = append(*delivered, resp.Text)
			mu.Unlock()
			if cb != nil {
				return cb(ctx, resp)
			}
			return nil
		},
	}))
}

func inboundMessage(roomID uuid.UUID) *Memory {
	return &Memory{
		ID:       uuid.New(),
		RoomID:   roomID,
		EntityID: uuid.New(),
		Kind:     KindMessage,
		Content:  Content{Text: "hey, anyone around?"},
	}
}

func TestHandleMessageIgnoresOwnMessages(t *testing.T) {
	orch, rt, store := newTestOrchestrator(t, &scriptedModel{}, OrchestratorConfig{})

	msg := inboundMessage(uuid.New())
	msg.EntityID = rt.AgentID

	if err := orch.HandleMessage(context.Background(), msg, nil); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if store.count() != 0 {
		t.Error("self-authored messages must not be persisted")
	}
}

func TestHandleMessageIgnoreDecision(t *testing.T) {
	model := &scriptedModel{small: []string{`{"action": "IGNORE"}`}}
	orch, rt, store := newTestOrchestrator(t, model, OrchestratorConfig{})

	var evaluated []bool
	mustRegister(t, rt.RegisterEvaluator(&Evaluator{
		Name: "witness",
		Handler: func(ctx context.Context, rt *Runtime, msg *Memory, st *State, didRespond bool, responses []*Memory, cb Callback) error {
			evaluated = append(evaluated, didRespond)
			return nil
		},
	}))

	if err := orch.HandleMessage(context.Background(), inboundMessage(uuid.New()), nil); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if store.count() != 1 {
		t.Errorf("ignored messages are still persisted once, got %d memories", store.count())
	}
	if _, large := model.calls(); large != 0 {
		t.Errorf("IGNORE must not reach the large model, got %d calls", large)
	}
	if len(evaluated) != 1 || evaluated[0] {
		t.Errorf("evaluators should run with didRespond=false: %v", evaluated)
	}
}

func TestHandleMessageRespondEndToEnd(t *testing.T) {
	model := &scriptedModel{
		small: []string{`{"action": "RESPOND"}`},
		large: []string{`{"thought": "greet back", "text": "hello!", "actions": ["REPLY"]}`},
	}
	orch, rt, store := newTestOrchestrator(t, model, OrchestratorConfig{})

	var delivered []string
	registerReply(t, rt, &delivered)

	var cbTexts []string
	cb := func(ctx context.Context, content *Content) error {
		cbTexts = append(cbTexts, content.Text)
		return nil
	}

	msg := inboundMessage(uuid.New())
	if err := orch.HandleMessage(context.Background(), msg, cb); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if store.count() != 2 {
		t.Errorf("expected inbound plus response persisted, got %d", store.count())
	}
	if len(delivered) != 1 || delivered[0] != "hello!" {
		t.Errorf("REPLY action should run once with the generated text: %v", delivered)
	}
	if len(cbTexts) != 1 || cbTexts[0] != "hello!" {
		t.Errorf("callback should deliver the reply: %v", cbTexts)
	}

	// The response memory is attributed to the agent and linked back.
	var respMem *Memory
	for _, m := range store.byKind(KindMessage) {
		if m.EntityID == rt.AgentID {
			respMem = m
		}
	}
	if respMem == nil {
		t.Fatal("no agent-authored response memory persisted")
	}
	if respMem.Content.InReplyTo != msg.ID {
		t.Error("response should reference the inbound message")
	}
	if respMem.EntityName != "Testa" {
		t.Errorf("response should carry the character name, got %q", respMem.EntityName)
	}
}

func TestHandleMessageRetriesOnMissingFields(t *testing.T) {
	model := &scriptedModel{
		small: []string{`{"action": "RESPOND"}`},
		large: []string{
			`{"text": "no thought here"}`,
			`{"thought": "second try", "text": "got it"}`,
		},
	}
	orch, rt, _ := newTestOrchestrator(t, model, OrchestratorConfig{})

	var delivered []string
	registerReply(t, rt, &delivered)

	if err := orch.HandleMessage(context.Background(), inboundMessage(uuid.New()), nil); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if _, large := model.calls(); large != 2 {
		t.Errorf("expected one retry after missing fields, got %d large calls", large)
	}
	if len(delivered) != 1 || delivered[0] != "got it" {
		t.Errorf("retry result should be delivered: %v", delivered)
	}
}

func TestHandleMessageDegradedFallback(t *testing.T) {
	model := &scriptedModel{
		small: []string{`{"action": "RESPOND"}`},
		large: []string{"```json\nnot even close to valid\n```"},
	}
	orch, rt, _ := newTestOrchestrator(t, model, OrchestratorConfig{MaxResponseAttempts: 3})

	var delivered []string
	registerReply(t, rt, &delivered)

	if err := orch.HandleMessage(context.Background(), inboundMessage(uuid.New()), nil); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if _, large := model.calls(); large != 3 {
		t.Errorf("retries should be exhausted, got %d large calls", large)
	}
	if len(delivered) != 1 || delivered[0] != "not even close to valid" {
		t.Errorf("fallback should deliver the raw text without fences: %v", delivered)
	}
}

func TestHandleMessageDiscardsStaleResponse(t *testing.T) {
	roomID := uuid.New()

	model := &scriptedModel{
		small: []string{`{"action": "RESPOND"}`},
		large: []string{`{"thought": "late", "text": "stale reply"}`},
	}
	orch, rt, store := newTestOrchestrator(t, model, OrchestratorConfig{})

	// A newer message arrives mid-generation, superseding this run.
	var newerID uuid.UUID
	model.onCall = func(class ModelClass) {
		if class == ModelLarge {
			newerID = rt.Tracker.Begin(rt.AgentID, roomID)
		}
	}

	var delivered []string
	registerReply(t, rt, &delivered)

	var discarded []Event
	var mu sync.Mutex
	unsubscribe := rt.Events.Subscribe(func(e Event) {
		if e.Type == EventResponseDiscarded {
			mu.Lock()
			discarded = append(discarded, e)
			mu.Unlock()
		}
	})
	defer unsubscribe()

	var evaluated []bool
	mustRegister(t, rt.RegisterEvaluator(&Evaluator{
		Name: "witness",
		Handler: func(ctx context.Context, rt *Runtime, msg *Memory, st *State, didRespond bool, responses []*Memory, cb Callback) error {
			evaluated = append(evaluated, didRespond)
			return nil
		},
	}))

	if err := orch.HandleMessage(context.Background(), inboundMessage(roomID), nil); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if len(delivered) != 0 {
		t.Errorf("superseded response must not be delivered: %v", delivered)
	}
	if store.count() != 1 {
		t.Errorf("superseded response must not be persisted, got %d memories", store.count())
	}
	mu.Lock()
	n := len(discarded)
	mu.Unlock()
	if n != 1 {
		t.Errorf("expected one response_discarded event, got %d", n)
	}
	if len(evaluated) != 1 || evaluated[0] {
		t.Errorf("evaluators still run after a discard, with didRespond=false: %v", evaluated)
	}
	// The superseded run's teardown must leave the newer generation live.
	if !rt.Tracker.IsCurrent(rt.AgentID, roomID, newerID) {
		t.Error("older run's teardown must not clear the newer generation's id")
	}
}

func TestHandleMessageUnparseableDecisionIgnores(t *testing.T) {
	model := &scriptedModel{small: []string{"hmm, let me think about that"}}
	orch, _, store := newTestOrchestrator(t, model, OrchestratorConfig{})

	if err := orch.HandleMessage(context.Background(), inboundMessage(uuid.New()), nil); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if _, large := model.calls(); large != 0 {
		t.Error("an unreadable decision must not produce a reply")
	}
	if store.count() != 1 {
		t.Errorf("inbound message should still be persisted, got %d", store.count())
	}
}

func TestHandleMessageTimeout(t *testing.T) {
	model := &blockingModel{release: make(chan struct{})}
	defer close(model.release)

	orch, _, _ := newTestOrchestrator(t, model, OrchestratorConfig{RunTimeoutSeconds: 1})

	err := orch.HandleMessage(context.Background(), inboundMessage(uuid.New()), nil)
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("expected ErrRunTimeout, got %v", err)
	}
}

func TestHandleMessageEmitsRunEvents(t *testing.T) {
	model := &scriptedModel{small: []string{`{"action": "IGNORE"}`}}
	orch, rt, _ := newTestOrchestrator(t, model, OrchestratorConfig{})

	var mu sync.Mutex
	var types []EventType
	unsubscribe := rt.Events.Subscribe(func(e Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	})
	defer unsubscribe()

	if err := orch.HandleMessage(context.Background(), inboundMessage(uuid.New()), nil); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(types) < 2 || types[0] != EventRunStarted || types[len(types)-1] != EventRunEnded {
		t.Errorf("expected run_started .. run_ended, got %v", types)
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"respond", `{"action": "RESPOND"}`, DecisionRespond},
		{"lowercase", `{"action": "respond"}`, DecisionRespond},
		{"stop", `{"action": "STOP"}`, DecisionStop},
		{"unknown action", `{"action": "DANCE"}`, DecisionIgnore},
		{"missing action", `{"providers": ["facts"]}`, DecisionIgnore},
		{"prose", "sure, I'll respond", DecisionIgnore},
		{"empty", "", DecisionIgnore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseDecision(tt.raw); got.Action != tt.want {
				t.Errorf("parseDecision(%q).Action = %q, want %q", tt.raw, got.Action, tt.want)
			}
		})
	}

	d := parseDecision(`{"action": "RESPOND", "providers": ["facts", "entities"]}`)
	if len(d.Providers) != 2 || d.Providers[0] != "facts" {
		t.Errorf("providers not extracted: %v", d.Providers)
	}
}

func TestParseResponseContent(t *testing.T) {
	c := parseResponseContent(`{"thought": "t", "text": "hi"}`)
	if c == nil || c.Text != "hi" || c.Thought != "t" {
		t.Fatalf("unexpected content: %+v", c)
	}
	if len(c.Actions) != 1 || c.Actions[0] != ActionReply {
		t.Errorf("text without actions should imply REPLY, got %v", c.Actions)
	}

	c = parseResponseContent(`{"thought": "t", "actions": ["reply", "mute_room"]}`)
	if len(c.Actions) != 2 || c.Actions[0] != "REPLY" || c.Actions[1] != "MUTE_ROOM" {
		t.Errorf("actions should be upper-cased: %v", c.Actions)
	}

	if parseResponseContent("no structure at all") != nil {
		t.Error("prose should yield nil content")
	}
}

func TestStripCodeFences(t *testing.T) {
	got := strings.TrimSpace(stripCodeFences("```json\n{\"a\": 1}\n```"))
	if got != `{"a": 1}` {
		t.Errorf("got %q", got)
	}
}
