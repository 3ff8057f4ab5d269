// Package runtime – bootstrap.go registers the built-in provider,
// action and evaluator set. Surrounding wiring code may register more
// (or skip this entirely for a custom agent), but every stock agent
// starts from these.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Built-in provider names.
const (
	ProviderCharacter      = "character"
	ProviderTime           = "time"
	ProviderEntities       = "entities"
	ProviderRecentMessages = "recentMessages"
	ProviderAttachments    = "attachments"
	ProviderFacts          = "facts"
)

// Built-in action names.
const (
	ActionReply  = "REPLY"
	ActionIgnore = "IGNORE"
	ActionNone   = "NONE"
)

// recentMessageLimit is how much room history the recent-messages
// provider loads per composition.
const recentMessageLimit = 20

// factSearchLimit caps the facts provider's retrieval.
const factSearchLimit = 8

// RegisterBootstrap installs the built-in providers, actions and
// evaluators. Provider order matters: recentMessages must precede
// anything reading its fragment, and facts is private (runs only when
// the decision step asks for it).
func (r *Runtime) RegisterBootstrap() error {
	providers := []*Provider{
		characterProvider(),
		timeProvider(),
		entitiesProvider(),
		recentMessagesProvider(),
		attachmentsProvider(),
		factsProvider(),
	}
	for _, p := range providers {
		if err := r.RegisterProvider(p); err != nil {
			return err
		}
	}

	actions := []*Action{replyAction(), ignoreAction(), noneAction()}
	for _, a := range actions {
		if err := r.RegisterAction(a); err != nil {
			return err
		}
	}

	return r.RegisterEvaluator(reflectionEvaluator())
}

// characterProvider contributes the agent identity values every
// template depends on.
func characterProvider() *Provider {
	return &Provider{
		Name:        ProviderCharacter,
		Description: "Agent identity, bio and style",
		Get: func(ctx context.Context, rt *Runtime, msg *Memory, st *State) (*ProviderResult, error) {
			ch := rt.Character
			return &ProviderResult{
				Values: map[string]string{
					"agentName":     ch.Name,
					"system":        ch.System,
					"bio":           ch.BioText(),
					"style":         ch.StyleText(),
					"examples":      ch.ExamplesText(),
					"actionNames":   rt.ActionNames(),
					"providerNames": rt.ProviderNames(),
				},
			}, nil
		},
	}
}

// timeProvider contributes the current wall-clock time.
func timeProvider() *Provider {
	return &Provider{
		Name:        ProviderTime,
		Description: "Current date and time",
		Get: func(ctx context.Context, rt *Runtime, msg *Memory, st *State) (*ProviderResult, error) {
			now := time.Now()
			return &ProviderResult{
				Text:   "The current date and time is " + now.Format(time.RFC1123) + ".",
				Values: map[string]string{"time": now.Format(time.RFC1123)},
				Data:   now,
			}, nil
		},
	}
}

// entitiesProvider lists the room's participants by display name.
func entitiesProvider() *Provider {
	return &Provider{
		Name:        ProviderEntities,
		Description: "Participants present in the room",
		Get: func(ctx context.Context, rt *Runtime, msg *Memory, st *State) (*ProviderResult, error) {
			names, err := rt.Memories.Participants(ctx, msg.RoomID)
			if err != nil {
				return nil, fmt.Errorf("list participants: %w", err)
			}
			joined := strings.Join(names, ", ")
			return &ProviderResult{
				Values: map[string]string{"entities": joined},
				Data:   names,
			}, nil
		},
	}
}

// recentMessagesProvider renders the room history as dialogue text.
// Providers that need this fragment must be registered after it.
func recentMessagesProvider() *Provider {
	return &Provider{
		Name:        ProviderRecentMessages,
		Description: "Recent conversation history",
		Get: func(ctx context.Context, rt *Runtime, msg *Memory, st *State) (*ProviderResult, error) {
			memories, err := rt.Memories.RecentMemories(ctx, msg.RoomID, recentMessageLimit)
			if err != nil {
				return nil, fmt.Errorf("load recent messages: %w", err)
			}
			rendered := formatMessages(memories, rt.Character.Name)
			return &ProviderResult{
				Values: map[string]string{"recentMessages": rendered},
				Data:   memories,
			}, nil
		},
	}
}

// attachmentsProvider describes media attached to the inbound message.
func attachmentsProvider() *Provider {
	return &Provider{
		Name:        ProviderAttachments,
		Description: "Attachments on the current message",
		Get: func(ctx context.Context, rt *Runtime, msg *Memory, st *State) (*ProviderResult, error) {
			if len(msg.Content.Attachments) == 0 {
				return &ProviderResult{}, nil
			}
			lines := make([]string, 0, len(msg.Content.Attachments))
			for _, a := range msg.Content.Attachments {
				desc := a.ContentType
				if a.Title != "" {
					desc += " " + a.Title
				}
				if a.URL != "" {
					desc += " (" + a.URL + ")"
				}
				lines = append(lines, "- "+strings.TrimSpace(desc))
			}
			text := "The current message has attachments:\n" + strings.Join(lines, "\n")
			return &ProviderResult{
				Text:   text,
				Values: map[string]string{"attachments": strings.Join(lines, "\n")},
				Data:   msg.Content.Attachments,
			}, nil
		},
	}
}

// factsProvider retrieves long-term facts relevant to the message.
// Private: it performs a store search per call, so it only runs when
// the decision step explicitly requests it.
func factsProvider() *Provider {
	return &Provider{
		Name:        ProviderFacts,
		Description: "Long-term facts about the participants",
		Private:     true,
		Get: func(ctx context.Context, rt *Runtime, msg *Memory, st *State) (*ProviderResult, error) {
			facts, err := rt.Memories.SearchFacts(ctx, msg.RoomID, msg.Content.Text, factSearchLimit)
			if err != nil {
				return nil, fmt.Errorf("search facts: %w", err)
			}
			if len(facts) == 0 {
				return &ProviderResult{}, nil
			}
			lines := make([]string, 0, len(facts))
			for _, f := range facts {
				lines = append(lines, "- "+f.Content.Text)
			}
			return &ProviderResult{
				Text:   "Known facts:\n" + strings.Join(lines, "\n"),
				Values: map[string]string{"facts": strings.Join(lines, "\n")},
				Data:   facts,
			}, nil
		},
	}
}

// replyAction delivers the generated content through the callback.
// This is the single path by which text reaches the user.
func replyAction() *Action {
	return &Action{
		Name:        ActionReply,
		Description: "Send the generated text to the room",
		Handler: func(ctx context.Context, rt *Runtime, msg *Memory, st *State, resp *Content, cb Callback) error {
			if cb == nil {
				return nil
			}
			if strings.TrimSpace(resp.Text) == "" {
				rt.logger.Debug("reply action with empty text, skipping delivery")
				return nil
			}
			return cb(ctx, resp)
		},
	}
}

// ignoreAction is the model's explicit choice of silence.
func ignoreAction() *Action {
	return &Action{
		Name:        ActionIgnore,
		Description: "Deliberately do not reply",
		Handler: func(ctx context.Context, rt *Runtime, msg *Memory, st *State, resp *Content, cb Callback) error {
			rt.logger.Debug("ignore action chosen", "room_id", msg.RoomID.String())
			return nil
		},
	}
}

// noneAction is a no-op placeholder for responses that only carry thought.
func noneAction() *Action {
	return &Action{
		Name:        ActionNone,
		Description: "No side effect",
		Handler: func(ctx context.Context, rt *Runtime, msg *Memory, st *State, resp *Content, cb Callback) error {
			return nil
		},
	}
}

// reflectionEvaluator extracts durable facts from the conversation
// after each turn, whether or not a reply was sent, and stores them as
// fact memories for the facts provider to retrieve later.
func reflectionEvaluator() *Evaluator {
	return &Evaluator{
		Name:        "reflection",
		Description: "Extract long-term facts from the conversation",
		Handler: func(ctx context.Context, rt *Runtime, msg *Memory, st *State, didRespond bool, responses []*Memory, cb Callback) error {
			prompt := RenderPrompt(st, rt.ResolveTemplate(TemplateReflection))
			raw, err := rt.Model.UseModel(ctx, ModelSmall, prompt)
			if err != nil {
				return fmt.Errorf("reflection model call: %w", err)
			}

			facts, ok := ParseStructuredResponse(raw).([]any)
			if !ok {
				return nil
			}

			stored := 0
			for _, f := range facts {
				text, ok := f.(string)
				if !ok || strings.TrimSpace(text) == "" {
					continue
				}
				fact := &Memory{
					ID:        uuid.New(),
					RoomID:    msg.RoomID,
					EntityID:  rt.AgentID,
					AgentID:   rt.AgentID,
					Kind:      KindFact,
					Content:   Content{Text: strings.TrimSpace(text)},
					CreatedAt: time.Now(),
				}
				if err := rt.Memories.CreateMemory(ctx, fact); err != nil {
					// Duplicate facts are benign; anything else is logged
					// by the evaluator runner.
					continue
				}
				if err := rt.Memories.AddEmbedding(ctx, fact); err != nil {
					rt.logger.Warn("fact embedding failed", "error", err)
				}
				stored++
			}
			if stored > 0 {
				rt.logger.Debug("reflection stored facts", "count", stored)
			}
			return nil
		},
	}
}
