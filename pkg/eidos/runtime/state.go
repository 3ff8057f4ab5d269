// Package runtime – state.go implements provider-based state composition.
// A State is the ephemeral, per-invocation context assembled from named
// providers and consumed by prompt templates. It is rebuilt on every
// orchestration step and never persisted.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// perProviderTimeout caps a single provider's execution so one slow
// context source cannot stall message handling.
const perProviderTimeout = 10 * time.Second

// State is the composed context for one prompt-composition pass.
type State struct {
	// Values holds flat placeholder values for template substitution.
	Values map[string]string

	// Data holds structured per-provider fragments keyed by provider name.
	Data map[string]any

	// Text is the concatenation of all provider text fragments, in
	// composition order.
	Text string
}

// NewState returns an empty state ready for composition.
func NewState() *State {
	return &State{
		Values: make(map[string]string),
		Data:   make(map[string]any),
	}
}

// Value returns a placeholder value, or "" when absent.
func (s *State) Value(key string) string {
	if s == nil {
		return ""
	}
	return s.Values[key]
}

// ProviderResult is one provider's contribution to a state.
type ProviderResult struct {
	// Text is prose injected into the composed state text.
	Text string

	// Values are flat placeholder values merged into State.Values.
	Values map[string]string

	// Data is an arbitrary structured fragment stored under the
	// provider's name.
	Data any
}

// ProviderFunc produces one context fragment. Providers run in
// registration order and may read fragments produced by earlier
// providers through the partial state; they must tolerate absence.
type ProviderFunc func(ctx context.Context, rt *Runtime, msg *Memory, st *State) (*ProviderResult, error)

// Provider is a named source of one context fragment.
type Provider struct {
	// Name keys the provider in the registry and in State.Data.
	Name string

	// Description is shown to the model when it may request providers.
	Description string

	// Private providers only run when explicitly requested by name,
	// never as part of the default set.
	Private bool

	// Get produces the fragment.
	Get ProviderFunc
}

// ComposeState builds a fresh state for msg from the provider registry.
//
// include selects providers by name; nil means every registered
// non-private provider, in registration order. Named private providers
// do run when explicitly included. A provider that fails contributes an
// empty fragment and a warning log; composition never aborts, so a
// misconfigured provider cannot block message handling. Every selected
// provider is invoked and merged before the state is returned.
func (r *Runtime) ComposeState(ctx context.Context, msg *Memory, include []string) *State {
	st := NewState()

	var selected []*Provider
	if include == nil {
		for _, p := range r.providers {
			if !p.Private {
				selected = append(selected, p)
			}
		}
	} else {
		// The include list may merge a fixed set with model-requested
		// extras; a name appearing twice still runs its provider once.
		seen := make(map[string]bool, len(include))
		for _, name := range include {
			if seen[name] {
				continue
			}
			seen[name] = true
			p, ok := r.providerIndex[name]
			if !ok {
				r.logger.Warn("unknown provider requested", "provider", name)
				continue
			}
			selected = append(selected, p)
		}
	}

	var text strings.Builder
	for _, p := range selected {
		res, err := r.runProvider(ctx, p, msg, st)
		if err != nil {
			r.logger.Warn("provider failed, continuing with empty fragment",
				"provider", p.Name,
				"error", err,
			)
			st.Data[p.Name] = nil
			continue
		}
		if res == nil {
			st.Data[p.Name] = nil
			continue
		}

		st.Data[p.Name] = res.Data
		for k, v := range res.Values {
			st.Values[k] = v
		}
		if res.Text != "" {
			if text.Len() > 0 {
				text.WriteString("\n\n")
			}
			text.WriteString(res.Text)
		}
	}

	st.Text = text.String()

	// Templates reference the composed fragments as {{providers}}.
	if _, ok := st.Values["providers"]; !ok {
		st.Values["providers"] = st.Text
	}
	return st
}

// runProvider invokes one provider with a per-provider timeout and
// panic isolation.
func (r *Runtime) runProvider(ctx context.Context, p *Provider, msg *Memory, st *State) (res *ProviderResult, err error) {
	pctx, cancel := context.WithTimeout(ctx, perProviderTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = fmt.Errorf("provider %q panicked: %v", p.Name, rec)
		}
	}()

	return p.Get(pctx, r, msg, st)
}
