// Package runtime – prompt.go renders composed state into model prompts.
// Templates use {{name}} placeholders resolved from state values;
// unmatched placeholders become empty strings because templates carry
// optional sections. A fixed set of generic {{user1}}..{{userN}}
// placeholders is filled with freshly generated random display names on
// every render, used to anonymize few-shot dialogue examples.
package runtime

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

// randomUserCount is how many generic user placeholders are filled per
// render. Names differ across calls and are never persisted.
const randomUserCount = 5

// Template is either a static string or a function computed from state
// before placeholder substitution. Func wins when both are set.
type Template struct {
	Text string
	Func func(st *State) string
}

// placeholderRe matches {{name}} style placeholders.
var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Random-name word lists for the anonymized example users.
var (
	nameAdjectives = []string{
		"Amber", "Brisk", "Cedar", "Dusty", "Ember",
		"Frosty", "Golden", "Hollow", "Ivory", "Jade",
		"Lunar", "Misty", "Noble", "Opal", "Quiet",
	}
	nameNouns = []string{
		"Falcon", "Harbor", "Juniper", "Lantern", "Meadow",
		"Otter", "Pine", "Raven", "Sparrow", "Thicket",
		"Willow", "Badger", "Comet", "Drift", "Fox",
	}
)

// RenderPrompt resolves tmpl against st and substitutes placeholders.
// Substitution is a single pass: values from the state first, then the
// generic user names, and anything still unmatched resolves to "".
func RenderPrompt(st *State, tmpl Template) string {
	text := tmpl.Text
	if tmpl.Func != nil {
		text = tmpl.Func(st)
	}
	if text == "" {
		return ""
	}

	users := randomUserNames()

	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		if st != nil {
			if v, ok := st.Values[key]; ok {
				return v
			}
		}
		if v, ok := users[key]; ok {
			return v
		}
		return ""
	})
}

// randomUserNames generates one display name per generic placeholder.
// Stable within a render call, different across calls.
func randomUserNames() map[string]string {
	users := make(map[string]string, randomUserCount)
	for i := 1; i <= randomUserCount; i++ {
		adj := nameAdjectives[rand.IntN(len(nameAdjectives))]
		noun := nameNouns[rand.IntN(len(nameNouns))]
		users["user"+strconv.Itoa(i)] = adj + " " + noun
	}
	return users
}

// formatMessages renders a memory slice as "Name: text" lines for the
// recent-messages provider.
func formatMessages(memories []*Memory, agentName string) string {
	var b strings.Builder
	for _, m := range memories {
		name := m.EntityName
		if name == "" {
			if m.EntityID == m.AgentID {
				name = agentName
			} else {
				name = "User"
			}
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(m.Content.Text)
	}
	return b.String()
}
