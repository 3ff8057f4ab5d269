// Package character loads and merges agent character definitions.
// A character file is a yaml document describing who the agent is:
// name, system prompt, bio lines, style guidance, example dialogue and
// optional prompt template overrides. Schema validation beyond yaml
// decoding is out of scope; unknown fields are ignored.
package character

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Character describes an agent persona.
type Character struct {
	// Name is the agent's display name.
	Name string `yaml:"name"`

	// System is the base system prompt fragment.
	System string `yaml:"system"`

	// Bio lines describe the agent; rendered one per line in prompts.
	Bio []string `yaml:"bio"`

	// Style holds phrasing guidance.
	Style Style `yaml:"style"`

	// Examples are few-shot dialogue snippets. Speaker names are
	// anonymized at render time with the generic user placeholders.
	Examples [][]ExampleLine `yaml:"examples"`

	// Templates overrides built-in prompt templates by registry key
	// (shouldRespond, messageHandler, reflection).
	Templates map[string]string `yaml:"templates"`

	// Models picks the model names per class.
	Models Models `yaml:"models"`
}

// Style holds phrasing guidance split by context.
type Style struct {
	// All applies everywhere.
	All []string `yaml:"all"`

	// Chat applies to conversational replies.
	Chat []string `yaml:"chat"`
}

// ExampleLine is one turn of an example dialogue.
type ExampleLine struct {
	// User is a placeholder speaker ("user1", "user2") or the literal
	// agent name.
	User string `yaml:"user"`
	Text string `yaml:"text"`
}

// Models maps model classes to provider model names.
type Models struct {
	// Small is used for cheap decisions (should-respond).
	Small string `yaml:"small"`

	// Large is used for reply generation.
	Large string `yaml:"large"`
}

// Default returns a minimal usable character.
func Default() *Character {
	return &Character{
		Name:   "Eidos",
		System: "You are a helpful, concise conversational agent.",
		Bio:    []string{"A general-purpose assistant."},
	}
}

// Load reads a character file and overlays it on the defaults, so a
// partial file still yields a complete character.
func Load(path string) (*Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read character file: %w", err)
	}
	return Parse(data)
}

// Parse decodes yaml character data, overlaying defaults.
func Parse(data []byte) (*Character, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse character file: %w", err)
	}
	if strings.TrimSpace(c.Name) == "" {
		c.Name = Default().Name
	}
	return c, nil
}

// BioText renders the bio lines as a single block.
func (c *Character) BioText() string {
	return strings.Join(c.Bio, "\n")
}

// StyleText renders the applicable style guidance for chat replies.
func (c *Character) StyleText() string {
	lines := make([]string, 0, len(c.Style.All)+len(c.Style.Chat))
	lines = append(lines, c.Style.All...)
	lines = append(lines, c.Style.Chat...)
	if len(lines) == 0 {
		return ""
	}
	return "# Style\n- " + strings.Join(lines, "\n- ")
}

// ExamplesText renders the example dialogues with {{userN}}
// placeholders left intact for the prompt engine to anonymize.
func (c *Character) ExamplesText() string {
	if len(c.Examples) == 0 {
		return ""
	}
	var b strings.Builder
	for i, dialogue := range c.Examples {
		if i > 0 {
			b.WriteString("\n\n")
		}
		for j, line := range dialogue {
			if j > 0 {
				b.WriteString("\n")
			}
			speaker := line.User
			if speaker != c.Name {
				speaker = "{{" + speaker + "}}"
			}
			b.WriteString(speaker + ": " + line.Text)
		}
	}
	return b.String()
}
