// Package runtime – templates.go holds the default prompt templates.
// Characters may override them by name; the orchestrator resolves
// overrides before rendering.
package runtime

// Template registry keys.
const (
	TemplateShouldRespond  = "shouldRespond"
	TemplateMessageHandler = "messageHandler"
	TemplateReflection     = "reflection"
)

// defaultShouldRespondTemplate drives the cheap first-pass decision.
// It deliberately uses a narrow state slice to stay small and fast.
const defaultShouldRespondTemplate = `# Task: Decide whether {{agentName}} should respond.

{{bio}}

# Recent conversation:
{{recentMessages}}

# Instructions
Decide if {{agentName}} should respond to the last message. Respond with JSON:

` + "```json" + `
{"action": "RESPOND" | "IGNORE" | "STOP", "providers": ["optional extra context providers"], "reason": "one line"}
` + "```" + `

Extra context providers you may request by name:
{{providerNames}}

Examples:
{{user1}}: hey {{agentName}}, can you help me? -> RESPOND
{{user2}}: (talking to someone else about lunch) -> IGNORE
{{user3}}: {{agentName}} stop replying here -> STOP

Only output the JSON.`

// defaultMessageHandlerTemplate produces the actual reply.
const defaultMessageHandlerTemplate = `# You are {{agentName}}.

{{system}}

{{bio}}

{{style}}

# Context
{{providers}}

# Recent conversation:
{{recentMessages}}

# Instructions
Write {{agentName}}'s reply to the last message. Respond with JSON:

` + "```json" + `
{"thought": "private reasoning", "text": "the reply", "actions": ["REPLY"], "providers": []}
` + "```" + `

Available actions: {{actionNames}}.
Only output the JSON.`

// defaultReflectionTemplate extracts durable facts after a turn.
const defaultReflectionTemplate = `# Task: Extract new facts from the conversation.

# Recent conversation:
{{recentMessages}}

Respond with JSON: a list of short, self-contained factual statements
about the participants that will stay true ("likes hiking", "lives in
Lisbon"). Return [] when there is nothing durable.

` + "```json" + `
["fact one", "fact two"]
` + "```" + `

Only output the JSON.`

// defaultTemplates maps registry keys to built-in templates.
var defaultTemplates = map[string]string{
	TemplateShouldRespond:  defaultShouldRespondTemplate,
	TemplateMessageHandler: defaultMessageHandlerTemplate,
	TemplateReflection:     defaultReflectionTemplate,
}

// ResolveTemplate returns the character override for name when present,
// the built-in default otherwise.
func (r *Runtime) ResolveTemplate(name string) Template {
	if r.Character != nil {
		if text, ok := r.Character.Templates[name]; ok && text != "" {
			return Template{Text: text}
		}
	}
	return Template{Text: defaultTemplates[name]}
}
