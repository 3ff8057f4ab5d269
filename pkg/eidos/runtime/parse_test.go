package runtime

import (
	"reflect"
	"testing"
)

func TestParseStructuredResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
	}{
		{
			name: "plain object",
			raw:  `{"action": "RESPOND"}`,
			want: map[string]any{"action": "RESPOND"},
		},
		{
			name: "fenced json block",
			raw:  "Here you go:\n```json\n{\"action\": \"IGNORE\"}\n```",
			want: map[string]any{"action": "IGNORE"},
		},
		{
			name: "fenced block without language tag",
			raw:  "```\n{\"text\": \"hi\"}\n```",
			want: map[string]any{"text": "hi"},
		},
		{
			name: "first fenced block wins",
			raw:  "```json\n{\"x\": \"a\"}\n```\nand also\n```json\n{\"x\": \"b\"}\n```",
			want: map[string]any{"x": "a"},
		},
		{
			name: "object embedded in prose",
			raw:  `Sure! {"text": "hello"} Hope that helps.`,
			want: map[string]any{"text": "hello"},
		},
		{
			name: "array embedded in prose",
			raw:  `The facts: ["likes tea", "lives in Lisbon"] done.`,
			want: []any{"likes tea", "lives in Lisbon"},
		},
		{
			name: "unquoted keys and bareword value",
			raw:  `{action: RESPOND}`,
			want: map[string]any{"action": "RESPOND"},
		},
		{
			name: "single quoted value",
			raw:  `{action: 'IGNORE'}`,
			want: map[string]any{"action": "IGNORE"},
		},
		{
			name: "trailing comma",
			raw:  `{"text": "ok",}`,
			want: map[string]any{"text": "ok"},
		},
		{
			name: "doubled quotes",
			raw:  `{""text"": ""hi""}`,
			want: map[string]any{"text": "hi"},
		},
		{
			name: "booleans survive repair",
			raw:  `{done: true, failed: false}`,
			want: map[string]any{"done": true, "failed": false},
		},
		{
			name: "no json at all",
			raw:  "I am not sure what you mean.",
			want: nil,
		},
		{
			name: "empty input",
			raw:  "",
			want: nil,
		},
		{
			name: "whitespace only",
			raw:  "   \n\t  ",
			want: nil,
		},
		{
			name: "bare string is not structured",
			raw:  `"just a string"`,
			want: nil,
		},
		{
			name: "bare number is not structured",
			raw:  `42`,
			want: nil,
		},
		{
			name: "json null is not structured",
			raw:  `null`,
			want: nil,
		},
		{
			name: "braces inside string values",
			raw:  `{"text": "use {curly} braces"}`,
			want: map[string]any{"text": "use {curly} braces"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseStructuredResponse(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseStructuredResponse(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseStructuredResponseNeverPanics(t *testing.T) {
	inputs := []string{
		"{", "}", "{{{{", "```json", "```json\n```", `{"a":`,
		`{'a': }`, "[[[", "]]]", "\x00\x01", `{"a": "b\"}`,
	}
	for _, in := range inputs {
		// A panic here fails the test run outright; every input must
		// settle to a value or nil.
		_ = ParseStructuredResponse(in)
	}
}

func TestNormalizeJSONIdempotent(t *testing.T) {
	inputs := []string{
		`{action: RESPOND, note: 'with quotes',}`,
		`{"already": "fine"}`,
		`{mixed: true, other: 'x'}`,
		`["a", "b",]`,
	}
	for _, in := range inputs {
		once := NormalizeJSON(in)
		twice := NormalizeJSON(once)
		if once != twice {
			t.Errorf("NormalizeJSON not idempotent for %q:\n once: %q\ntwice: %q", in, once, twice)
		}
	}
}

func TestNormalizeJSONRules(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{foo: 1}`, `{"foo": 1}`},
		{`{"a": 'b'}`, `{"a": "b"}`},
		{`{"a": bare}`, `{"a": "bare"}`},
		{`{"a": true}`, `{"a": true}`},
		{`{"a": null}`, `{"a": null}`},
		{`{"a": 1,}`, `{"a": 1}`},
		{`  {"a": 1}  `, `{"a": 1}`},
	}
	for _, tt := range tests {
		if got := NormalizeJSON(tt.in); got != tt.want {
			t.Errorf("NormalizeJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
