// Package runtime – parse.go extracts structured JSON from raw model
// output. Models are asked for JSON but do not reliably produce it, so
// extraction is layered: fenced code block first, then a best-effort
// object/array substring, each run through a repair pass that fixes the
// common formatting mistakes (unquoted keys, single quotes, bareword
// values, trailing commas).
//
// ParseStructuredResponse is pure and total: no I/O, never panics, and
// every failure path returns nil. The repair rules in NormalizeJSON are
// a tested contract — changing them changes caller expectations.
package runtime

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	// fencedBlockRe matches the first fenced code block, optionally
	// tagged json. Earlier blocks win over later ones.
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

	// unquotedKeyRe matches object keys missing quotes: `{foo:` or `, foo:`.
	unquotedKeyRe = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)

	// singleQuotedValueRe matches single-quoted strings in value position.
	singleQuotedValueRe = regexp.MustCompile(`([:,\[]\s*)'((?:[^'\\]|\\.)*)'`)

	// barewordValueRe matches unquoted word values: `: foo,` or `: foo}`.
	barewordValueRe = regexp.MustCompile(`(:\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*[,}\]])`)

	// doubledQuoteRe matches stray doubled quote pairs around a token:
	// `""value""` → `"value"`.
	doubledQuoteRe = regexp.MustCompile(`""([^"]+)""`)

	// trailingCommaRe matches a comma directly before a closing brace or
	// bracket.
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseStructuredResponse extracts a JSON object or array from raw model
// text. Returns a map[string]any or []any, or nil when no structured
// content can be recovered. The caller decides whether to retry the
// model call or fall back to a default.
func ParseStructuredResponse(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	// 1. Fenced code block, first one wins.
	if m := fencedBlockRe.FindStringSubmatch(raw); m != nil {
		if v := tryParseJSON(m[1]); v != nil {
			return v
		}
	}

	// 2. Best-effort object/array substring from the raw text.
	for _, frag := range candidateFragments(raw) {
		if v := tryParseJSON(frag); v != nil {
			return v
		}
	}

	return nil
}

// tryParseJSON parses s as-is, then after repair. Only non-null objects
// and arrays count as success.
func tryParseJSON(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		if isStructured(v) {
			return v
		}
		return nil
	}

	repaired := NormalizeJSON(s)
	if err := json.Unmarshal([]byte(repaired), &v); err == nil && isStructured(v) {
		return v
	}
	return nil
}

func isStructured(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return v != nil
	default:
		return false
	}
}

// candidateFragments returns object/array-shaped substrings of raw in
// decreasing greediness: the span from the first opening brace to the
// last closing one, then the first balanced object/array.
func candidateFragments(raw string) []string {
	var frags []string
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(raw, pair[0])
		end := strings.LastIndexByte(raw, pair[1])
		if start >= 0 && end > start {
			frags = append(frags, raw[start:end+1])
		}
		if bal := firstBalanced(raw, pair[0], pair[1]); bal != "" {
			frags = append(frags, bal)
		}
	}
	return frags
}

// firstBalanced scans for the first balanced open..close span,
// tracking string literals so braces inside strings don't count.
func firstBalanced(raw string, open, close byte) string {
	start := strings.IndexByte(raw, open)
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// Braces inside strings are content, not structure.
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}

// NormalizeJSON repairs common model formatting mistakes so the result
// stands a chance with encoding/json. It is heuristic by design and
// idempotent: normalizing already-normalized input is a no-op.
//
// Repair rules, in order:
//  1. trim surrounding whitespace
//  2. collapse stray doubled quote pairs (`""x""` → `"x"`)
//  3. quote unquoted object keys
//  4. convert single-quoted strings in value position to double quotes
//  5. quote bareword values (but never true/false/null)
//  6. drop trailing commas before a closing brace/bracket
func NormalizeJSON(s string) string {
	s = strings.TrimSpace(s)
	s = doubledQuoteRe.ReplaceAllString(s, `"$1"`)
	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2":`)
	s = singleQuotedValueRe.ReplaceAllString(s, `$1"$2"`)
	s = barewordValueRe.ReplaceAllStringFunc(s, func(match string) string {
		sub := barewordValueRe.FindStringSubmatch(match)
		switch sub[2] {
		case "true", "false", "null":
			return match
		}
		return sub[1] + `"` + sub[2] + `"` + sub[3]
	})
	s = trailingCommaRe.ReplaceAllString(s, `$1`)
	return s
}
