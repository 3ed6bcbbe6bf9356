// Package normalize turns raw model text into typed values. Model output
// is best-effort JSON wrapped in prose or markdown fences; extraction is
// a two-step contract (locate the candidate span, then strict-parse) so a
// failure is attributable to one step or the other.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse reports model text that did not contain a
// parseable JSON object.
var ErrMalformedResponse = errors.New("malformed model response")

// ExtractJSON locates the first top-level brace-delimited object in text
// and unmarshals it into target. Fences and surrounding prose are
// ignored.
func ExtractJSON(text string, target any) error {
	span, ok := objectSpan(text)
	if !ok {
		return fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(span), target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// objectSpan returns the first balanced {...} span, tracking string
// literals and escapes so braces inside values do not truncate it.
func objectSpan(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escape := false
	for i, r := range text {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if inString {
			if escape {
				escape = false
				continue
			}
			switch r {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// EnsureList coerces a decoded JSON value into a list of non-empty
// trimmed strings. Lists are kept as-is; a non-empty string is split on
// newline, semicolon, or comma; anything else yields an empty list.
func EnsureList(value any) []string {
	switch v := value.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s := strings.TrimSpace(stringify(item))
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(v) == "" {
			return []string{}
		}
		parts := strings.FieldsFunc(v, func(r rune) bool {
			return r == '\n' || r == ';' || r == ','
		})
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

// Fields coerces a cited-fields value into a deduplicated list, first
// occurrence wins. Markdown emphasis markers are stripped from each
// entry.
func Fields(value any) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, field := range EnsureList(value) {
		cleaned := strings.TrimSpace(strings.NewReplacer("`", "", "*", "").Replace(field))
		if cleaned == "" {
			continue
		}
		if _, ok := seen[cleaned]; ok {
			continue
		}
		seen[cleaned] = struct{}{}
		out = append(out, cleaned)
	}
	return out
}

// WordCap limits text to at most limit words for display. Text at or
// under the limit is returned trimmed; longer text keeps the first limit
// words joined by single spaces with a trailing ellipsis. Reapplying the
// cap is a no-op.
func WordCap(text string, limit int) string {
	if text == "" || limit <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= limit {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[:limit], " ") + "…"
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
