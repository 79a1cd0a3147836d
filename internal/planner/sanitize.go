package planner

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/CLIAIMONITOR/internal/stringutils"
)

// fencedBlock matches a value whose entire body is a markdown code
// fence, optionally tagged with a language, per spec.md §4.4.
var fencedBlock = regexp.MustCompile("(?s)^```[a-zA-Z0-9_+-]*\\n?(.*?)\\n?```$")

// paramSplitPoint finds a comma that immediately precedes a `key=`
// token, per spec.md §4.4: "split on commas that immediately precede
// a key= token (negative-lookahead on = inside values)." RE2 has no
// lookahead, so this matches the comma-then-key-then-= sequence
// directly and splits just after the comma.
var paramSplitPoint = regexp.MustCompile(`,\s*([A-Za-z_][A-Za-z0-9_]*)\s*=`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// SanitizeParameters implements spec.md §4.4's planner-to-executor
// parameter sanitization: strip Markdown decoration from AI-produced
// values and split a `k1=v1, k2=v2` string into a parameter map.
func SanitizeParameters(raw string) map[string]interface{} {
	out := make(map[string]interface{})
	raw = strings.TrimSpace(raw)
	if stringutils.IsEmpty(raw) {
		return out
	}

	// Try JSON-object-shaped parameters first (some providers emit
	// {"command": "..."} instead of the k=v template); fall back to
	// the k1=v1, k2=v2 form the spec describes.
	if m, ok := tryParseJSONObject(raw); ok {
		for k, v := range m {
			out[k] = v
		}
		return out
	}

	for _, pair := range splitParamPairs(raw) {
		idx := strings.Index(pair, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(pair[:idx])
		value := CleanValue(pair[idx+1:])
		out[key] = value
	}
	return out
}

// splitParamPairs splits s on commas that precede a `key=` token,
// leaving the first pair (which has no preceding comma) intact.
func splitParamPairs(s string) []string {
	locs := paramSplitPoint.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return []string{s}
	}
	var out []string
	prev := 0
	for _, loc := range locs {
		// loc[0] is the start of the match (the comma); split there.
		out = append(out, s[prev:loc[0]])
		prev = loc[0] + 1 // skip the comma itself
	}
	out = append(out, s[prev:])
	return out
}

// CleanValue strips the Markdown decorations spec.md §4.4 names —
// fenced code blocks, single-backtick wrappers, double-asterisk
// wrappers, stray asterisks, leading bullet/list markers, and
// surrounding quotes — then collapses internal whitespace runs.
// Decorations may nest (e.g. "**`cmd`**"), so stripping loops until a
// pass makes no further change.
func CleanValue(s string) string {
	s = strings.TrimSpace(s)
	for {
		before := s
		s = strings.TrimSpace(s)
		if m := fencedBlock.FindStringSubmatch(s); m != nil {
			s = m[1]
			continue
		}
		s = stripWrapper(s, "**")
		s = stripWrapper(s, "`")
		s = strings.TrimPrefix(s, "- ")
		s = strings.TrimPrefix(s, "* ")
		s = strings.TrimPrefix(s, "*")
		s = strings.TrimSuffix(s, "*")
		if s == before {
			break
		}
	}
	s = unquote(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// stripWrapper removes a matching wrap prefix/suffix pair, if both
// present and the remainder is non-empty.
func stripWrapper(s, wrap string) string {
	if len(s) >= 2*len(wrap) && strings.HasPrefix(s, wrap) && strings.HasSuffix(s, wrap) {
		inner := s[len(wrap) : len(s)-len(wrap)]
		if inner != "" {
			return inner
		}
	}
	return s
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// tryParseJSONObject attempts to parse s as a flat JSON object of
// string-keyed scalar values.
func tryParseJSONObject(s string) (map[string]interface{}, bool) {
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, false
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return m, true
}
