package powerplexy

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	codeFenceRe  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	jsonObjectRe = regexp.MustCompile(`(?s)\{.*?\}`)
	jsonGreedyRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// ExtractJSON pulls the first JSON object out of a model answer. Models
// wrap payloads in code fences or prose, so the whole content is tried
// first, then a non-greedy object match, then a greedy one for objects
// with nested braces.
func ExtractJSON(content string) (map[string]any, error) {
	s := strings.TrimSpace(content)
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}

	if obj, ok := tryObject(s); ok {
		return obj, nil
	}
	if m := jsonObjectRe.FindString(s); m != "" {
		if obj, ok := tryObject(m); ok {
			return obj, nil
		}
	}
	if m := jsonGreedyRe.FindString(s); m != "" {
		if obj, ok := tryObject(m); ok {
			return obj, nil
		}
	}
	return nil, eris.New("powerplexy: no JSON object in response")
}

func tryObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}
