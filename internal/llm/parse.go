package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when a completion holds no JSON object.
var ErrNoJSON = errors.New("no JSON object in completion")

// ExtractJSON returns the completion as JSON, salvaging the span from the
// first '{' to the last '}' when the model wrapped it in prose or fences.
func ExtractJSON(completion string) ([]byte, error) {
	s := strings.TrimSpace(completion)
	if s != "" && json.Valid([]byte(s)) {
		return []byte(s), nil
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}
	span := []byte(s[start : end+1])
	if !json.Valid(span) {
		return nil, ErrNoJSON
	}
	return span, nil
}
