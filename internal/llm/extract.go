package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when a reply contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

// ExtractJSON finds the JSON object in a model reply. It tries, in order, a
// ```json fenced block, any fenced block, and the first balanced {...} in the
// text. Candidates that are not valid JSON are skipped.
func ExtractJSON(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrNoJSON
	}

	if body, ok := fenced(text, "```json"); ok {
		if obj, ok := firstObject(body); ok {
			return obj, nil
		}
	}
	if body, ok := fenced(text, "```"); ok {
		if obj, ok := firstObject(body); ok {
			return obj, nil
		}
	}
	if obj, ok := firstObject(text); ok {
		return obj, nil
	}
	return "", ErrNoJSON
}

// fenced returns the body of the first code block opened by marker.
func fenced(text, marker string) (string, bool) {
	start := strings.Index(text, marker)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(marker):]

	// Skip the language tag of a generic fence
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	}

	end := strings.Index(rest, "```")
	if end < 0 {
		return rest, true
	}
	return rest[:end], true
}

// firstObject returns the first balanced JSON object in s that parses.
// Braces inside string literals are ignored.
func firstObject(s string) (string, bool) {
	for i := strings.IndexByte(s, '{'); i >= 0; {
		if end, ok := matchBrace(s, i); ok {
			candidate := s[i : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(s[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return "", false
}

func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
