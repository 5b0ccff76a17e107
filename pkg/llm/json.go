package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Reasoning models prefix answers with <think> blocks; structured-output
// parsing has to see past them.
var (
	leadingThinkPattern = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)
	thinkBodyPattern    = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
)

// ExtractThinking returns the content of a <think>...</think> block in the
// response, or "" when there is none.
func ExtractThinking(response string) string {
	m := thinkBodyPattern.FindStringSubmatch(response)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ExtractJSON pulls the first JSON value out of a model response that may
// wrap it in think tags, prose, or markdown fences. The first brace or
// bracket decides whether an object or an array is expected; an array is
// tried as a fallback when an object candidate does not parse.
func ExtractJSON(response string) (string, error) {
	cleaned := leadingThinkPattern.ReplaceAllString(response, "")

	objAt := strings.IndexByte(cleaned, '{')
	arrAt := strings.IndexByte(cleaned, '[')

	if objAt >= 0 && (arrAt < 0 || objAt < arrAt) {
		if candidate, ok := scanBalanced(cleaned[objAt:], '{', '}'); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	if arrAt >= 0 {
		if candidate, ok := scanBalanced(cleaned[arrAt:], '[', ']'); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	// Bare scalar responses ("true", a quoted string) have no bracket to
	// anchor on; accept them when the whole response is valid JSON.
	if trimmed := strings.TrimSpace(cleaned); json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	return "", fmt.Errorf("no valid JSON found in response")
}

// scanBalanced returns the prefix of s spanning one balanced open/close
// pair, tracking string literals so brackets inside them don't count.
// s must start at the opening byte.
func scanBalanced(s string, open, closer byte) (string, bool) {
	depth := 0
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++ // skip the escaped byte
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// ParseJSONResponse extracts JSON from a response and unmarshals it into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}
