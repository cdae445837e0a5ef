package classify

import (
	"bytes"
	"encoding/json"
)

// ExtractJSONObject finds the first balanced {...} span in reply that decodes
// as a JSON object. Braces inside JSON strings are ignored. When a span does not
// decode, scanning resumes at the next '{' after that span's start.
func ExtractJSONObject(reply string) (string, bool) {
	for start := 0; start < len(reply); start++ {
		if reply[start] != '{' {
			continue
		}
		end, ok := matchBrace(reply, start)
		if !ok {
			continue
		}
		candidate := reply[start : end+1]
		if isJSONObject(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// matchBrace returns the index of the '}' closing the '{' at start.
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

func isJSONObject(s string) bool {
	var obj map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	return dec.Decode(&obj) == nil && obj != nil && !dec.More()
}
