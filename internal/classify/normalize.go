package classify

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"

	"feedbackintel/internal/domain"
)

const (
	minUrgency = 1
	maxUrgency = 5
)

// ParseReply extracts and normalizes a classification from raw oracle text.
// ok is false when no JSON object could be recovered; the returned triple is
// then exactly domain.DefaultClassification with no consistency rule applied.
func ParseReply(reply string) (domain.Classification, bool) {
	obj, found := ExtractJSONObject(reply)
	if !found {
		return domain.DefaultClassification, false
	}
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return domain.DefaultClassification, false
	}
	return ApplyConsistency(Normalize(fields)), true
}

// Normalize coerces decoded reply fields into a well-formed triple. Keys are
// matched case-insensitively.
func Normalize(fields map[string]any) domain.Classification {
	lookup := func(key string) any {
		if v, ok := fields[key]; ok {
			return v
		}
		for k, v := range fields {
			if strings.EqualFold(k, key) {
				return v
			}
		}
		return nil
	}
	return domain.Classification{
		Theme:     normalizeTheme(lookup("theme")),
		Sentiment: normalizeSentiment(lookup("sentiment")),
		Urgency:   normalizeUrgency(lookup("urgency")),
	}
}

func normalizeTheme(v any) string {
	s, ok := v.(string)
	if !ok {
		return domain.ThemeGeneral
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return domain.ThemeGeneral
	}
	return s
}

func normalizeSentiment(v any) string {
	s, ok := v.(string)
	if !ok {
		return domain.SentimentNeutral
	}
	if canon, ok := domain.CanonicalSentiment(s); ok {
		return canon
	}
	return domain.SentimentNeutral
}

func normalizeUrgency(v any) int {
	var n float64
	switch u := v.(type) {
	case json.Number:
		f, err := u.Float64()
		if err != nil {
			return minUrgency
		}
		n = math.Trunc(f)
	case float64:
		n = math.Trunc(u)
	case string:
		parsed, ok := leadingInt(u)
		if !ok {
			return minUrgency
		}
		n = float64(parsed)
	default:
		return minUrgency
	}
	if n == 0 || math.IsNaN(n) {
		return minUrgency
	}
	return int(math.Max(minUrgency, math.Min(maxUrgency, n)))
}

// leadingInt parses an optional sign and the digits at the start of s,
// ignoring anything after them ("4 - high" is 4).
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digitsStart := end
	for end < len(s) && unicode.IsDigit(rune(s[end])) {
		end++
	}
	if end == digitsStart {
		return 0, false
	}
	// Cap the digit run so huge values clamp instead of failing.
	if end-digitsStart > 6 {
		if s[0] == '-' {
			return -1, true
		}
		return maxUrgency, true
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ApplyConsistency adjusts urgency from sentiment: Positive is always 1,
// Neutral always 2, Negative at least 3.
func ApplyConsistency(c domain.Classification) domain.Classification {
	switch c.Sentiment {
	case domain.SentimentPositive:
		c.Urgency = 1
	case domain.SentimentNeutral:
		c.Urgency = 2
	case domain.SentimentNegative:
		if c.Urgency < 3 {
			c.Urgency = 3
		}
	}
	return c
}
