package analytics

import (
	"strconv"
	"strings"

	"feedbackintel/internal/domain"
)

// Wildcard disables a Filter field, as does the empty string.
const Wildcard = "All"

// Filter holds the dashboard's narrowing choices. Day accepts a day key
// ("05-01") or a date ("2024-05-01").
type Filter struct {
	Day       string `json:"day"`
	Channel   string `json:"channel"`
	Theme     string `json:"theme"`
	Sentiment string `json:"sentiment"`
	Urgency   string `json:"urgency"`
	Content   string `json:"q"`
}

type Predicate func(domain.FeedbackItem) bool

func active(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.EqualFold(v, Wildcard)
}

// Compile returns a predicate that ANDs every active field.
func (f Filter) Compile() Predicate {
	var checks []Predicate

	if active(f.Day) {
		day := strings.TrimSpace(f.Day)
		checks = append(checks, func(i domain.FeedbackItem) bool {
			return domain.DayKey(i.CreatedAt) == day || domain.DateKey(i.CreatedAt) == day
		})
	}
	if active(f.Channel) {
		channel := strings.TrimSpace(f.Channel)
		checks = append(checks, func(i domain.FeedbackItem) bool {
			return i.Source == channel
		})
	}
	if active(f.Theme) {
		theme := strings.TrimSpace(f.Theme)
		checks = append(checks, func(i domain.FeedbackItem) bool {
			return strings.EqualFold(i.Theme, theme)
		})
	}
	if active(f.Sentiment) {
		sentiment := strings.TrimSpace(f.Sentiment)
		checks = append(checks, func(i domain.FeedbackItem) bool {
			return i.Sentiment == sentiment
		})
	}
	if active(f.Urgency) {
		urgency := strings.TrimSpace(f.Urgency)
		checks = append(checks, func(i domain.FeedbackItem) bool {
			return urgencyText(i.Urgency) == urgency
		})
	}
	// the search term is used verbatim, surrounding spaces included
	if term := strings.ToLower(f.Content); term != "" {
		checks = append(checks, func(i domain.FeedbackItem) bool {
			return strings.Contains(strings.ToLower(i.Content), term)
		})
	}

	return func(i domain.FeedbackItem) bool {
		for _, check := range checks {
			if !check(i) {
				return false
			}
		}
		return true
	}
}

func urgencyText(u int) string {
	if u == 0 {
		return ""
	}
	return strconv.Itoa(u)
}

// Apply returns the matching items in input order.
func Apply(items []domain.FeedbackItem, pred Predicate) []domain.FeedbackItem {
	out := make([]domain.FeedbackItem, 0, len(items))
	for _, item := range items {
		if pred(item) {
			out = append(out, item)
		}
	}
	return out
}

// FilterFromQuery reads day, channel, theme, sentiment, urgency and q.
func FilterFromQuery(get func(string) string) Filter {
	return Filter{
		Day:       get("day"),
		Channel:   get("channel"),
		Theme:     get("theme"),
		Sentiment: get("sentiment"),
		Urgency:   get("urgency"),
		Content:   get("q"),
	}
}
