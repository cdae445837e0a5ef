package domain

import (
	"strings"
	"time"
)

// Sentiment labels stored verbatim in the feedback table.
const (
	SentimentPositive = "Positive"
	SentimentNeutral  = "Neutral"
	SentimentNegative = "Negative"
)

// ThemeGeneral is stored when the oracle reply has no usable theme.
const ThemeGeneral = "general"

// DefaultTaxonomy is the theme list presented to the oracle. It is guidance only:
// stored themes outside it are kept as-is.
var DefaultTaxonomy = []string{"Bugs", "Performance", "UI/UX", "Features", "Billing"}

var Sentiments = []string{SentimentPositive, SentimentNeutral, SentimentNegative}

type FeedbackItem struct {
	ID        int64
	Source    string // channel label, e.g. "Twitter", "App Store"
	SourceRef string // feed GUID or link for imported items, empty otherwise
	Content   string
	CreatedAt time.Time // zero when the store has no timestamp

	Theme     string // empty until classified
	Sentiment string // empty until classified
	Urgency   int    // 0 until classified
}

// Classification is the normalized (theme, sentiment, urgency) triple written back
// to the store in a single update.
type Classification struct {
	Theme     string `json:"theme"`
	Sentiment string `json:"sentiment"`
	Urgency   int    `json:"urgency"`
}

// DefaultClassification is used when an oracle reply arrives but cannot be parsed.
var DefaultClassification = Classification{
	Theme:     ThemeGeneral,
	Sentiment: SentimentNeutral,
	Urgency:   1,
}

func (i FeedbackItem) Classified() bool {
	return i.Sentiment != "" && i.Urgency > 0
}

func (i FeedbackItem) Classification() Classification {
	return Classification{Theme: i.Theme, Sentiment: i.Sentiment, Urgency: i.Urgency}
}

type DailyReport struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Content   string    `json:"content"`
}

// ListFilter narrows ListFeedback. The zero value lists every item oldest first.
type ListFilter struct {
	Since            time.Time
	OnlyUnclassified bool
	Limit            int
	NewestFirst      bool
}

// DayKey is the month-day bucket used for trend series ("05-01").
func DayKey(t time.Time) string {
	if t.IsZero() {
		return UnknownDay
	}
	return t.Format("01-02")
}

// DateKey is the calendar date offered as a filter option ("2024-05-01").
func DateKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// UnknownDay buckets items without a timestamp.
const UnknownDay = "N/A"

// CanonicalSentiment maps a case-insensitive sentiment label to its stored form.
func CanonicalSentiment(s string) (string, bool) {
	for _, v := range Sentiments {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return v, true
		}
	}
	return "", false
}
