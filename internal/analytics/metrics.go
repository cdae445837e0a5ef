// Package analytics folds feedback snapshots into dashboard metrics and
// builds the filter predicates used to narrow them.
package analytics

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"feedbackintel/internal/domain"
)

// ErrNoData is returned by callers that need at least one item (reports).
var ErrNoData = errors.New("no data")

// DayTrend is one point of the per-day series.
type DayTrend struct {
	Count      int `json:"count"`
	UrgencySum int `json:"urgencySum"`
}

// AvgUrgency is the per-day mean urgency, zero for an empty bucket.
func (d DayTrend) AvgUrgency() float64 {
	if d.Count == 0 {
		return 0
	}
	return float64(d.UrgencySum) / float64(d.Count)
}

type Metrics struct {
	Total          int                 `json:"total"`
	NegativeCount  int                 `json:"negativeCount"`
	AvgUrgency     string              `json:"avgUrgency"`
	TrendByDay     map[string]DayTrend `json:"trendByDay"`
	ThemeCounts    map[string]int      `json:"themeCounts"`
	UniqueThemes   []string            `json:"uniqueThemes"`
	UniqueChannels []string            `json:"uniqueChannels"`
	UniqueDates    []string            `json:"uniqueDates"`
}

func (m Metrics) Empty() bool {
	return m.Total == 0
}

// Days returns the TrendByDay keys in ascending order.
func (m Metrics) Days() []string {
	days := make([]string, 0, len(m.TrendByDay))
	for d := range m.TrendByDay {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}

// accumulator is the fold state of one Aggregate call.
type accumulator struct {
	total      int
	negative   int
	urgencySum int
	trend      map[string]DayTrend
	themes     map[string]int
	channels   map[string]struct{}
	dates      map[string]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		trend:    map[string]DayTrend{},
		themes:   map[string]int{},
		channels: map[string]struct{}{},
		dates:    map[string]struct{}{},
	}
}

func (a *accumulator) add(item domain.FeedbackItem) {
	a.total++
	if item.Sentiment == domain.SentimentNegative {
		a.negative++
	}
	a.urgencySum += item.Urgency

	day := domain.DayKey(item.CreatedAt)
	point := a.trend[day]
	point.Count++
	if item.Urgency > 0 {
		point.UrgencySum += item.Urgency
	} else {
		point.UrgencySum++
	}
	a.trend[day] = point

	if theme := strings.ToLower(strings.TrimSpace(item.Theme)); theme != "" {
		a.themes[theme]++
	}
	if item.Source != "" {
		a.channels[item.Source] = struct{}{}
	}
	if date := domain.DateKey(item.CreatedAt); date != "" {
		a.dates[date] = struct{}{}
	}
}

func (a *accumulator) result() Metrics {
	avg := "0.0"
	if a.total > 0 {
		// tenths rounded half up in integers, so x.x5 ties never round down
		tenths := (20*a.urgencySum + a.total) / (2 * a.total)
		avg = fmt.Sprintf("%d.%d", tenths/10, tenths%10)
	}
	themes := make([]string, 0, len(a.themes))
	for t := range a.themes {
		themes = append(themes, t)
	}
	sort.Strings(themes)
	return Metrics{
		Total:          a.total,
		NegativeCount:  a.negative,
		AvgUrgency:     avg,
		TrendByDay:     a.trend,
		ThemeCounts:    a.themes,
		UniqueThemes:   themes,
		UniqueChannels: sortedKeys(a.channels),
		UniqueDates:    sortedKeys(a.dates),
	}
}

// Aggregate computes Metrics over a snapshot. Each call returns fresh maps and
// slices; the input is not modified. Unset urgency counts as 0 in the overall
// average and as 1 in the day series.
func Aggregate(items []domain.FeedbackItem) Metrics {
	acc := newAccumulator()
	for _, item := range items {
		acc.add(item)
	}
	return acc.result()
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
