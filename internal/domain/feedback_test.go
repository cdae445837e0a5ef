package domain

import (
	"testing"
	"time"
)

func TestDayAndDateKeys(t *testing.T) {
	ts := time.Date(2024, 5, 1, 13, 45, 0, 0, time.UTC)
	if got := DayKey(ts); got != "05-01" {
		t.Fatalf("DayKey = %q, want 05-01", got)
	}
	if got := DateKey(ts); got != "2024-05-01" {
		t.Fatalf("DateKey = %q, want 2024-05-01", got)
	}
	if got := DayKey(time.Time{}); got != UnknownDay {
		t.Fatalf("DayKey(zero) = %q, want %q", got, UnknownDay)
	}
	if got := DateKey(time.Time{}); got != "" {
		t.Fatalf("DateKey(zero) = %q, want empty", got)
	}
}

func TestCanonicalSentiment(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Positive", SentimentPositive, true},
		{" negative ", SentimentNegative, true},
		{"NEUTRAL", SentimentNeutral, true},
		{"mixed", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := CanonicalSentiment(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("CanonicalSentiment(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDemoFeedbackRelativeTimestamps(t *testing.T) {
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	items := DemoFeedback(now)
	if len(items) != 12 {
		t.Fatalf("expected 12 demo rows, got %d", len(items))
	}
	for _, item := range items {
		if item.CreatedAt.After(now) {
			t.Fatalf("demo row %q is in the future: %v", item.Content, item.CreatedAt)
		}
		if item.Classified() {
			t.Fatalf("demo row %q should start unclassified", item.Content)
		}
	}
	if items[0].CreatedAt != now.Add(-6*24*time.Hour) {
		t.Fatalf("unexpected first row timestamp: %v", items[0].CreatedAt)
	}
}
