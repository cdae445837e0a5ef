package analytics

import (
	"net/url"
	"testing"

	"feedbackintel/internal/domain"
)

func filterFixture() []domain.FeedbackItem {
	return []domain.FeedbackItem{
		{ID: 1, Source: "Email", Content: "Login page is broken on Chrome.", Theme: "bugs", Sentiment: "Negative", Urgency: 4, CreatedAt: day("2024-05-01 10:00")},
		{ID: 2, Source: "Twitter", Content: "Love the new UI! So clean.", Theme: "ui/ux", Sentiment: "Positive", Urgency: 1, CreatedAt: day("2024-05-01 12:00")},
		{ID: 3, Source: "Support Ticket", Content: "Billing page is confusing.", Theme: "billing", Sentiment: "Neutral", Urgency: 2, CreatedAt: day("2024-05-02 09:00")},
		{ID: 4, Source: "Email", Content: "Where is my invoice?", CreatedAt: day("2024-05-03 09:00")},
	}
}

func ids(items []domain.FeedbackItem) []int64 {
	out := make([]int64, 0, len(items))
	for _, i := range items {
		out = append(out, i.ID)
	}
	return out
}

func sameIDs(got []domain.FeedbackItem, want ...int64) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestFilterWildcardsMatchEverything(t *testing.T) {
	items := filterFixture()
	for _, f := range []Filter{
		{},
		{Day: "All", Channel: "all", Theme: "ALL", Sentiment: "All", Urgency: "All"},
		{Day: " ", Content: ""},
	} {
		if got := Apply(items, f.Compile()); !sameIDs(got, 1, 2, 3, 4) {
			t.Fatalf("filter %+v matched %v, want all", f, ids(got))
		}
	}
}

func TestFilterAbsentValueMatchesNothing(t *testing.T) {
	items := filterFixture()
	for _, f := range []Filter{
		{Day: "12-25"},
		{Channel: "Fax"},
		{Theme: "performance"},
		{Sentiment: "Angry"},
		{Urgency: "5"},
		{Content: "refund"},
	} {
		if got := Apply(items, f.Compile()); len(got) != 0 {
			t.Fatalf("filter %+v matched %v, want none", f, ids(got))
		}
	}
}

func TestFilterConstraints(t *testing.T) {
	items := filterFixture()
	tests := []struct {
		name string
		f    Filter
		want []int64
	}{
		{"day key", Filter{Day: "05-01"}, []int64{1, 2}},
		{"date", Filter{Day: "2024-05-02"}, []int64{3}},
		{"channel exact", Filter{Channel: "Email"}, []int64{1, 4}},
		{"channel is case sensitive", Filter{Channel: "email"}, nil},
		{"theme any case", Filter{Theme: "BUGS"}, []int64{1}},
		{"sentiment", Filter{Sentiment: "Positive"}, []int64{2}},
		{"urgency text", Filter{Urgency: "2"}, []int64{3}},
		{"content substring any case", Filter{Content: "PAGE"}, []int64{1, 3}},
		{"combined", Filter{Channel: "Email", Content: "login"}, []int64{1}},
		{"content keeps leading space", Filter{Content: " login"}, nil},
		{"content keeps trailing space", Filter{Content: "page "}, []int64{1, 3}},
		{"combined disjoint", Filter{Channel: "Twitter", Sentiment: "Negative"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Apply(items, tt.f.Compile()); !sameIDs(got, tt.want...) {
				t.Fatalf("matched %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	items := filterFixture()
	_ = Apply(items, Filter{Channel: "Email"}.Compile())
	if len(items) != 4 || items[1].ID != 2 {
		t.Fatalf("input modified: %v", ids(items))
	}
}

func TestFilterFromQuery(t *testing.T) {
	q := url.Values{}
	q.Set("day", "05-01")
	q.Set("channel", "Email")
	q.Set("theme", "All")
	q.Set("q", "login")
	f := FilterFromQuery(q.Get)
	want := Filter{Day: "05-01", Channel: "Email", Theme: "All", Content: "login"}
	if f != want {
		t.Fatalf("FilterFromQuery = %+v, want %+v", f, want)
	}
	if got := Apply(filterFixture(), f.Compile()); !sameIDs(got, 1) {
		t.Fatalf("matched %v, want [1]", ids(got))
	}
}
