package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"feedbackintel/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "feedback-test.db")
	s, err := Open(DriverSQLite, dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	got := pg.rebind("UPDATE feedback SET theme = ?, urgency = ? WHERE id = ?")
	want := "UPDATE feedback SET theme = $1, urgency = $2 WHERE id = $3"
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	lite := &Store{driver: DriverSQLite}
	if q := lite.rebind("SELECT ?"); q != "SELECT ?" {
		t.Fatalf("sqlite rebind changed query: %q", q)
	}
}

func TestFeedbackInsertListAndClassify(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	older, err := s.InsertFeedback(ctx, domain.FeedbackItem{Source: "Email", Content: "Where is my invoice?", CreatedAt: base})
	if err != nil {
		t.Fatalf("InsertFeedback failed: %v", err)
	}
	newer, err := s.InsertFeedback(ctx, domain.FeedbackItem{Source: "Twitter", Content: "Love the new UI!", CreatedAt: base.Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("InsertFeedback failed: %v", err)
	}

	items, err := s.ListFeedback(ctx, domain.ListFilter{})
	if err != nil {
		t.Fatalf("ListFeedback failed: %v", err)
	}
	if len(items) != 2 || items[0].ID != older || items[1].ID != newer {
		t.Fatalf("unexpected order: %+v", items)
	}
	if items[0].Theme != "" || items[0].Sentiment != "" || items[0].Urgency != 0 {
		t.Fatalf("new items must be unclassified, got %+v", items[0])
	}
	if !items[0].CreatedAt.Equal(base) {
		t.Fatalf("created_at = %s, want %s", items[0].CreatedAt, base)
	}

	c := domain.Classification{Theme: "billing", Sentiment: domain.SentimentNegative, Urgency: 3}
	if err := s.UpdateClassification(ctx, older, c); err != nil {
		t.Fatalf("UpdateClassification failed: %v", err)
	}
	got, err := s.GetFeedback(ctx, older)
	if err != nil {
		t.Fatalf("GetFeedback failed: %v", err)
	}
	if got.Classification() != c {
		t.Fatalf("stored classification = %+v, want %+v", got.Classification(), c)
	}
	if got.Content != "Where is my invoice?" || got.Source != "Email" {
		t.Fatalf("classification must not touch content or source: %+v", got)
	}

	pending, err := s.ListFeedback(ctx, domain.ListFilter{OnlyUnclassified: true})
	if err != nil {
		t.Fatalf("ListFeedback unclassified failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != newer {
		t.Fatalf("expected only the unclassified item, got %+v", pending)
	}

	newest, err := s.ListFeedback(ctx, domain.ListFilter{NewestFirst: true, Limit: 1})
	if err != nil {
		t.Fatalf("ListFeedback newest failed: %v", err)
	}
	if len(newest) != 1 || newest[0].ID != newer {
		t.Fatalf("expected newest item first, got %+v", newest)
	}

	recent, err := s.ListFeedback(ctx, domain.ListFilter{Since: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("ListFeedback since failed: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != newer {
		t.Fatalf("expected only the item after since, got %+v", recent)
	}
}

func TestUpdateClassificationMissingRow(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateClassification(context.Background(), 999, domain.DefaultClassification)
	if err == nil {
		t.Fatal("expected error updating a missing row")
	}
}

func TestInsertFeedbackBatchDedupesSourceRef(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []domain.FeedbackItem{
		{Source: "App Store", SourceRef: "review-1", Content: "FaceID is broken.", CreatedAt: now},
		{Source: "App Store", SourceRef: "review-1", Content: "FaceID is broken.", CreatedAt: now},
		{Source: "App Store", SourceRef: "review-2", Content: "Great app", CreatedAt: now},
		{Source: "Email", Content: "no ref", CreatedAt: now},
	}
	n, err := s.InsertFeedbackBatch(ctx, batch)
	if err != nil {
		t.Fatalf("InsertFeedbackBatch failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("inserted = %d, want 3", n)
	}

	n, err = s.InsertFeedbackBatch(ctx, batch)
	if err != nil {
		t.Fatalf("second InsertFeedbackBatch failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("second import inserted = %d, want 1 (only the ref-less item)", n)
	}

	exists, err := s.SourceRefExists(ctx, "review-2")
	if err != nil || !exists {
		t.Fatalf("SourceRefExists(review-2) = %v, %v", exists, err)
	}
	exists, err = s.SourceRefExists(ctx, "review-9")
	if err != nil || exists {
		t.Fatalf("SourceRefExists(review-9) = %v, %v", exists, err)
	}
}

func TestReportsNewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		if _, err := s.InsertReport(ctx, domain.DailyReport{CreatedAt: base.Add(time.Duration(i) * 24 * time.Hour), Content: "<p>day</p>"}); err != nil {
			t.Fatalf("InsertReport failed: %v", err)
		}
	}
	reports, err := s.ListReports(ctx, 5)
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(reports) != 5 {
		t.Fatalf("expected 5 reports, got %d", len(reports))
	}
	if !reports[0].CreatedAt.Equal(base.Add(6 * 24 * time.Hour)) {
		t.Fatalf("expected newest report first, got %s", reports[0].CreatedAt)
	}
}

func TestSeedAndReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Seed(ctx, time.Now())
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != len(domain.DemoFeedback(time.Now())) {
		t.Fatalf("seeded %d rows", n)
	}
	if _, err := s.InsertReport(ctx, domain.DailyReport{Content: "x"}); err != nil {
		t.Fatalf("InsertReport failed: %v", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	items, err := s.ListFeedback(ctx, domain.ListFilter{})
	if err != nil {
		t.Fatalf("ListFeedback failed: %v", err)
	}
	reports, err := s.ListReports(ctx, 5)
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(items) != 0 || len(reports) != 0 {
		t.Fatalf("expected empty store after reset, items=%d reports=%d", len(items), len(reports))
	}
}
