// Package storage owns persisted feedback and daily reports. The same SQL runs
// against sqlite3 (default, file-backed) and postgres; only the schema DDL and
// placeholder style differ.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"feedbackintel/internal/domain"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type Store struct {
	db     *sql.DB
	driver string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS feedback (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	source     TEXT NOT NULL,
	source_ref TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	theme      TEXT,
	sentiment  TEXT,
	urgency    INTEGER,
	created_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON feedback(created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_feedback_source_ref ON feedback(source_ref) WHERE source_ref <> '';

CREATE TABLE IF NOT EXISTS daily_reports (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at DATETIME NOT NULL,
	content    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_daily_reports_created_at ON daily_reports(created_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS feedback (
	id         BIGSERIAL PRIMARY KEY,
	source     TEXT NOT NULL,
	source_ref TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	theme      TEXT,
	sentiment  TEXT,
	urgency    INTEGER,
	created_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON feedback(created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_feedback_source_ref ON feedback(source_ref) WHERE source_ref <> '';

CREATE TABLE IF NOT EXISTS daily_reports (
	id         BIGSERIAL PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	content    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_daily_reports_created_at ON daily_reports(created_at);
`

// Open connects to the database and creates the schema if needed. For sqlite3
// dsn is a file path; for postgres it is a connection URL.
func Open(driver, dsn string) (*Store, error) {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = sqliteSchema
	case DriverPostgres:
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer; avoids "database is locked" under the classify pool.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Driver() string {
	return s.driver
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const feedbackColumns = `id, source, source_ref, content, theme, sentiment, urgency, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeedback(row rowScanner) (domain.FeedbackItem, error) {
	var (
		item      domain.FeedbackItem
		theme     sql.NullString
		sentiment sql.NullString
		urgency   sql.NullInt64
		createdAt sql.NullTime
	)
	if err := row.Scan(&item.ID, &item.Source, &item.SourceRef, &item.Content,
		&theme, &sentiment, &urgency, &createdAt); err != nil {
		return item, err
	}
	item.Theme = theme.String
	item.Sentiment = sentiment.String
	item.Urgency = int(urgency.Int64)
	if createdAt.Valid {
		item.CreatedAt = createdAt.Time
	}
	return item, nil
}

// ListFeedback returns a snapshot of feedback rows matching f. Items without a
// timestamp sort before dated items.
func (s *Store) ListFeedback(ctx context.Context, f domain.ListFilter) ([]domain.FeedbackItem, error) {
	var (
		where []string
		args  []any
	)
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if f.OnlyUnclassified {
		where = append(where, "(sentiment IS NULL OR sentiment = '' OR urgency IS NULL OR urgency = 0)")
	}

	query := "SELECT " + feedbackColumns + " FROM feedback"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.NewestFirst {
		query += " ORDER BY (created_at IS NULL) ASC, created_at DESC, id DESC"
	} else {
		query += " ORDER BY (created_at IS NOT NULL) ASC, created_at ASC, id ASC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var items []domain.FeedbackItem
	for rows.Next() {
		item, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) GetFeedback(ctx context.Context, id int64) (domain.FeedbackItem, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+feedbackColumns+" FROM feedback WHERE id = ?"), id)
	return scanFeedback(row)
}

// UpdateClassification writes the whole triple in one statement.
func (s *Store) UpdateClassification(ctx context.Context, id int64, c domain.Classification) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE feedback SET theme = ?, sentiment = ?, urgency = ? WHERE id = ?`),
		c.Theme, c.Sentiment, c.Urgency, id,
	)
	if err != nil {
		return fmt.Errorf("update classification id=%d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update classification id=%d: %w", id, sql.ErrNoRows)
	}
	return nil
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) insertFeedback(ctx context.Context, q execQuerier, item domain.FeedbackItem) (int64, error) {
	var createdAt any
	if !item.CreatedAt.IsZero() {
		createdAt = item.CreatedAt.UTC()
	}
	var theme, sentiment, urgency any
	if item.Classified() {
		theme, sentiment, urgency = item.Theme, item.Sentiment, item.Urgency
	}
	var id int64
	err := q.QueryRowContext(ctx, s.rebind(
		`INSERT INTO feedback (source, source_ref, content, theme, sentiment, urgency, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		item.Source, item.SourceRef, item.Content, theme, sentiment, urgency, createdAt,
	).Scan(&id)
	return id, err
}

// InsertFeedback stores one item and returns its id. A zero CreatedAt is
// stamped with the current time.
func (s *Store) InsertFeedback(ctx context.Context, item domain.FeedbackItem) (int64, error) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	id, err := s.insertFeedback(ctx, s.db, item)
	if err != nil {
		return 0, fmt.Errorf("insert feedback: %w", err)
	}
	return id, nil
}

// InsertFeedbackBatch stores items in one transaction, skipping any whose
// SourceRef is already present. It returns how many rows were inserted.
func (s *Store) InsertFeedbackBatch(ctx context.Context, items []domain.FeedbackItem) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	seen := make(map[string]bool)
	inserted := 0
	for _, item := range items {
		if item.SourceRef != "" {
			if seen[item.SourceRef] {
				continue
			}
			seen[item.SourceRef] = true
			var count int
			if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM feedback WHERE source_ref = ?`), item.SourceRef).Scan(&count); err != nil {
				return 0, fmt.Errorf("check source_ref: %w", err)
			}
			if count > 0 {
				continue
			}
		}
		if _, err := s.insertFeedback(ctx, tx, item); err != nil {
			return 0, fmt.Errorf("insert feedback batch: %w", err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) SourceRefExists(ctx context.Context, sourceRef string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM feedback WHERE source_ref = ?"), sourceRef).Scan(&count)
	return count > 0, err
}

// InsertReport appends a daily report.
func (s *Store) InsertReport(ctx context.Context, r domain.DailyReport) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO daily_reports (created_at, content) VALUES (?, ?) RETURNING id`),
		r.CreatedAt.UTC(), r.Content,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	return id, nil
}

// ListReports returns the newest reports first.
func (s *Store) ListReports(ctx context.Context, limit int) ([]domain.DailyReport, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, created_at, content FROM daily_reports ORDER BY created_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.DailyReport
	for rows.Next() {
		var r domain.DailyReport
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Content); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Reset deletes all feedback and reports.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM feedback"); err != nil {
		return fmt.Errorf("reset feedback: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM daily_reports"); err != nil {
		return fmt.Errorf("reset reports: %w", err)
	}
	return tx.Commit()
}

// Seed appends the demo dataset with timestamps relative to now.
func (s *Store) Seed(ctx context.Context, now time.Time) (int, error) {
	return s.InsertFeedbackBatch(ctx, domain.DemoFeedback(now))
}
