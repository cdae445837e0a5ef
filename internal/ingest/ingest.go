// Package ingest imports feedback from RSS/Atom feeds such as App Store review
// feeds or help-desk exports.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedbackintel/internal/config"
	"feedbackintel/internal/domain"
	"feedbackintel/internal/httpx"
	"feedbackintel/internal/textutil"
)

const maxContentRunes = 2000

// ErrNoFeeds is returned when Import runs without configured feeds.
var ErrNoFeeds = errors.New("no feeds configured")

type Store interface {
	InsertFeedbackBatch(ctx context.Context, items []domain.FeedbackItem) (int, error)
}

// ImportResult tracks separate counters for each skip reason.
type ImportResult struct {
	Feeds      int      `json:"feeds"`
	Fetched    int      `json:"fetched"`
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Empty      int      `json:"empty"`
	Errors     []string `json:"errors,omitempty"`
}

type Importer struct {
	parser *gofeed.Parser
	store  Store
	feeds  []config.FeedSource
	now    func() time.Time
}

func NewImporter(store Store, feeds []config.FeedSource) *Importer {
	parser := gofeed.NewParser()
	parser.Client = httpx.Client()
	return &Importer{parser: parser, store: store, feeds: feeds, now: time.Now}
}

func (im *Importer) Configured() bool {
	return len(im.feeds) > 0
}

// Import fetches every configured feed and stores entries not seen before.
// A failing feed is recorded in Errors and does not stop the others.
func (im *Importer) Import(ctx context.Context) (ImportResult, error) {
	if !im.Configured() {
		return ImportResult{}, ErrNoFeeds
	}
	var result ImportResult
	for _, src := range im.feeds {
		result.Feeds++
		feed, err := im.parser.ParseURLWithContext(src.URL, ctx)
		if err != nil {
			log.Printf("ingest feed=%s error: %v", src.URL, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", src.URL, err))
			continue
		}
		items, empty := ItemsFromFeed(feed, src.Source, im.now())
		result.Fetched += len(items) + empty
		result.Empty += empty

		inserted, err := im.store.InsertFeedbackBatch(ctx, items)
		if err != nil {
			log.Printf("ingest feed=%s store error: %v", src.URL, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", src.URL, err))
			continue
		}
		result.Inserted += inserted
		result.Duplicates += len(items) - inserted
		log.Printf("ingest feed=%s source=%s entries=%d inserted=%d", src.URL, src.Source, len(items), inserted)
	}
	return result, nil
}

// ItemsFromFeed converts feed entries into unclassified feedback. Entries with
// no text are dropped and counted in empty.
func ItemsFromFeed(feed *gofeed.Feed, source string, now time.Time) (items []domain.FeedbackItem, empty int) {
	for _, entry := range feed.Items {
		content := entryText(entry)
		if content == "" {
			empty++
			continue
		}
		items = append(items, domain.FeedbackItem{
			Source:    source,
			SourceRef: entryRef(entry),
			Content:   textutil.Truncate(content, maxContentRunes),
			CreatedAt: entryTime(entry, now),
		})
	}
	return items, empty
}

func entryText(entry *gofeed.Item) string {
	title := textutil.PlainText(entry.Title)
	body := textutil.PlainText(entry.Content)
	if body == "" {
		body = textutil.PlainText(entry.Description)
	}
	switch {
	case body == "":
		return title
	case title == "" || strings.HasPrefix(body, title):
		return body
	default:
		return title + ": " + body
	}
}

func entryRef(entry *gofeed.Item) string {
	if ref := strings.TrimSpace(entry.GUID); ref != "" {
		return ref
	}
	return strings.TrimSpace(entry.Link)
}

func entryTime(entry *gofeed.Item, now time.Time) time.Time {
	if entry.PublishedParsed != nil {
		return *entry.PublishedParsed
	}
	if entry.UpdatedParsed != nil {
		return *entry.UpdatedParsed
	}
	return now
}

// FormatImportSummary renders a one-line result for logs and chat replies.
func FormatImportSummary(r ImportResult) string {
	s := fmt.Sprintf("Imported %d new feedback items from %d feeds (%d entries, %d already imported, %d empty).",
		r.Inserted, r.Feeds, r.Fetched, r.Duplicates, r.Empty)
	if len(r.Errors) > 0 {
		s += " Errors: " + strings.Join(r.Errors, "; ")
	}
	return s
}
