// Package report produces the daily briefing, the strategic product report and
// answers to free-form questions over recent feedback.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"feedbackintel/internal/analytics"
	"feedbackintel/internal/domain"
)

// ErrEmptyQuestion is returned by Ask for a blank question.
var ErrEmptyQuestion = errors.New("question is empty")

type Oracle interface {
	Run(ctx context.Context, instructions, userText string) (string, error)
}

type Store interface {
	ListFeedback(ctx context.Context, f domain.ListFilter) ([]domain.FeedbackItem, error)
	InsertReport(ctx context.Context, r domain.DailyReport) (int64, error)
}

// Notifier receives each stored daily briefing (e.g. a Slack channel).
type Notifier interface {
	PostBriefing(ctx context.Context, r domain.DailyReport) error
}

type Options struct {
	Location         *time.Location
	ChatContextLimit int
	Notifier         Notifier
	Now              func() time.Time
}

type Service struct {
	store     Store
	oracle    Oracle
	loc       *time.Location
	chatLimit int
	notifier  Notifier
	now       func() time.Time
}

func NewService(store Store, oracle Oracle, opts Options) *Service {
	s := &Service{
		store:     store,
		oracle:    oracle,
		loc:       opts.Location,
		chatLimit: opts.ChatContextLimit,
		notifier:  opts.Notifier,
		now:       opts.Now,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.chatLimit <= 0 {
		s.chatLimit = 30
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetNotifier attaches a briefing notifier after construction.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// DailyBriefing summarizes the last 24 hours, stores the summary as a daily
// report and forwards it to the notifier. It returns analytics.ErrNoData when
// nothing arrived in that window.
func (s *Service) DailyBriefing(ctx context.Context) (domain.DailyReport, error) {
	now := s.now()
	items, err := s.store.ListFeedback(ctx, domain.ListFilter{Since: now.Add(-24 * time.Hour)})
	if err != nil {
		return domain.DailyReport{}, fmt.Errorf("load last 24h: %w", err)
	}
	m := analytics.Aggregate(items)
	if m.Empty() {
		return domain.DailyReport{}, analytics.ErrNoData
	}

	r := domain.DailyReport{
		CreatedAt: now,
		Content:   RenderBriefing(now.In(s.loc), m),
	}
	id, err := s.store.InsertReport(ctx, r)
	if err != nil {
		return domain.DailyReport{}, err
	}
	r.ID = id
	log.Printf("report daily-briefing id=%d items=%d negative=%d", id, m.Total, m.NegativeCount)

	if s.notifier != nil {
		if err := s.notifier.PostBriefing(ctx, r); err != nil {
			log.Printf("report daily-briefing notify failed id=%d: %v", id, err)
		}
	}
	return r, nil
}

// RenderBriefing is the HTML body stored for a daily briefing.
func RenderBriefing(day time.Time, m analytics.Metrics) string {
	return fmt.Sprintf(
		`<div style="margin-bottom:10px;"><b>📅 Daily Briefing (%s)</b></div>`+"\n"+
			`<p><b>Summary:</b> Processed %d items today. %d were negative.</p>`,
		day.Format("2006-01-02"), m.Total, m.NegativeCount,
	)
}

const strategicInstructions = "You are a Strategic Product Lead. Output ONLY raw HTML. No markdown. No introductory text."

const strategicTemplate = `Analyze %d feedback items. Themes: %s.

Use strictly the following structure. Do not deviate.

<div class="header">📈 Strategic Product Pulse</div>

<div class="section-title">EXECUTIVE ASSESSMENT</div>
<p class="content-text">[One concise, professional sentence summarizing the current product health and user sentiment.]</p>

<div class="section-title">STRATEGIC ANALYSIS BY THEME</div>
<ul>
  <li><b>[Theme Name]:</b> [Strategic insight (e.g. "Critical friction point", "Stable", "High Growth")]</li>
  (Repeat for top themes)
</ul>

<div class="section-title">PRIORITY ACTION PLAN</div>
<ul>
  <li><b>P0 (Immediate):</b> [Highest urgency item]</li>
  <li><b>P1 (Next Sprint):</b> [Secondary priority]</li>
  <li><b>P2 (Watchlist):</b> [Item to monitor]</li>
</ul>`

// StrategicPrompt is the user text for the strategic report.
func StrategicPrompt(m analytics.Metrics) string {
	themes := "none yet"
	if len(m.UniqueThemes) > 0 {
		themes = strings.Join(m.UniqueThemes, ", ")
	}
	return fmt.Sprintf(strategicTemplate, m.Total, themes)
}

// StrategicReport asks the oracle for an HTML product assessment over every
// stored item.
func (s *Service) StrategicReport(ctx context.Context) (string, error) {
	items, err := s.store.ListFeedback(ctx, domain.ListFilter{})
	if err != nil {
		return "", fmt.Errorf("load feedback: %w", err)
	}
	m := analytics.Aggregate(items)
	if m.Empty() {
		return "", analytics.ErrNoData
	}
	reply, err := s.oracle.Run(ctx, strategicInstructions, StrategicPrompt(m))
	if err != nil {
		return "", fmt.Errorf("strategic report: %w", err)
	}
	log.Printf("report strategic items=%d themes=%d size=%d", m.Total, len(m.UniqueThemes), len(reply))
	return CleanHTMLReply(reply), nil
}

var (
	preambleRe = regexp.MustCompile(`(?is)^\s*here\s+is\s+the\s+analysis.*?html:\s*`)
	fenceRe    = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
)

// CleanHTMLReply drops a leading "Here is the analysis ... HTML:" preamble and
// markdown code fences that models add despite being told not to.
func CleanHTMLReply(reply string) string {
	reply = preambleRe.ReplaceAllString(reply, "")
	reply = fenceRe.ReplaceAllString(reply, "")
	reply = strings.ReplaceAll(reply, "```html", "")
	reply = strings.ReplaceAll(reply, "```", "")
	return strings.TrimSpace(reply)
}

type chatRecord struct {
	Content   string `json:"content"`
	Theme     string `json:"theme"`
	Sentiment string `json:"sentiment"`
}

const chatInstructions = "Answer strictly based on the data. Be concise."

// Ask answers a question using the newest feedback items as context.
func (s *Service) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	items, err := s.store.ListFeedback(ctx, domain.ListFilter{NewestFirst: true, Limit: s.chatLimit})
	if err != nil {
		return "", fmt.Errorf("load chat context: %w", err)
	}
	prompt, err := ChatPrompt(items, question)
	if err != nil {
		return "", err
	}
	answer, err := s.oracle.Run(ctx, chatInstructions, prompt)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	log.Printf("report chat context_items=%d question_len=%d answer_len=%d", len(items), len(question), len(answer))
	return strings.TrimSpace(answer), nil
}

// ChatPrompt serializes the context items and the question.
func ChatPrompt(items []domain.FeedbackItem, question string) (string, error) {
	records := make([]chatRecord, 0, len(items))
	for _, item := range items {
		records = append(records, chatRecord{Content: item.Content, Theme: item.Theme, Sentiment: item.Sentiment})
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("marshal chat context: %w", err)
	}
	return fmt.Sprintf("Data: %s. Question: %q.", data, question), nil
}
