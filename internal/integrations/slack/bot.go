// Package slackbot serves the feedback pipeline over Slack slash commands in
// Socket Mode and posts daily briefings to a channel.
package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"feedbackintel/internal/analytics"
	"feedbackintel/internal/classify"
	"feedbackintel/internal/domain"
	"feedbackintel/internal/report"
	"feedbackintel/internal/textutil"
)

const (
	cmdStats   = "/feedback-stats"
	cmdProcess = "/feedback-process"
	cmdAsk     = "/feedback-ask"
	cmdReport  = "/feedback-report"
	cmdHelp    = "/feedback-help"

	maxMessageRunes = 3500
)

type Store interface {
	ListFeedback(ctx context.Context, f domain.ListFilter) ([]domain.FeedbackItem, error)
}

type Classifier interface {
	Run(ctx context.Context, opts classify.RunOptions) (classify.BatchResult, error)
}

type Reporter interface {
	StrategicReport(ctx context.Context) (string, error)
	Ask(ctx context.Context, question string) (string, error)
}

// Poster is the part of *slack.Client used to reply.
type Poster interface {
	PostEphemeral(channelID, userID string, options ...slack.MsgOption) (string, error)
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

type Config struct {
	ReportChannelID          string
	ClassifyOnlyUnclassified bool
}

type Bot struct {
	api        *slack.Client
	poster     Poster
	store      Store
	classifier Classifier
	reporter   Reporter
	cfg        Config
}

func NewBot(api *slack.Client, store Store, classifier Classifier, reporter Reporter, cfg Config) *Bot {
	return &Bot{api: api, poster: api, store: store, classifier: classifier, reporter: reporter, cfg: cfg}
}

// Run handles Socket Mode events until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	client := socketmode.New(b.api)

	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeSlashCommand:
				client.Ack(*evt.Request)
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				log.Printf("Slash command received: %s from user=%s channel=%s", cmd.Command, cmd.UserID, cmd.ChannelID)
				go b.handleSlashCommand(ctx, cmd)
			case socketmode.EventTypeConnected:
				log.Println("Slack bot connected via Socket Mode")
			case socketmode.EventTypeConnectionError:
				log.Printf("Slack socket mode connection error: %v", evt.Data)
			}
		}
	}()

	return client.RunContext(ctx)
}

func (b *Bot) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	switch cmd.Command {
	case cmdStats:
		b.handleStats(ctx, cmd)
	case cmdProcess:
		b.handleProcess(ctx, cmd)
	case cmdAsk:
		b.handleAsk(ctx, cmd)
	case cmdReport:
		b.handleReport(ctx, cmd)
	case cmdHelp:
		b.handleHelp(cmd)
	default:
		b.postEphemeral(cmd, fmt.Sprintf("Unknown command %s. Try %s.", cmd.Command, cmdHelp))
	}
}

func (b *Bot) handleStats(ctx context.Context, cmd slack.SlashCommand) {
	items, err := b.store.ListFeedback(ctx, domain.ListFilter{})
	if err != nil {
		b.postEphemeral(cmd, fmt.Sprintf("Error loading feedback: %v", err))
		log.Printf("feedback-stats error: %v", err)
		return
	}
	f := ParseFilterArgs(cmd.Text)
	m := analytics.Aggregate(analytics.Apply(items, f.Compile()))
	b.postEphemeral(cmd, FormatStats(m, f))
	log.Printf("feedback-stats sent user=%s total=%d", cmd.UserID, m.Total)
}

func (b *Bot) handleProcess(ctx context.Context, cmd slack.SlashCommand) {
	only := b.cfg.ClassifyOnlyUnclassified
	switch strings.ToLower(strings.TrimSpace(cmd.Text)) {
	case "all":
		only = false
	case "new", "unclassified":
		only = true
	}
	b.postEphemeral(cmd, "Classifying feedback... this can take a while.")
	res, err := b.classifier.Run(ctx, classify.RunOptions{OnlyUnclassified: only})
	if err != nil {
		b.postEphemeral(cmd, fmt.Sprintf("Error classifying feedback: %v", err))
		return
	}
	b.postEphemeral(cmd, FormatBatch(res))
}

func (b *Bot) handleAsk(ctx context.Context, cmd slack.SlashCommand) {
	answer, err := b.reporter.Ask(ctx, cmd.Text)
	if errors.Is(err, report.ErrEmptyQuestion) {
		b.postEphemeral(cmd, fmt.Sprintf("Usage: `%s <question>`", cmdAsk))
		return
	}
	if err != nil {
		b.postEphemeral(cmd, fmt.Sprintf("Error answering: %v", err))
		log.Printf("feedback-ask error: %v", err)
		return
	}
	b.postEphemeral(cmd, fmt.Sprintf("> %s\n%s", strings.TrimSpace(cmd.Text), answer))
}

func (b *Bot) handleReport(ctx context.Context, cmd slack.SlashCommand) {
	html, err := b.reporter.StrategicReport(ctx)
	if errors.Is(err, analytics.ErrNoData) {
		b.postEphemeral(cmd, "No feedback yet. Import or seed some data first.")
		return
	}
	if err != nil {
		b.postEphemeral(cmd, fmt.Sprintf("Error generating report: %v", err))
		log.Printf("feedback-report error: %v", err)
		return
	}
	b.postEphemeral(cmd, textutil.Truncate(textutil.ReportText(html), maxMessageRunes))
}

func (b *Bot) handleHelp(cmd slack.SlashCommand) {
	lines := []string{
		"*Feedback Intelligence Commands*",
		"",
		"`/feedback-stats [channel=Email theme=bugs day=05-01 ...]` Show metrics, optionally filtered.",
		"`/feedback-process [all|new]` Classify stored feedback.",
		"`/feedback-ask <question>` Ask a question about recent feedback.",
		"`/feedback-report` Generate the strategic product report.",
		"`/feedback-help` Show this help.",
	}
	b.postEphemeral(cmd, strings.Join(lines, "\n"))
}

// PostBriefing sends a stored daily briefing to the report channel.
func (b *Bot) PostBriefing(_ context.Context, r domain.DailyReport) error {
	if b.cfg.ReportChannelID == "" {
		return nil
	}
	_, _, err := b.poster.PostMessage(b.cfg.ReportChannelID, slack.MsgOptionText(textutil.ReportText(r.Content), false))
	if err != nil {
		return fmt.Errorf("post briefing: %w", err)
	}
	log.Printf("daily briefing posted channel=%s id=%d", b.cfg.ReportChannelID, r.ID)
	return nil
}

func (b *Bot) postEphemeral(cmd slack.SlashCommand, text string) {
	_, err := b.poster.PostEphemeral(cmd.ChannelID, cmd.UserID, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("Error posting ephemeral: %v", err)
	}
}

var filterKeyRe = regexp.MustCompile(`(?i)\b(day|channel|theme|sentiment|urgency|q)=`)

// ParseFilterArgs reads "key=value" pairs. A value runs until the next key,
// so "channel=App Store theme=bugs" keeps the space in the channel name.
func ParseFilterArgs(text string) analytics.Filter {
	values := map[string]string{}
	locs := filterKeyRe.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		key := strings.ToLower(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		values[key] = strings.TrimSpace(text[loc[1]:end])
	}
	return analytics.FilterFromQuery(func(k string) string { return values[k] })
}

// FormatStats renders Metrics as a Slack message.
func FormatStats(m analytics.Metrics, f analytics.Filter) string {
	var sb strings.Builder
	sb.WriteString("*Feedback Metrics*")
	if desc := describeFilter(f); desc != "" {
		sb.WriteString(" (" + desc + ")")
	}
	sb.WriteString("\n\n")
	if m.Empty() {
		sb.WriteString("No feedback matches.")
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("- Total: %d\n", m.Total))
	sb.WriteString(fmt.Sprintf("- Negative: %d\n", m.NegativeCount))
	sb.WriteString(fmt.Sprintf("- Avg urgency: %s\n", m.AvgUrgency))

	if len(m.ThemeCounts) > 0 {
		sb.WriteString("\n*Themes*\n")
		themes := append([]string(nil), m.UniqueThemes...)
		sort.SliceStable(themes, func(i, j int) bool { return m.ThemeCounts[themes[i]] > m.ThemeCounts[themes[j]] })
		for _, t := range themes {
			sb.WriteString(fmt.Sprintf("- %s: %d\n", t, m.ThemeCounts[t]))
		}
	}

	sb.WriteString("\n*Trend*\n")
	for _, day := range m.Days() {
		point := m.TrendByDay[day]
		sb.WriteString(fmt.Sprintf("- %s: %d items, avg urgency %.1f\n", day, point.Count, point.AvgUrgency()))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func describeFilter(f analytics.Filter) string {
	var parts []string
	add := func(k, v string) {
		v = strings.TrimSpace(v)
		if v != "" && !strings.EqualFold(v, analytics.Wildcard) {
			parts = append(parts, k+"="+v)
		}
	}
	add("day", f.Day)
	add("channel", f.Channel)
	add("theme", f.Theme)
	add("sentiment", f.Sentiment)
	add("urgency", f.Urgency)
	add("q", f.Content)
	return strings.Join(parts, ", ")
}

// FormatBatch summarizes a classification run.
func FormatBatch(r classify.BatchResult) string {
	s := fmt.Sprintf("Classified %d of %d items", r.Classified, r.Total)
	if r.Fallbacks > 0 {
		s += fmt.Sprintf(" (%d with default labels)", r.Fallbacks)
	}
	s += "."
	if skipped := r.CallFailures + r.WriteFailures; skipped > 0 {
		s += fmt.Sprintf(" %d skipped and left unchanged.", skipped)
	}
	return s + fmt.Sprintf(" Run %s.", r.RunID)
}
