package server

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"feedbackintel/internal/analytics"
	"feedbackintel/internal/classify"
	"feedbackintel/internal/domain"
	"feedbackintel/internal/ingest"
	"feedbackintel/internal/report"
)

type feedbackView struct {
	ID        int64      `json:"id"`
	Source    string     `json:"source"`
	Content   string     `json:"content"`
	Theme     string     `json:"theme,omitempty"`
	Sentiment string     `json:"sentiment,omitempty"`
	Urgency   int        `json:"urgency,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	Day       string     `json:"day"`
}

func toView(item domain.FeedbackItem) feedbackView {
	v := feedbackView{
		ID:        item.ID,
		Source:    item.Source,
		Content:   item.Content,
		Theme:     item.Theme,
		Sentiment: item.Sentiment,
		Urgency:   item.Urgency,
		Day:       domain.DayKey(item.CreatedAt),
	}
	if !item.CreatedAt.IsZero() {
		t := item.CreatedAt
		v.CreatedAt = &t
	}
	return v
}

type trendPoint struct {
	Day        string  `json:"day"`
	Count      int     `json:"count"`
	AvgUrgency float64 `json:"avgUrgency"`
}

// filtered loads every item newest first and narrows it with the request's
// filter query.
func (s *Server) filtered(c *fiber.Ctx) ([]domain.FeedbackItem, int, error) {
	items, err := s.deps.Store.ListFeedback(c.UserContext(), domain.ListFilter{NewestFirst: true})
	if err != nil {
		return nil, 0, fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("list feedback: %v", err))
	}
	f := analytics.FilterFromQuery(func(key string) string { return c.Query(key) })
	return analytics.Apply(items, f.Compile()), len(items), nil
}

func (s *Server) handleListFeedback(c *fiber.Ctx) error {
	items, total, err := s.filtered(c)
	if err != nil {
		return err
	}
	views := make([]feedbackView, 0, len(items))
	for _, item := range items {
		views = append(views, toView(item))
	}
	return c.JSON(fiber.Map{
		"data": views,
		"meta": fiber.Map{"count": len(views), "total": total},
	})
}

type createFeedbackInput struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

func (s *Server) handleCreateFeedback(c *fiber.Ctx) error {
	var payload createFeedbackInput
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	payload.Content = strings.TrimSpace(payload.Content)
	if payload.Content == "" {
		return fiber.NewError(fiber.StatusBadRequest, "content is required")
	}
	payload.Source = strings.TrimSpace(payload.Source)
	if payload.Source == "" {
		payload.Source = "API"
	}

	item := domain.FeedbackItem{Source: payload.Source, Content: payload.Content, CreatedAt: time.Now()}
	id, err := s.deps.Store.InsertFeedback(c.UserContext(), item)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("create feedback: %v", err))
	}
	item.ID = id
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": toView(item)})
}

func (s *Server) handleGetFeedback(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	item, err := s.deps.Store.GetFeedback(c.UserContext(), int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return fiber.NewError(fiber.StatusNotFound, "feedback not found")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("get feedback: %v", err))
	}
	return c.JSON(fiber.Map{"data": toView(item)})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	items, total, err := s.filtered(c)
	if err != nil {
		return err
	}
	m := analytics.Aggregate(items)
	trend := make([]trendPoint, 0, len(m.TrendByDay))
	for _, day := range m.Days() {
		point := m.TrendByDay[day]
		trend = append(trend, trendPoint{Day: day, Count: point.Count, AvgUrgency: point.AvgUrgency()})
	}
	return c.JSON(fiber.Map{
		"data": m,
		"meta": fiber.Map{"trend": trend, "total": total},
	})
}

func (s *Server) handleListReports(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", s.cfg.ReportHistoryLimit)
	if limit <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "limit must be positive")
	}
	reports, err := s.deps.Store.ListReports(c.UserContext(), limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("list reports: %v", err))
	}
	if reports == nil {
		reports = []domain.DailyReport{}
	}
	return c.JSON(fiber.Map{"data": reports, "meta": fiber.Map{"count": len(reports)}})
}

func (s *Server) handleProcess(c *fiber.Ctx) error {
	opts := classify.RunOptions{OnlyUnclassified: c.QueryBool("only_unclassified", s.cfg.ClassifyOnlyUnclassified)}
	res, err := s.deps.Classifier.Run(c.UserContext(), opts)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("process: %v", err))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"runId":         res.RunID,
		"total":         res.Total,
		"classified":    res.Classified,
		"fallbacks":     res.Fallbacks,
		"callFailures":  res.CallFailures,
		"writeFailures": res.WriteFailures,
		"durationMs":    res.Duration.Milliseconds(),
	}})
}

func (s *Server) handleStrategicReport(c *fiber.Ctx) error {
	html, err := s.deps.Reporter.StrategicReport(c.UserContext())
	if errors.Is(err, analytics.ErrNoData) {
		return fiber.NewError(fiber.StatusNotFound, "no data")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("report: %v", err))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"html": html}})
}

func (s *Server) handleDailyBriefing(c *fiber.Ctx) error {
	r, err := s.deps.Reporter.DailyBriefing(c.UserContext())
	if errors.Is(err, analytics.ErrNoData) {
		return fiber.NewError(fiber.StatusNotFound, "no data")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("briefing: %v", err))
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": r})
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	answer, err := s.deps.Reporter.Ask(c.UserContext(), c.Query("q"))
	if errors.Is(err, report.ErrEmptyQuestion) {
		return fiber.NewError(fiber.StatusBadRequest, "q is required")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("chat: %v", err))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"answer": answer}})
}

func (s *Server) handleSeed(c *fiber.Ctx) error {
	n, err := s.deps.Store.Seed(c.UserContext(), time.Now())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("seed: %v", err))
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fiber.Map{"inserted": n}})
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	if err := s.deps.Store.Reset(c.UserContext()); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("reset: %v", err))
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleImport(c *fiber.Ctx) error {
	if s.deps.Importer == nil {
		return fiber.NewError(fiber.StatusBadRequest, ingest.ErrNoFeeds.Error())
	}
	res, err := s.deps.Importer.Import(c.UserContext())
	if errors.Is(err, ingest.ErrNoFeeds) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("import: %v", err))
	}
	return c.JSON(fiber.Map{"data": res, "meta": fiber.Map{"summary": ingest.FormatImportSummary(res)}})
}
