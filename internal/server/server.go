// Package server exposes the feedback pipeline as a JSON HTTP API.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"feedbackintel/internal/classify"
	"feedbackintel/internal/domain"
	"feedbackintel/internal/ingest"
)

type Store interface {
	ListFeedback(ctx context.Context, f domain.ListFilter) ([]domain.FeedbackItem, error)
	InsertFeedback(ctx context.Context, item domain.FeedbackItem) (int64, error)
	GetFeedback(ctx context.Context, id int64) (domain.FeedbackItem, error)
	ListReports(ctx context.Context, limit int) ([]domain.DailyReport, error)
	Reset(ctx context.Context) error
	Seed(ctx context.Context, now time.Time) (int, error)
}

type Classifier interface {
	Run(ctx context.Context, opts classify.RunOptions) (classify.BatchResult, error)
}

type Reporter interface {
	DailyBriefing(ctx context.Context) (domain.DailyReport, error)
	StrategicReport(ctx context.Context) (string, error)
	Ask(ctx context.Context, question string) (string, error)
}

type Importer interface {
	Import(ctx context.Context) (ingest.ImportResult, error)
}

type Config struct {
	Addr                     string
	APIToken                 string // empty disables auth on /api/v1
	ReportHistoryLimit       int
	ClassifyOnlyUnclassified bool
}

type Deps struct {
	Store      Store
	Classifier Classifier
	Reporter   Reporter
	Importer   Importer // optional
}

type Server struct {
	app  *fiber.App
	cfg  Config
	deps Deps
}

func NewServer(cfg Config, deps Deps) *Server {
	if cfg.ReportHistoryLimit <= 0 {
		cfg.ReportHistoryLimit = 5
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		// classification and report generation wait on the model
		WriteTimeout: 10 * time.Minute,
		ErrorHandler: jsonErrorHandler,
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{Format: "${time} | ${status} | ${latency} | ${method} ${path}\n"}))
	app.Use(cors.New())

	srv := &Server{app: app, cfg: cfg, deps: deps}
	srv.registerRoutes()
	return srv
}

// App exposes the fiber app for in-process requests (tests).
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.app.Shutdown()
	}()

	log.Printf("http api listening on %s auth=%t", s.cfg.Addr, s.cfg.APIToken != "")
	return s.app.Listen(s.cfg.Addr)
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.app.Group("/api/v1", bearerAuth(s.cfg.APIToken))
	api.Get("/feedback", s.handleListFeedback)
	api.Post("/feedback", s.handleCreateFeedback)
	api.Get("/feedback/:id", s.handleGetFeedback)
	api.Get("/metrics", s.handleMetrics)
	api.Get("/reports", s.handleListReports)
	api.Post("/process", s.handleProcess)
	api.Post("/report", s.handleStrategicReport)
	api.Post("/briefing", s.handleDailyBriefing)
	api.Get("/chat", s.handleChat)
	api.Post("/seed", s.handleSeed)
	api.Post("/reset", s.handleReset)
	api.Post("/import", s.handleImport)
}

// bearerAuth requires "Authorization: Bearer <token>" when token is set.
func bearerAuth(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing Authorization header")
		}
		scheme, given, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid Authorization header format")
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}
		return c.Next()
	}
}

func jsonErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		log.Printf("http %s %s error: %v", c.Method(), c.Path(), err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
