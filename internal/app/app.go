// Package app wires configuration, storage, the model oracle and the
// outer surfaces (HTTP API, Slack, schedules) into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/slack-go/slack"

	"feedbackintel/internal/analytics"
	"feedbackintel/internal/classify"
	"feedbackintel/internal/config"
	"feedbackintel/internal/httpx"
	"feedbackintel/internal/ingest"
	slackbot "feedbackintel/internal/integrations/slack"
	"feedbackintel/internal/integrations/llm"
	"feedbackintel/internal/report"
	"feedbackintel/internal/scheduler"
	"feedbackintel/internal/server"
	"feedbackintel/internal/storage"
)

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Provider=%s Model=%s DBDriver=%s HTTPAddr=%s Timezone=%s Concurrency=%d Feeds=%d Slack=%t ExternalHTTPTimeout=%s",
		cfg.LLMProvider,
		cfg.LLMModel,
		cfg.DBDriver,
		cfg.HTTPAddr,
		cfg.Timezone,
		cfg.ClassifyConcurrency,
		len(cfg.Feeds),
		cfg.SlackConfigured(),
		appliedHTTPTimeout,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, cfg); err != nil {
		log.Fatalf("feedbackintel: %v", err)
	}
	log.Println("Shutdown complete")
}

// Run blocks until ctx is cancelled or a surface fails.
func Run(ctx context.Context, cfg config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	oracle, err := llm.NewOracle(cfg)
	if err != nil {
		return fmt.Errorf("init llm: %w", err)
	}

	classifier := classify.New(oracle, store, classify.Options{
		Taxonomy:    cfg.TaxonomyOrDefault(),
		CallTimeout: cfg.LLMCallTimeout(),
		Concurrency: cfg.ClassifyConcurrency,
	})
	reporter := report.NewService(store, oracle, report.Options{
		Location:         cfg.Location,
		ChatContextLimit: cfg.ChatContextLimit,
	})
	importer := ingest.NewImporter(store, cfg.Feeds)

	var bot *slackbot.Bot
	if cfg.SlackConfigured() {
		api := slack.New(cfg.SlackBotToken, slack.OptionAppLevelToken(cfg.SlackAppToken))
		bot = slackbot.NewBot(api, store, classifier, reporter, slackbot.Config{
			ReportChannelID:          cfg.ReportChannelID,
			ClassifyOnlyUnclassified: cfg.ClassifyOnlyUnclassified,
		})
		reporter.SetNotifier(bot)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(cfg.Location, scheduledJobs(cfg, classifier, reporter, importer, oracle)...)
	if err := sched.Start(runCtx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := server.NewServer(server.Config{
		Addr:                     cfg.HTTPAddr,
		APIToken:                 cfg.APIToken,
		ReportHistoryLimit:       cfg.ReportHistoryLimit,
		ClassifyOnlyUnclassified: cfg.ClassifyOnlyUnclassified,
	}, server.Deps{
		Store:      store,
		Classifier: classifier,
		Reporter:   reporter,
		Importer:   importer,
	})

	errCh := make(chan error, 2)
	surfaces := 1
	go func() {
		errCh <- srv.Run(runCtx)
	}()
	if bot != nil {
		surfaces++
		log.Println("Starting Slack bot...")
		go func() {
			if err := bot.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("slack bot: %w", err)
				return
			}
			errCh <- nil
		}()
	}

	// the first surface to return stops the others
	for i := 0; i < surfaces; i++ {
		if runErr := <-errCh; runErr != nil && err == nil {
			err = runErr
		}
		cancel()
	}
	sched.Wait()
	return err
}

func openStore(cfg config.Config) (*storage.Store, error) {
	dsn := cfg.DBPath
	if cfg.DBDriver == storage.DriverPostgres {
		dsn = cfg.DatabaseURL
	}
	store, err := storage.Open(cfg.DBDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if cfg.DBDriver == storage.DriverSQLite {
		log.Printf("Database initialized at %s", cfg.DBPath)
	} else {
		log.Printf("Database initialized driver=%s", cfg.DBDriver)
	}
	return store, nil
}

type usageReporter interface {
	Usage() llm.LLMUsage
}

func scheduledJobs(cfg config.Config, classifier *classify.Classifier, reporter *report.Service, importer *ingest.Importer, oracle llm.Oracle) []scheduler.Job {
	jobs := []scheduler.Job{
		{
			Name:     "daily-briefing",
			Schedule: cfg.DailyReportSchedule,
			Run: func(ctx context.Context) error {
				r, err := reporter.DailyBriefing(ctx)
				if errors.Is(err, analytics.ErrNoData) {
					log.Printf("daily-briefing skipped: no feedback in the last 24h")
					return nil
				}
				if err != nil {
					return err
				}
				log.Printf("daily-briefing stored id=%d", r.ID)
				return nil
			},
		},
		{
			Name:     "classify",
			Schedule: cfg.ClassifySchedule,
			Run: func(ctx context.Context) error {
				start := time.Now()
				res, err := classifier.Run(ctx, classify.RunOptions{OnlyUnclassified: cfg.ClassifyOnlyUnclassified})
				if err != nil {
					return err
				}
				if u, ok := oracle.(usageReporter); ok {
					usage := u.Usage()
					log.Printf("classify elapsed=%s llm_total_calls=%d llm_total_tokens=%d", time.Since(start).Round(time.Millisecond), usage.Calls, usage.TotalTokens())
				}
				log.Printf("classify run=%s classified=%d/%d", res.RunID, res.Classified, res.Total)
				return nil
			},
		},
	}
	if importer.Configured() {
		jobs = append(jobs, scheduler.Job{
			Name:     "ingest",
			Schedule: cfg.IngestSchedule,
			Run: func(ctx context.Context) error {
				res, err := importer.Import(ctx)
				if err != nil {
					return err
				}
				log.Printf("ingest %s", ingest.FormatImportSummary(res))
				return nil
			},
		})
	}
	return jobs
}
