// Package scheduler runs periodic jobs on standard 5-field cron expressions
// (minute hour day-of-month month day-of-week), e.g. "0 8 * * *" for 8am daily.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"feedbackintel/internal/config"
)

type Job struct {
	Name     string
	Schedule string // "" or "off" disables the job
	Run      func(ctx context.Context) error
}

// Scheduler owns one goroutine per enabled job. Jobs stop when the context
// passed to Start is cancelled.
type Scheduler struct {
	loc  *time.Location
	jobs []Job
	wg   sync.WaitGroup
}

func New(loc *time.Location, jobs ...Job) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{loc: loc, jobs: jobs}
}

// Start validates every schedule, then launches the enabled jobs. Nothing is
// started when any schedule is invalid.
func (s *Scheduler) Start(ctx context.Context) error {
	type planned struct {
		job   Job
		sched cron.Schedule
	}
	var plan []planned
	for _, job := range s.jobs {
		if config.ScheduleDisabled(job.Schedule) {
			log.Printf("scheduler job=%s disabled", job.Name)
			continue
		}
		sched, err := config.ParseSchedule(job.Schedule)
		if err != nil {
			return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Schedule, err)
		}
		plan = append(plan, planned{job: job, sched: sched})
	}
	for _, p := range plan {
		log.Printf("scheduler job=%s scheduled (cron: %s)", p.job.Name, p.job.Schedule)
		s.wg.Add(1)
		go func(job Job, sched cron.Schedule) {
			defer s.wg.Done()
			s.loop(ctx, job, sched)
		}(p.job, p.sched)
	}
	return nil
}

// Wait blocks until every job loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job, sched cron.Schedule) {
	for {
		now := time.Now().In(s.loc)
		next := sched.Next(now)
		wait := next.Sub(now)
		if wait >= time.Minute {
			log.Printf("scheduler job=%s next=%s (in %s)", job.Name, next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("scheduler job=%s stopped", job.Name)
			return
		case <-timer.C:
		}

		started := time.Now()
		if err := runSafely(ctx, job); err != nil {
			log.Printf("scheduler job=%s error: %v", job.Name, err)
		} else {
			log.Printf("scheduler job=%s done in %s", job.Name, time.Since(started).Round(time.Millisecond))
		}
	}
}

// runSafely keeps a panicking job from killing its loop.
func runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}
