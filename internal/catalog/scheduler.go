package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs generation five minutes past midnight UTC.
const DefaultSchedule = "5 0 * * *"

// Scheduler runs a Generator on a cron schedule in UTC.
type Scheduler struct {
	gen     *Generator
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
}

// NewScheduler parses spec (standard five-field cron) and registers the job.
func NewScheduler(gen *Generator, spec string, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		gen:     gen,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		logger:  logger,
		timeout: time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("generation scheduler started", "next", s.Next().Format(time.RFC3339))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// Next returns the next scheduled run, or the zero time before Run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(time.Now().UTC())
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.gen.GenerateToday(ctx); err != nil {
		s.logger.Error("scheduled generation failed", "error", err)
	}
}
