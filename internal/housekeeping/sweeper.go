// Package housekeeping runs a small set of recurring maintenance jobs
// alongside the TTL worker (§2.2/§4.4): a defensive backstop sweep that
// reaps any timer deliveries the main worker loop failed to pick up.
//
// Scheduling uses github.com/robfig/cron/v3 rather than a bare ticker so
// operators can configure the sweep cadence with standard cron syntax
// (HOUSEKEEPING_SWEEP_SCHEDULE), the same as the rest of this tree's
// scheduled jobs.
package housekeeping

import (
	"context"
	"os"

	"github.com/go-logr/zapr"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/demon-systems/demon/internal/ttlworker"
)

const defaultSweepSchedule = "@every 5m"

// sweeper is the interface housekeeping needs from the TTL worker, kept
// narrow so tests can substitute a fake.
type sweeper interface {
	SweepOnce(ctx context.Context, consumerName string) (int, error)
}

// Sweeper drives the cron-scheduled housekeeping job.
type Sweeper struct {
	cron         *cron.Cron
	worker       sweeper
	consumerName string
	logger       *zap.Logger
}

// New constructs a Sweeper. logger may be nil.
func New(worker *ttlworker.Worker, consumerName string, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("housekeeping")
	return &Sweeper{
		cron:         cron.New(cron.WithLogger(zapr.NewLogger(logger))),
		worker:       worker,
		consumerName: consumerName,
		logger:       logger,
	}
}

// ScheduleFromEnv returns HOUSEKEEPING_SWEEP_SCHEDULE, or the package
// default if unset.
func ScheduleFromEnv() string {
	if v := os.Getenv("HOUSEKEEPING_SWEEP_SCHEDULE"); v != "" {
		return v
	}
	return defaultSweepSchedule
}

// Start registers the sweep job on schedule and begins running it in the
// background. Returns an error only if schedule fails to parse.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		n, err := s.worker.SweepOnce(ctx, s.consumerName)
		if err != nil {
			s.logger.Warn("housekeeping sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			s.logger.Info("housekeeping sweep reaped stray deliveries", zap.Int("count", n))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop waits for any in-flight sweep to finish and stops the scheduler.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
