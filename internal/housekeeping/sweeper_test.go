package housekeeping

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/zapr"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type fakeSweeper struct {
	calls atomic.Int32
}

func (f *fakeSweeper) SweepOnce(ctx context.Context, consumerName string) (int, error) {
	f.calls.Add(1)
	return 0, nil
}

func TestSweeperRunsOnSchedule(t *testing.T) {
	fake := &fakeSweeper{}
	logger := zap.NewNop()
	s := &Sweeper{
		cron:         cron.New(cron.WithLogger(zapr.NewLogger(logger))),
		worker:       fake,
		consumerName: "ttl-housekeeping-sweep",
		logger:       logger,
	}

	if err := s.Start(context.Background(), "@every 10ms"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if fake.calls.Load() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected at least one sweep to run")
}

func TestScheduleFromEnvDefault(t *testing.T) {
	t.Setenv("HOUSEKEEPING_SWEEP_SCHEDULE", "")
	if got := ScheduleFromEnv(); got != defaultSweepSchedule {
		t.Errorf("got %q, want %q", got, defaultSweepSchedule)
	}
}

func TestScheduleFromEnvOverride(t *testing.T) {
	t.Setenv("HOUSEKEEPING_SWEEP_SCHEDULE", "@every 1h")
	if got := ScheduleFromEnv(); got != "@every 1h" {
		t.Errorf("got %q, want %q", got, "@every 1h")
	}
}
