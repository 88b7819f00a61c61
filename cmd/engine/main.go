// Command engine runs the ritual orchestration service: the event-sourced
// workflow engine, approval gates, graph commit store, and the operator
// HTTP surface, all backed by a single NATS JetStream connection.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/demon-systems/demon/internal/approval"
	"github.com/demon-systems/demon/internal/capsule"
	"github.com/demon-systems/demon/internal/eventlog"
	"github.com/demon-systems/demon/internal/graph"
	"github.com/demon-systems/demon/internal/housekeeping"
	"github.com/demon-systems/demon/internal/ritual"
	"github.com/demon-systems/demon/internal/scalehint"
	"github.com/demon-systems/demon/internal/server"
	"github.com/demon-systems/demon/internal/telemetry"
	"github.com/demon-systems/demon/internal/ttlworker"
)

// version is overridden at build time via -ldflags, matching the teacher's
// own unset-by-default scheme. It is reported as the OTel resource's
// service.version attribute.
var version = "dev"

// Config holds the engine's startup configuration, loaded entirely from
// environment variables (§6).
type Config struct {
	NATSURL      string
	ListenAddr   string
	Tenant       string
	PostgresDSN  string
	OTLPEndpoint string
}

func loadConfig() Config {
	cfg := Config{
		NATSURL:      os.Getenv("NATS_URL"),
		ListenAddr:   os.Getenv("DEMON_LISTEN_ADDR"),
		Tenant:       os.Getenv("DEMON_TENANT"),
		PostgresDSN:  os.Getenv("DEMON_POSTGRES_DSN"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if cfg.NATSURL == "" {
		cfg.NATSURL = "nats://127.0.0.1:4222"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Tenant == "" {
		cfg.Tenant = "default"
	}
	return cfg
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := loadConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		logger.Fatal("failed to init trace provider", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace provider shutdown failed", zap.Error(err))
		}
	}()

	log, err := eventlog.Dial(ctx, cfg.NATSURL)
	if err != nil {
		logger.Fatal("failed to dial event log", zap.Error(err))
	}
	defer log.Close()

	if err := log.GetOrCreateStream(ctx, eventlog.StreamRitualEvents, []string{eventlog.WildcardRitual}); err != nil {
		logger.Fatal("failed to provision ritual stream", zap.Error(err))
	}
	if err := log.GetOrCreateStream(ctx, eventlog.StreamGraphCommits, []string{eventlog.WildcardGraph}); err != nil {
		logger.Fatal("failed to provision graph stream", zap.Error(err))
	}
	if err := log.GetOrCreateStream(ctx, eventlog.StreamScaleHints, []string{eventlog.WildcardScale}); err != nil {
		logger.Fatal("failed to provision scale-hint stream", zap.Error(err))
	}

	escalationCfg, err := approval.ConfigFromEnv()
	if err != nil {
		logger.Fatal("failed to load escalation rules", zap.Error(err))
	}
	approvals := approval.NewManager(log, escalationCfg, logger.Named("approval"))

	capsuleRunner := capsule.New(logger.Named("capsule"))
	engine := ritual.New(log, approvals, capsule.NewEngineAdapter(capsuleRunner), ritual.DefaultConfig(), logger.Named("ritual"))

	var tagStore graph.TagStore
	if cfg.PostgresDSN != "" {
		pgStore, err := graph.OpenPostgresTagStore(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres tag store", zap.Error(err))
		}
		defer pgStore.Close()
		tagStore = pgStore
	}
	graphStore := graph.New(log, tagStore, logger.Named("graph"))

	// wg tracks every background worker goroutine so main can block on their
	// exit before the deferred closers (log, pgStore) tear down the
	// connections those goroutines are still using.
	var wg sync.WaitGroup

	ttlCfg := ttlworker.ConfigFromEnv()
	ttl := ttlworker.New(log, log, approvals, ttlCfg, logger.Named("ttlworker"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ttl.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("ttl worker stopped", zap.Error(err))
		}
	}()

	sweeper := housekeeping.New(ttl, "ttl-housekeeping-sweep", logger.Named("housekeeping"))
	if err := sweeper.Start(ctx, housekeeping.ScheduleFromEnv()); err != nil {
		logger.Fatal("failed to start housekeeping sweep", zap.Error(err))
	}
	defer sweeper.Stop()

	scaleCfg := scalehint.ConfigFromEnv()
	if scaleCfg.Enabled {
		emitter := scalehint.New(scaleCfg, log, cfg.Tenant, logger.Named("scalehint"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			runScaleHintLoop(ctx, emitter, &ttl.Counters, logger.Named("scalehint"))
		}()
	}

	// Blocks until both background goroutines above have returned; declared
	// after their defer sweeper.Stop/defer pgStore.Close/defer log.Close so
	// it runs first during unwind and those connections aren't closed out
	// from under a goroutine still mid-Publish/FetchBySubject.
	defer wg.Wait()

	// No ritual definitions are preloaded; operators register them out of
	// band (a future admin endpoint, not a registered HTTP route yet) and
	// StartRun 404s with RITUAL_NOT_FOUND until one is Put into the registry.
	registry := server.NewStaticRegistry()
	srv := server.New(server.Config{ListenAddr: cfg.ListenAddr, Tenant: cfg.Tenant}, log, engine, approvals, graphStore, registry, logger.Named("server"))

	logger.Info("engine starting",
		zap.String("addr", cfg.ListenAddr),
		zap.String("natsUrl", cfg.NATSURL),
		zap.String("tenant", cfg.Tenant),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
	}
	logger.Info("engine stopped")
}

// runScaleHintLoop samples the ttl worker's counters on a fixed interval and
// feeds them to the emitter. Queue depth and latency have no direct signal
// in this process, so only the processed/error counts are real; queueLag and
// p95 latency are reported as zero until a metrics source for them exists.
func runScaleHintLoop(ctx context.Context, emitter *scalehint.Emitter, counters *ttlworker.Counters, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	var lastProcessed, lastErrors uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed := counters.Handled()
			errs := counters.Expired()
			deltaProcessed := processed - lastProcessed
			deltaErrors := errs - lastErrors
			lastProcessed, lastErrors = processed, errs

			var errRate float64
			if deltaProcessed > 0 {
				errRate = float64(deltaErrors) / float64(deltaProcessed)
			}
			metrics := scalehint.Metrics{
				QueueLag:       0,
				P95LatencyMs:   0,
				ErrorRate:      errRate,
				TotalProcessed: processed,
				TotalErrors:    errs,
			}
			if _, err := emitter.EvaluateAndEmit(ctx, metrics); err != nil {
				logger.Warn("scale hint emission failed", zap.Error(err))
			}
		}
	}
}
