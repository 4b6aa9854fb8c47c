package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kakoi/api"
	"github.com/ashita-ai/kakoi/internal/audit"
	"github.com/ashita-ai/kakoi/internal/auth"
	"github.com/ashita-ai/kakoi/internal/config"
	"github.com/ashita-ai/kakoi/internal/mcp"
	"github.com/ashita-ai/kakoi/internal/ratelimit"
	"github.com/ashita-ai/kakoi/internal/rollout"
	"github.com/ashita-ai/kakoi/internal/server"
	"github.com/ashita-ai/kakoi/internal/storage"
	"github.com/ashita-ai/kakoi/internal/telemetry"
	"github.com/ashita-ai/kakoi/internal/tenant"
	"github.com/ashita-ai/kakoi/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KAKOI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("kakoi starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.AcquireTimeout, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// Run migrations. Applied files are tracked in schema_migrations, so
	// errors here indicate real failures, not re-runs.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Seed the bootstrap admin actor if an admin key is configured.
	if cfg.AdminAPIKey != "" {
		keyHash, err := auth.HashAPIKey(cfg.AdminAPIKey)
		if err != nil {
			return fmt.Errorf("hash admin key: %w", err)
		}
		if err := db.EnsureBootstrapAdmin(ctx, "kakoi-admin", keyHash); err != nil {
			slog.Warn("admin seed failed", "error", err)
		}
	}

	// Tenant resolver, audit pipeline, rollout controller.
	resolver := tenant.NewResolver(db, logger)
	recorder := audit.NewRecorder(db, logger)

	buf := audit.NewBuffer(db, logger, cfg.AuditBufferSize, cfg.AuditFlushInterval)
	buf.Start(ctx)

	evaluator := audit.NewEvaluator(db, db, audit.Thresholds{
		MinShadowDuration: cfg.MinShadowDuration,
		MaxShadowDuration: cfg.MaxShadowDuration,
		MinAuditVolume:    cfg.MinAuditVolume,
	})
	controller := rollout.NewController(db, evaluator, logger)

	// MCP server (mounted at /mcp on the HTTP server).
	mcpSrv := mcp.New(db, resolver, recorder, logger)

	// Rate limiters: one keyed by actor for the data plane, one keyed by
	// IP for unauthenticated token exchange.
	var limiter, authLimiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		m := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = m.Close() }()
		a := ratelimit.NewMemoryLimiter(1, 20)
		defer func() { _ = a.Close() }()
		limiter, authLimiter = m, a
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter, authLimiter = ratelimit.NoopLimiter{}, ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Resolver:            resolver,
		Recorder:            recorder,
		Evaluator:           evaluator,
		Controller:          controller,
		Buffer:              buf,
		Limiter:             limiter,
		AuthLimiter:         authLimiter,
		MCPServer:           mcpSrv.MCPServer(),
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	})

	// Alarm on rollouts sitting in shadow past the maximum bound.
	go stuckRolloutLoop(ctx, db, evaluator, logger, cfg.StuckCheckInterval)

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting requests and drain in-flight
	// handlers (they may still enqueue audit entries), then flush the
	// audit buffer.
	slog.Info("kakoi shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	bufCtx, bufCancel := context.WithTimeout(context.Background(), 10*time.Second)
	buf.Drain(bufCtx)
	bufCancel()

	slog.Info("kakoi stopped")
	return nil
}

// stuckRolloutLoop periodically evaluates every project and raises an
// alarm log for any shadow rollout past the maximum bound. The evaluator
// flags them; this loop just makes sure someone sees it without polling
// the eligibility endpoint.
func stuckRolloutLoop(ctx context.Context, db *storage.DB, evaluator *audit.Evaluator, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := db.ListProjectIDs(ctx)
			if err != nil {
				logger.Warn("stuck check: list projects failed", "error", err)
				continue
			}
			for _, id := range ids {
				report, err := evaluator.Evaluate(ctx, id)
				if err != nil {
					logger.Warn("stuck check: evaluate failed", "error", err, "project_id", id)
					continue
				}
				if report.Recommendation == audit.RecommendationStuck {
					logger.Warn("rollout stuck in shadow past maximum bound",
						"project_id", id,
						"phase", report.Phase,
						"decisions", report.Counts.Total)
				}
			}
		}
	}
}
