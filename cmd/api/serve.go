package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/config"
	"github.com/phonegate/server/internal/db"
	httphandler "github.com/phonegate/server/internal/http"
	"github.com/phonegate/server/internal/http/handlers"
	"github.com/phonegate/server/internal/middleware"
	"github.com/phonegate/server/internal/ratelimit"
	"github.com/phonegate/server/internal/repo"
	"github.com/phonegate/server/internal/sms"
	"github.com/phonegate/server/internal/store"
)

const (
	shutdownTimeout = 10 * time.Second
	edgeSweepEvery  = time.Minute
	edgeIdleAfter   = 10 * time.Minute
)

func runServe(ctx context.Context, migrate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL, dbPool(cfg))
	if err != nil {
		return err
	}
	defer database.Close()

	if migrate {
		if err := db.Migrate(database); err != nil {
			return err
		}
	}

	kv, err := store.Open(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer kv.Close()

	rules, err := ratelimit.ParseRules(cfg.RateLimits)
	if err != nil {
		return fmt.Errorf("invalid rate limits: %w", err)
	}
	gate := ratelimit.NewGate(ratelimit.NewLimiter(kv.Bucket("throttle", 0)), rules)

	// Initialize auth services
	tokens := auth.NewTokenService(
		auth.NewJWTService(cfg.JWTSecret, auth.TTLs{
			Access:   cfg.AccessTokenTTL,
			Refresh:  cfg.RefreshTokenTTL,
			WorkFlow: cfg.WorkFlowTTL,
		}, nil),
		auth.NewSessionStore(kv.Bucket("auth", cfg.RefreshTokenTTL)),
		auth.NewWorkflowStore(kv.Bucket("work_flow", cfg.WorkFlowTTL)),
	)
	userRepo := repo.NewUserRepo(database)
	registration := auth.NewRegistration(
		userRepo,
		auth.NewOTPStore(kv.Bucket("otp", cfg.OTPTTL)),
		tokens,
		newSender(cfg),
		gate,
	)
	gateway := auth.NewGateway(userRepo, tokens, gate)

	edge := middleware.NewEdgeLimiter(rate.Limit(cfg.EdgeRatePerSecond), cfg.EdgeBurst)
	router := httphandler.NewRouter(httphandler.RouterConfig{
		AuthHandler: handlers.NewAuthHandler(registration, gateway),
		HealthHandler: handlers.NewHealthHandler(map[string]handlers.HealthCheck{
			"postgres": database.PingContext,
			"redis":    kv.Ping,
		}),
		Authenticator: gateway,
		EdgeLimiter:   edge,
		NumProxies:    cfg.NumProxies,
	})

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		edge.Run(ctx, edgeSweepEvery, edgeIdleAfter)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server exited")
	return nil
}

func newSender(cfg *config.Config) sms.Sender {
	if cfg.SMS.DryRun {
		slog.Warn("SMS dry run enabled, codes are logged instead of sent")
		return sms.NewDryRun(slog.Default())
	}
	return sms.NewKavenegar(cfg.SMS.BaseURL, cfg.SMS.APIKey, cfg.SMS.Template, cfg.SMS.Timeout,
		sms.WithLogger(slog.Default()),
	)
}
