package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fulfillment/cmd/server/config"
	"fulfillment/internal/adapters/httpapi"
	"fulfillment/internal/observability"
	"fulfillment/internal/realtime"
	"fulfillment/internal/saga"
	"fulfillment/internal/sagabuild"
	"fulfillment/internal/stockadjust"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(ctx, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// A local .env is a development convenience; its absence is normal.
	if err := godotenv.Load(); err == nil {
		logger.Info("loaded .env")
	}

	srvCfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	hub := realtime.NewHub()
	go hub.Run(ctx)

	sinks := []saga.AuditSink{
		saga.NewLogSink(logger),
		realtime.NewEventSink(hub),
	}
	redisSink, redisCleanup, err := buildRedisAuditSink(ctx, logger)
	if err != nil {
		return err
	}
	defer redisCleanup()
	if redisSink != nil {
		logger.Info("redis audit stream enabled")
		sinks = append(sinks, redisSink)
	}

	runtime, cleanup, err := sagabuild.Build(ctx, sagabuild.BuildConfig{
		PostgresDSN:  srvCfg.PostgresDSN,
		AllowStubs:   srvCfg.AllowStubs,
		Environment:  srvCfg.Environment,
		SourceSystem: srvCfg.SourceSystem,
		Audit:        saga.NewMultiSink(logger, sinks...),
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	metrics := observability.NewMetrics()
	trigger := stockadjust.NewTrigger(runtime.Inventory, logger)
	handler := httpapi.NewHandler(runtime.Service, runtime.Orders, trigger, metrics, logger)
	router := httpapi.NewRouter(handler, hub, metrics)

	if srvCfg.RateLimitInterval > 0 {
		limiter := newIngressLimiter(srvCfg.RateLimitInterval, srvCfg.RateLimitBurst, metrics.AddRateLimitWait)
		router = rateLimitMiddleware(limiter)(router)
	}

	srv := &http.Server{
		Addr:              srvCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	obsSrv := startObservabilityServer(metrics, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srvCfg.Addr, "environment", srvCfg.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		metrics.MarkShutdown(metrics.Snapshot().InFlight)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if obsSrv != nil {
			obsCtx, obsCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer obsCancel()
			_ = obsSrv.Shutdown(obsCtx)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startObservabilityServer exposes /metrics on its own listener when
// OBS_ADDR is set, keeping operator traffic off the business port.
func startObservabilityServer(metrics *observability.Metrics, logger *slog.Logger) *http.Server {
	cfg := config.LoadObservability()
	if cfg.Addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("observability server error", "error", err)
		}
	}()

	return srv
}
