package main

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"fulfillment/cmd/server/config"
	"fulfillment/internal/audit"
	"fulfillment/internal/saga"
)

// buildRedisAuditSink wires the Redis stream mirror for transaction
// events. Returns a nil sink when REDIS_URL is unset.
func buildRedisAuditSink(ctx context.Context, logger *slog.Logger) (saga.AuditSink, func(), error) {
	cfg, enabled, err := config.LoadRedis()
	if err != nil {
		return nil, nil, err
	}
	if !enabled {
		return nil, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}

	pingCtx := ctx
	if pingCtx == nil {
		pingCtx = context.Background()
	}
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(pingCtx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	sink := audit.NewStreamSink(client, cfg.Stream, cfg.StateTTL, cfg.StreamMaxLen)
	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
	return sink, cleanup, nil
}
