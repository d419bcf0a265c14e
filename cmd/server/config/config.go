// Package config reads server configuration from the environment.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds the HTTP facade settings.
type ServerConfig struct {
	Addr            string
	Environment     string
	PostgresDSN     string
	AllowStubs      bool
	SourceSystem    string
	ShutdownTimeout time.Duration

	// Ingress rate limiting. A zero interval disables it.
	RateLimitInterval time.Duration
	RateLimitBurst    int
}

// RedisConfig holds connection and stream settings for the audit mirror.
type RedisConfig struct {
	URL          string
	Stream       string
	DialTimeout  *time.Duration
	ReadTimeout  *time.Duration
	WriteTimeout *time.Duration
	PoolSize     *int
	MinIdleConns *int
	MaxRetries   *int
	// HealthcheckTimeout bounds the startup ping.
	HealthcheckTimeout time.Duration
	// StateTTL expires the per-transaction state hash.
	StateTTL     time.Duration
	StreamMaxLen int64
	EnableOTel   bool
	TLSConfig    *tls.Config
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
// An empty Addr disables the separate listener.
type ObservabilityConfig struct {
	Addr string
}

// LoadServer reads the facade settings from env.
func LoadServer() (ServerConfig, error) {
	cfg := ServerConfig{
		Addr:         strings.TrimSpace(os.Getenv("HTTP_ADDR")),
		Environment:  strings.TrimSpace(os.Getenv("APP_ENV")),
		PostgresDSN:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SourceSystem: strings.TrimSpace(os.Getenv("SOURCE_SYSTEM")),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	var err error
	if cfg.AllowStubs, err = optionalBool("SAGA_ALLOW_STUBS"); err != nil {
		return cfg, err
	}

	shutdown, err := optionalDuration("SHUTDOWN_TIMEOUT")
	if err != nil {
		return cfg, err
	}
	cfg.ShutdownTimeout = 10 * time.Second
	if shutdown != nil {
		cfg.ShutdownTimeout = *shutdown
	}

	interval, err := optionalDuration("HTTP_RATE_LIMIT_INTERVAL")
	if err != nil {
		return cfg, err
	}
	if interval != nil {
		cfg.RateLimitInterval = *interval
		burst, err := requiredInt("HTTP_RATE_LIMIT_BURST")
		if err != nil {
			return cfg, err
		}
		cfg.RateLimitBurst = burst
	}

	return cfg, nil
}

// LoadRedis reads the audit stream settings from env. The second return
// is false when REDIS_URL is unset and the mirror is disabled.
func LoadRedis() (RedisConfig, bool, error) {
	cfg := RedisConfig{
		URL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
		Stream: strings.TrimSpace(os.Getenv("REDIS_STREAM")),
	}
	if cfg.URL == "" {
		return cfg, false, nil
	}

	var err error
	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, false, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, false, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, false, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, false, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, false, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, false, err
	}

	if cfg.HealthcheckTimeout, err = requiredDuration("REDIS_HEALTHCHECK_TIMEOUT"); err != nil {
		return cfg, false, err
	}
	if cfg.StateTTL, err = requiredDuration("REDIS_STATE_TTL"); err != nil {
		return cfg, false, err
	}
	if cfg.StreamMaxLen, err = requiredInt64("REDIS_STREAM_MAXLEN"); err != nil {
		return cfg, false, err
	}

	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, false, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, false, err
	}

	return cfg, true, nil
}

// LoadObservability reads the metrics listener address from env.
func LoadObservability() ObservabilityConfig {
	return ObservabilityConfig{Addr: strings.TrimSpace(os.Getenv("OBS_ADDR"))}
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func requiredInt(name string) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func requiredDuration(name string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func requiredInt64(name string) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}
