// Package config collects every pipeline tunable in one struct, loaded from
// the environment (optionally seeded from a .env file). Core packages never
// read the environment themselves.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/gamelake/igdb-pipeline/pkg/batch"
	"github.com/gamelake/igdb-pipeline/pkg/extract"
	"github.com/gamelake/igdb-pipeline/pkg/igdb"
	"github.com/gamelake/igdb-pipeline/pkg/ratelimit"
)

// Config holds all runtime settings.
type Config struct {
	// IGDB API access.
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string

	// Throughput controls.
	RequestsPerSecond float64
	MaxConcurrency    int64
	WaveSize          int
	BatchSize         int

	// Object store (S3-compatible).
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	Bucket      string

	// Watermark state store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Observability.
	LogLevel    string
	LogPretty   bool
	MetricsAddr string
}

// Load reads configuration from the process environment. A .env file in the
// working directory is loaded first if present; real environment variables
// win over it.
func Load() (Config, error) {
	// Ignore a missing .env; any other read error is real.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		ClientID:     os.Getenv("IGDB_CLIENT_ID"),
		ClientSecret: os.Getenv("IGDB_CLIENT_SECRET"),
		BaseURL:      envString("IGDB_BASE_URL", igdb.DefaultBaseURL),
		TokenURL:     envString("TWITCH_TOKEN_URL", igdb.DefaultTokenURL),

		S3Endpoint:  envString("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		Bucket:      envString("S3_BUCKET", "gamelake-raw"),

		RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		LogLevel:    envString("LOG_LEVEL", "info"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	var err error
	if cfg.RequestsPerSecond, err = envFloat("IGDB_REQUESTS_PER_SECOND", ratelimit.DefaultRequestsPerSecond); err != nil {
		return Config{}, err
	}
	maxConc, err := envInt("IGDB_MAX_CONCURRENCY", int(ratelimit.DefaultMaxConcurrency))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrency = int64(maxConc)

	if cfg.WaveSize, err = envInt("PIPELINE_WAVE_SIZE", extract.DefaultWaveSize); err != nil {
		return Config{}, err
	}
	if cfg.BatchSize, err = envInt("PIPELINE_BATCH_SIZE", batch.DefaultBatchSize); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.S3UseSSL, err = envBool("S3_USE_SSL", false); err != nil {
		return Config{}, err
	}
	if cfg.LogPretty, err = envBool("LOG_PRETTY", false); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the settings a live pipeline run needs. Commands that
// only touch local state skip it.
func (c Config) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "IGDB_CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "IGDB_CLIENT_SECRET")
	}
	if c.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if c.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %v", missing)
	}

	if c.RequestsPerSecond <= 0 {
		return errors.New("IGDB_REQUESTS_PER_SECOND must be positive")
	}
	if c.RequestsPerSecond > ratelimit.MaxRequestsPerSecond {
		return fmt.Errorf("IGDB_REQUESTS_PER_SECOND %.1f exceeds the API cap of %.0f",
			c.RequestsPerSecond, ratelimit.MaxRequestsPerSecond)
	}
	if c.MaxConcurrency <= 0 || c.MaxConcurrency > ratelimit.MaxAllowedConcurrency {
		return fmt.Errorf("IGDB_MAX_CONCURRENCY must be in 1..%d", ratelimit.MaxAllowedConcurrency)
	}
	return nil
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
