package utils

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is everything the service reads from the environment.
type Config struct {
	DatabaseURL     string
	ListenAddr      string
	GatewayToken    string
	AllowedOrigins  []string
	EngineURL       string
	EngineTimeout   time.Duration
	RedisURL        string
	AuthServiceURL  string
	SyncServiceURL  string
	CleanupInterval time.Duration
	OrphanAge       time.Duration
	LogLevel        string
	R2              R2Config
}

// R2Config is optional; an empty bucket disables replay archiving.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

func (r R2Config) Enabled() bool {
	return r.Bucket != "" && r.AccountID != ""
}

// LoadConfig reads and validates the environment. Call godotenv.Load first.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		ListenAddr:     GetEnvDefault("LISTEN_ADDR", ":5300"),
		GatewayToken:   os.Getenv("GAME_SERVICE_TOKEN"),
		AllowedOrigins: splitOrigins(GetEnvDefault("ALLOWED_ORIGINS", "http://localhost:3000")),
		EngineURL:      GetEnvDefault("ENGINE_URL", "http://localhost:9000"),
		RedisURL:       os.Getenv("REDIS_URL"),
		AuthServiceURL: os.Getenv("AUTH_SERVICE_URL"),
		SyncServiceURL: os.Getenv("SYNC_SERVICE_URL"),
		LogLevel:       GetEnvDefault("LOG_LEVEL", "info"),
		R2: R2Config{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
			CDNBaseURL:      os.Getenv("CDN_BASE_URL"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if cfg.GatewayToken == "" {
		return nil, fmt.Errorf("GAME_SERVICE_TOKEN environment variable not set")
	}

	var err error
	if cfg.EngineTimeout, err = durationEnv("ENGINE_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval, err = durationEnv("ENGINE_CLEANUP_INTERVAL", "5m"); err != nil {
		return nil, err
	}
	if cfg.OrphanAge, err = durationEnv("ORPHAN_DECISION_AGE", "10m"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func durationEnv(key, def string) (time.Duration, error) {
	raw := GetEnvDefault(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
