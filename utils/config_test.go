package utils

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/battles")
	t.Setenv("GAME_SERVICE_TOKEN", "secret")
	for _, key := range []string{"LISTEN_ADDR", "ENGINE_URL", "ENGINE_TIMEOUT", "ENGINE_CLEANUP_INTERVAL", "ORPHAN_DECISION_AGE", "R2_BUCKET_NAME", "CLOUDFLARE_ACCOUNT_ID"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":5300" || cfg.EngineURL != "http://localhost:9000" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.EngineTimeout != 10*time.Second || cfg.CleanupInterval != 5*time.Minute || cfg.OrphanAge != 10*time.Minute {
		t.Fatalf("durations = %v %v %v", cfg.EngineTimeout, cfg.CleanupInterval, cfg.OrphanAge)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %v", cfg.AllowedOrigins)
	}
	if cfg.R2.Enabled() {
		t.Fatalf("R2 should be disabled without a bucket")
	}
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GAME_SERVICE_TOKEN", "secret")
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("err = %v", err)
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/battles")
	t.Setenv("GAME_SERVICE_TOKEN", "")
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "GAME_SERVICE_TOKEN") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadConfigDurations(t *testing.T) {
	setRequired(t)

	t.Setenv("ENGINE_TIMEOUT", "soon")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("invalid duration accepted")
	}
	t.Setenv("ENGINE_TIMEOUT", "-1s")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("negative duration accepted")
	}
	t.Setenv("ENGINE_TIMEOUT", "3s")
	cfg, err := LoadConfig()
	if err != nil || cfg.EngineTimeout != 3*time.Second {
		t.Fatalf("timeout = %v, %v", cfg, err)
	}
}

func TestR2Enabled(t *testing.T) {
	if (R2Config{Bucket: "replays"}).Enabled() {
		t.Fatalf("bucket without account must stay disabled")
	}
	if !(R2Config{Bucket: "replays", AccountID: "acc"}).Enabled() {
		t.Fatalf("bucket with account should be enabled")
	}
}
