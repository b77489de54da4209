package config

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GENAI_BASE_URL", "https://api.example.com/v1")
	t.Setenv("AUTH_URL", "https://auth.example.com")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Local.Path != "nexuslab.db" {
		t.Fatalf("unexpected local path %q", cfg.Local.Path)
	}
	if cfg.Mirror.DSN != "" {
		t.Fatalf("mirror should default to disabled, got %q", cfg.Mirror.DSN)
	}
	if cfg.Sync.RemoteTimeout != 5*time.Second {
		t.Fatalf("unexpected remote timeout %v", cfg.Sync.RemoteTimeout)
	}
	if cfg.Rate.PerHour != 30 {
		t.Fatalf("unexpected rate limit %d", cfg.Rate.PerHour)
	}
	if cfg.SessionKey != nil {
		t.Fatal("session key should default to unset")
	}
}

func TestLoadRequiredVars(t *testing.T) {
	t.Setenv("AUTH_URL", "https://auth.example.com")
	t.Setenv("GENAI_BASE_URL", "")
	if _, err := Load(); !errors.Is(err, ErrMissingGenAIBase) {
		t.Fatalf("expected ErrMissingGenAIBase, got %v", err)
	}

	t.Setenv("GENAI_BASE_URL", "https://api.example.com/v1")
	t.Setenv("AUTH_URL", "")
	if _, err := Load(); !errors.Is(err, ErrMissingAuthURL) {
		t.Fatalf("expected ErrMissingAuthURL, got %v", err)
	}
}

func TestLoadSessionKey(t *testing.T) {
	setRequired(t)

	t.Setenv("SESSION_KEY_B64", base64.StdEncoding.EncodeToString(make([]byte, 32)))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.SessionKey) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(cfg.SessionKey))
	}

	t.Setenv("SESSION_KEY_B64", base64.StdEncoding.EncodeToString(make([]byte, 16)))
	if _, err := Load(); !errors.Is(err, ErrBadSessionKey) {
		t.Fatalf("expected ErrBadSessionKey, got %v", err)
	}

	t.Setenv("SESSION_KEY_B64", "not-base64!!")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for undecodable key")
	}
}

func TestOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SYNC_REMOTE_TIMEOUT", "250ms")
	t.Setenv("RATE_LIMIT_PER_HOUR", "5")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sync.RemoteTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected remote timeout %v", cfg.Sync.RemoteTimeout)
	}
	if cfg.Rate.PerHour != 5 {
		t.Fatalf("unexpected rate limit %d", cfg.Rate.PerHour)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected lowercased level, got %q", cfg.Log.Level)
	}
}
