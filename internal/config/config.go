package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrMissingLocalDBPath = errors.New("LOCAL_DB_PATH is required")
	ErrMissingGenAIBase   = errors.New("GENAI_BASE_URL is required")
	ErrMissingAuthURL     = errors.New("AUTH_URL is required")
	ErrBadSessionKey      = errors.New("SESSION_KEY_B64 must decode to 32 bytes")
)

type Config struct {
	Local  LocalConfig
	Mirror MirrorConfig
	Sync   SyncConfig
	Auth   AuthConfig
	GenAI  GenAIConfig
	Redis  RedisConfig
	Rate   RateConfig
	HTTP   HTTPConfig
	Server ServerConfig
	Log    LogConfig

	// SessionKey encrypts the cached login session at rest. Empty means
	// the session cache is stored unencrypted.
	SessionKey []byte
}

type LocalConfig struct {
	Path string
}

type MirrorConfig struct {
	// DSN is the postgres connection string. Empty disables the mirror
	// entirely; the coordinator then behaves as permanently offline.
	DSN         string
	AutoMigrate bool
}

type SyncConfig struct {
	RemoteTimeout time.Duration
}

type AuthConfig struct {
	BaseURL string
	APIKey  string
}

type GenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type RedisConfig struct {
	// Addr empty disables the generation rate limiter.
	Addr     string
	Password string
	DB       int
}

type RateConfig struct {
	PerHour int64
}

type HTTPConfig struct {
	ClientTimeout time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
}

type ServerConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Local: LocalConfig{
			Path: mustEnv("LOCAL_DB_PATH", "nexuslab.db"),
		},
		Mirror: MirrorConfig{
			DSN:         mustEnv("MIRROR_DSN", ""),
			AutoMigrate: mustBool("MIRROR_AUTO_MIGRATE", true),
		},
		Sync: SyncConfig{
			RemoteTimeout: mustDuration("SYNC_REMOTE_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			BaseURL: mustEnv("AUTH_URL", ""),
			APIKey:  mustEnv("AUTH_API_KEY", ""),
		},
		GenAI: GenAIConfig{
			BaseURL: mustEnv("GENAI_BASE_URL", ""),
			APIKey:  mustEnv("GENAI_API_KEY", ""),
			Model:   mustEnv("GENAI_MODEL", "gpt-4o-mini"),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", ""),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		Rate: RateConfig{
			PerHour: int64(mustInt("RATE_LIMIT_PER_HOUR", 30)),
		},
		HTTP: HTTPConfig{
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 60*time.Second),
			MaxRetries:    mustInt("HTTP_MAX_RETRIES", 2),
			BackoffBase:   mustDuration("HTTP_BACKOFF_BASE", 400*time.Millisecond),
		},
		Server: ServerConfig{
			ListenAddr:  mustEnv("LISTEN_ADDR", ":8080"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.Local.Path == "" {
		return nil, ErrMissingLocalDBPath
	}
	if cfg.GenAI.BaseURL == "" {
		return nil, ErrMissingGenAIBase
	}
	if cfg.Auth.BaseURL == "" {
		return nil, ErrMissingAuthURL
	}

	if b64 := mustEnv("SESSION_KEY_B64", ""); b64 != "" {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode SESSION_KEY_B64: %w", err)
		}
		if len(raw) != 32 {
			return nil, ErrBadSessionKey
		}
		cfg.SessionKey = raw
	}

	return cfg, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
