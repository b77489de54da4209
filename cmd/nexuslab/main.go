package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nexuslab/internal/config"
	"nexuslab/internal/crypto"
	"nexuslab/internal/genai"
	"nexuslab/internal/identity"
	"nexuslab/internal/metrics"
	"nexuslab/internal/mirror"
	"nexuslab/internal/queue"
	"nexuslab/internal/server"
	"nexuslab/internal/storage"
	"nexuslab/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("local_db", cfg.Local.Path).
		Bool("mirror_enabled", cfg.Mirror.DSN != "").
		Bool("rate_limit_enabled", cfg.Redis.Addr != "").
		Msg("starting nexuslab")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	local, err := storage.Open(ctx, cfg.Local.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local store")
	}
	defer local.Close()

	// The mirror is optional at startup, too: an unreachable remote must
	// not keep the app from coming up.
	var remote syncer.Mirror
	if cfg.Mirror.DSN != "" {
		mc, err := mirror.Open(ctx, cfg.Mirror.DSN, cfg.Mirror.AutoMigrate, "migrations")
		if err != nil {
			log.Warn().Err(err).Msg("remote mirror unreachable, running offline")
		} else {
			defer mc.Close()
			remote = mc
		}
	}

	m := metrics.Global()
	coordinator := syncer.New(syncer.Config{
		Local:         local,
		Remote:        remote,
		Logger:        log.Logger,
		Metrics:       m,
		RemoteTimeout: cfg.Sync.RemoteTimeout,
	})

	var box *crypto.Box
	if len(cfg.SessionKey) > 0 {
		box, err = crypto.NewBox(cfg.SessionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize session key")
		}
	}
	sessions := identity.NewSessionCache(local, box)

	idClient := identity.New(identity.Config{
		BaseURL: cfg.Auth.BaseURL,
		APIKey:  cfg.Auth.APIKey,
	})

	genClient := genai.New(genai.Config{
		BaseURL:     cfg.GenAI.BaseURL,
		APIKey:      cfg.GenAI.APIKey,
		Model:       cfg.GenAI.Model,
		HTTPClient:  &http.Client{Timeout: cfg.HTTP.ClientTimeout},
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: cfg.HTTP.BackoffBase,
	})

	var limiter *queue.RateLimiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, generation rate limiting disabled")
		} else {
			defer rdb.Close()
			limiter = queue.NewRateLimiter(rdb, cfg.Rate.PerHour)
		}
	}

	api := server.New(server.Config{
		Sync:     coordinator,
		Identity: idClient,
		Sessions: sessions,
		GenAI:    genClient,
		Limiter:  limiter,
		Logger:   log.Logger,
		Metrics:  m,
	})

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(cfg.Server.MetricsPath, promhttp.Handler())
	api.Register(mux)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
