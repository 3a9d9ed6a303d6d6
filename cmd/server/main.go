// Command server runs the chat history HTTP API.
//
// @title        Chat History API
// @version      1.0
// @description  Multi-user conversation store: users, conversations and ordered messages.
// @BasePath     /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	_ "github.com/tbourn/go-chat-history/docs"
	"github.com/tbourn/go-chat-history/internal/config"
	httpapi "github.com/tbourn/go-chat-history/internal/http"
	"github.com/tbourn/go-chat-history/internal/observability"
	"github.com/tbourn/go-chat-history/internal/repo"
	"github.com/tbourn/go-chat-history/internal/sysutil"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg(".env not loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(cfg.OTEL.ServiceName, cfg.LogPretty, os.Stderr)
	sysutil.SetLogLevel(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	db, driver, err := repo.Open(repo.Options{
		DatabaseURL:      cfg.DB.URL,
		SQLitePath:       cfg.DB.Path,
		EmbeddedFallback: cfg.DB.EmbeddedFallback(),
		MaxOpenConns:     cfg.DB.MaxOpenConns,
		MaxIdleConns:     cfg.DB.MaxIdleConns,
		ConnMaxLifetime:  cfg.DB.ConnMaxLifetime,
		Tracing:          cfg.OTEL.Enabled,
		LogLevel:         sysutil.GormLogLevel(cfg.LogLevel),
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", driver).Msg("database unavailable")
	}
	defer func() { _ = repo.Close(db) }()
	if driver == "sqlite" {
		log.Warn().Str("path", cfg.DB.Path).Msg("DATABASE_URL not set, using embedded SQLite store")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	settings, err := config.NewSettings(cfg.ModelSettingsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ModelSettingsPath).Msg("model settings invalid")
	}
	if cfg.ModelSettingsWatch {
		go func() {
			if err := settings.Watch(ctx); err != nil {
				log.Error().Err(err).Msg("model settings watcher stopped")
			}
		}()
	}

	go purgeExpiredKeys(ctx, db, time.Hour)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg, httpapi.Options{Settings: settings})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("driver", driver).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
