// Command migrate imports a legacy single-user conversation store into the
// multi-user store configured by DATABASE_URL (or the embedded fallback).
//
//	migrate -legacy chatgpt_conversations.db [-backup] [-dry-run] [-verify]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-history/internal/config"
	"github.com/tbourn/go-chat-history/internal/migrate"
	"github.com/tbourn/go-chat-history/internal/repo"
	"github.com/tbourn/go-chat-history/internal/retry"
	"github.com/tbourn/go-chat-history/internal/services"
	"github.com/tbourn/go-chat-history/internal/sysutil"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg(".env not loaded")
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}

	legacyPath := flag.String("legacy", cfg.Migration.LegacyPath, "path to the legacy SQLite store")
	backup := flag.Bool("backup", false, "copy the legacy file before migrating")
	dryRun := flag.Bool("dry-run", false, "report what would be migrated without writing")
	verify := flag.Bool("verify", false, "compare message counts after migrating")
	flag.Parse()

	sysutil.SetupLogger("migrate", cfg.LogPretty, os.Stderr)
	sysutil.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *backup && !*dryRun {
		dst, err := migrate.Backup(*legacyPath, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("backup failed")
			return 1
		}
		log.Info().Str("path", dst).Msg("legacy store backed up")
	}

	legacy, err := migrate.OpenLegacy(*legacyPath)
	if err != nil {
		log.Error().Err(err).Str("path", *legacyPath).Msg("cannot open legacy store")
		return 1
	}
	defer func() { _ = legacy.Close() }()

	db, err := openTarget(cfg, *dryRun)
	if err != nil {
		log.Error().Err(err).Msg("target store unavailable")
		return 1
	}
	defer func() { _ = repo.Close(db) }()

	m := &migrate.Migrator{
		DB:     db,
		Users:  services.NewUserService(db, cfg.BcryptCost),
		Source: legacy,
		Opts: migrate.Options{
			Username: cfg.Migration.Username,
			Email:    cfg.Migration.Email,
			Password: cfg.Migration.Password,
			DryRun:   *dryRun,
			Retry: retry.Policy{
				MaxTries:   uint(cfg.Retry.MaxTries),
				MaxElapsed: cfg.Retry.MaxElapsed,
			},
		},
	}
	rep, err := m.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("migration did not start")
		return 1
	}
	fmt.Println(rep.String())
	fmt.Print(rep.Details())

	if *verify && !*dryRun {
		bad, err := migrate.Verify(ctx, db, legacy)
		if err != nil {
			log.Error().Err(err).Msg("verification failed")
			return 1
		}
		for _, b := range bad {
			fmt.Println("mismatch:", b)
		}
		if len(bad) > 0 {
			return 1
		}
	}
	return 0
}

// openTarget opens the configured store and brings its schema up to date. A
// dry run never creates anything: a missing embedded file yields a nil handle
// and an existing store is used as is.
func openTarget(cfg config.Config, dryRun bool) (*gorm.DB, error) {
	if dryRun && strings.TrimSpace(cfg.DB.URL) == "" {
		if _, err := os.Stat(cfg.DB.Path); errors.Is(err, os.ErrNotExist) {
			log.Info().Str("path", cfg.DB.Path).Msg("dry run against an empty target")
			return nil, nil
		}
	}
	db, driver, err := repo.Open(repo.Options{
		DatabaseURL:      cfg.DB.URL,
		SQLitePath:       cfg.DB.Path,
		EmbeddedFallback: cfg.DB.EmbeddedFallback(),
		LogLevel:         sysutil.GormLogLevel(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", driver, err)
	}
	if dryRun {
		return db, nil
	}
	if err := repo.AutoMigrate(db); err != nil {
		_ = repo.Close(db)
		return nil, fmt.Errorf("schema: %w", err)
	}
	return db, nil
}
