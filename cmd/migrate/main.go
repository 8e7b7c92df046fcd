// Package main applies the embedded database migrations and exits.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/macromini/macromini/internal/repository"
)

// migrateConfig is the subset of settings the migrator needs, so it can run
// before Redis or billing are configured.
type migrateConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
}

func main() {
	_ = godotenv.Load()

	var cfg migrateConfig
	if err := env.Parse(&cfg); err != nil {
		slog.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	var h slog.Handler = slog.NewJSONHandler(os.Stdout, nil)
	if cfg.LogFormat != "json" {
		h = slog.NewTextHandler(os.Stdout, nil)
	}
	logger := slog.New(h).With("component", "migrate")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	applied, err := repository.Migrate(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("migration failed", "error", err, "applied", applied)
		os.Exit(1)
	}

	logger.Info("migrations complete", "applied", len(applied))
}
