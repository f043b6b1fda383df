package main

import (
	"PredictLedger/internal/config"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

func usage() {
	fmt.Println("Usage: migrate <up|down|version>")
	fmt.Println("  up      - apply all pending migrations")
	fmt.Println("  down    - roll back the last migration")
	fmt.Println("  version - print the applied schema version")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  PRED_CONFIG          - optional TOML config file")
	fmt.Println("  PRED_POSTGRES_DSN    - Postgres connection string")
	fmt.Println("  PRED_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	cfg, err := config.Load("")
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	db, err := sql.Open("postgres", cfg.Store.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, cfg.Store.MigrationsDir, logger)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "version":
		version, dirty, err := migrator.Version(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("read version")
		}
		switch {
		case version == 0:
			fmt.Println("none")
		case dirty:
			fmt.Printf("%d (dirty)\n", version)
		default:
			fmt.Println(version)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}
