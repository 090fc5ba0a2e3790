// Command migrate manages the citation harvest schema.
//
// Usage:
//
//	migrate [-path dir] up
//	migrate [-path dir] down
//	migrate [-path dir] steps N
//	migrate [-path dir] version
//	migrate [-path dir] force V
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/citation-harvest-service/internal/config"
	"github.com/helixir/citation-harvest-service/internal/database"
	"github.com/helixir/citation-harvest-service/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	pathFlag := flag.String("path", "", "Override the migrations directory")
	flag.Usage = usage
	flag.Parse()

	action := flag.Arg(0)
	if action == "" {
		usage()
		return fmt.Errorf("no action given")
	}

	// Actions with a numeric argument parse it up front, before touching
	// the database.
	var arg int
	switch action {
	case "up", "down", "version":
	case "steps", "force":
		n, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			return fmt.Errorf("%s needs a numeric argument: %w", action, err)
		}
		arg = n
	default:
		usage()
		return fmt.Errorf("unknown action %q", action)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if *pathFlag != "" {
		migrationDir = *pathFlag
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	switch action {
	case "up":
		err = migrator.Up()
	case "down":
		err = migrator.Down()
	case "steps":
		err = migrator.Steps(arg)
	case "force":
		err = migrator.Force(arg)
	case "version":
	}
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}

	reportVersion(migrator, logger)
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate [-path dir] <up|down|steps N|version|force V>")
	flag.PrintDefaults()
}

// reportVersion logs the schema version after the action ran. A missing
// version (empty schema) is reported, not treated as a failure.
func reportVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine schema version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current schema version")
}
