package main

// Run database migrations:
//   go run ./cmd/migrate up
//   go run ./cmd/migrate status
//   go run ./cmd/migrate down

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"resume-tailor/internal/shared/config"
	"resume-tailor/internal/shared/storage/db"
	"resume-tailor/internal/shared/telemetry"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"error": err.Error()})
		telemetry.Sync()
		os.Exit(1)
	}
	telemetry.Sync()
}

func newRootCmd() *cobra.Command {
	var databaseURL string
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the resume-tailor database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (defaults to DATABASE_URL)")

	withDB := func(fn func(ctx context.Context, sqlDB *sql.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			sqlDB, err := open(cmd.Context(), databaseURL)
			if err != nil {
				return err
			}
			defer sqlDB.Close()
			return fn(cmd.Context(), sqlDB)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  withDB(db.RunMigrations),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE:  withDB(db.MigrationStatus),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE:  withDB(db.RollbackMigration),
		},
	)
	return root
}

func open(ctx context.Context, override string) (*sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := telemetry.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	url := cfg.DatabaseURL
	if override != "" {
		url = override
	}
	if url == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	opts := db.DefaultMigrateOptions()
	return db.Connect(ctx, url, opts)
}
