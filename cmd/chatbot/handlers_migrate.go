package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/man-su-97/rag-chatbot/internal/config"
	"github.com/man-su-97/rag-chatbot/internal/sessions"
)

// =============================================================================
// Migration Command Handlers
// =============================================================================

// openMigrator opens the configured history database and returns a migrator
// for its dialect.
func openMigrator(configPath string) (*sessions.Migrator, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, dialect, err := openMigrationDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	migrator, err := sessions.NewMigrator(db, dialect)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return migrator, db, nil
}

func openMigrationDB(cfg *config.Config) (*sql.DB, string, error) {
	switch cfg.Memory.Backend {
	case config.BackendPostgres:
		pc := cfg.Memory.Postgres
		db, err := sessions.OpenPostgres(sessions.PostgresConfig{
			URL:             pc.URL,
			MaxOpenConns:    pc.MaxOpenConns,
			MaxIdleConns:    pc.MaxIdleConns,
			ConnMaxLifetime: pc.ConnMaxLifetime,
			ConnMaxIdleTime: pc.ConnMaxIdleTime,
			ConnectTimeout:  pc.ConnectTimeout,
		})
		if err != nil {
			return nil, "", err
		}
		return db, sessions.DialectPostgres, nil
	case config.BackendSQLite:
		db, err := sql.Open(cfg.Memory.SQLite.Driver, cfg.Memory.SQLite.Path)
		if err != nil {
			return nil, "", fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(1)
		return db, sessions.DialectSQLite, nil
	default:
		return nil, "", fmt.Errorf("memory backend %q has no schema to migrate", cfg.Memory.Backend)
	}
}

// runMigrateUp handles the migrate up command.
func runMigrateUp(cmd *cobra.Command, configPath string, steps int) error {
	slog.Info("running database migrations", "config", configPath, "steps", steps)

	migrator, db, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := migrator.Up(cmd.Context(), steps)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(applied) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}
	for _, id := range applied {
		fmt.Fprintf(out, "Applied %s\n", id)
	}
	return nil
}

// runMigrateDown handles the migrate down command.
func runMigrateDown(cmd *cobra.Command, configPath string, steps int) error {
	slog.Warn("rolling back migrations", "config", configPath, "steps", steps)

	migrator, db, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	rolled, err := migrator.Down(cmd.Context(), steps)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(rolled) == 0 {
		fmt.Fprintln(out, "Nothing to roll back.")
		return nil
	}
	for _, id := range rolled {
		fmt.Fprintf(out, "Rolled back %s\n", id)
	}
	return nil
}

// runMigrateStatus handles the migrate status command.
func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	migrator, db, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, pending, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Migration Status")
	fmt.Fprintln(out, "================")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Applied migrations:")
	printIDs(out, applied)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Pending migrations:")
	printIDs(out, pending)
	return nil
}

func printIDs(out io.Writer, ids []string) {
	if len(ids) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}
	for _, id := range ids {
		fmt.Fprintf(out, "  - %s\n", id)
	}
}
