// ABOUTME: Schema migration utility for the calmirror database.
// ABOUTME: Applies, reports, or rolls back embedded migrations with dry-run and backup support.

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/harperreed/calmirror/db"
)

type options struct {
	command string
	dryRun  bool
	backup  bool
	force   bool
}

func main() {
	dbPath := flag.String("db", "", "Path to database file (required)")
	dryRun := flag.Bool("dry-run", false, "Show what would happen without making changes")
	backup := flag.Bool("backup", true, "Create backup before migration")
	force := flag.Bool("force", false, "Allow rolling back a migration, which drops data")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate -db <path> [flags] [up|status|down]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("Error: -db flag is required")
	}

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	opts := options{command: command, dryRun: *dryRun, backup: *backup, force: *force}
	if err := migrate(context.Background(), *dbPath, opts, os.Stdout); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

func migrate(ctx context.Context, dbPath string, opts options, out io.Writer) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) && opts.command != "up" {
		return fmt.Errorf("database file does not exist: %s", dbPath)
	}

	database, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = database.Close() }()
	database.SetMaxOpenConns(1)

	provider, err := db.NewMigrator(database)
	if err != nil {
		return err
	}

	switch opts.command {
	case "status":
		return printStatus(ctx, provider, out)
	case "up":
		return up(ctx, dbPath, provider, opts, out)
	case "down":
		return down(ctx, dbPath, provider, opts, out)
	default:
		return fmt.Errorf("unknown command %q (want up, status, or down)", opts.command)
	}
}

func printStatus(ctx context.Context, provider *goose.Provider, out io.Writer) error {
	statuses, err := provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}

	for _, s := range statuses {
		applied := "pending"
		if s.State == goose.StateApplied {
			applied = "applied " + s.AppliedAt.Local().Format("2006-01-02 15:04:05")
		}
		_, _ = fmt.Fprintf(out, "%05d  %-32s %s\n", s.Source.Version, s.Source.Path, applied)
	}
	return nil
}

func pending(ctx context.Context, provider *goose.Provider) ([]*goose.MigrationStatus, error) {
	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration status: %w", err)
	}

	var result []*goose.MigrationStatus
	for _, s := range statuses {
		if s.State == goose.StatePending {
			result = append(result, s)
		}
	}
	return result, nil
}

func up(ctx context.Context, dbPath string, provider *goose.Provider, opts options, out io.Writer) error {
	todo, err := pending(ctx, provider)
	if err != nil {
		return err
	}
	if len(todo) == 0 {
		_, _ = fmt.Fprintln(out, "Schema is up to date")
		return nil
	}

	if opts.dryRun {
		_, _ = fmt.Fprintln(out, "[DRY RUN] Would apply:")
		for _, s := range todo {
			_, _ = fmt.Fprintf(out, "[DRY RUN] - %05d %s\n", s.Source.Version, s.Source.Path)
		}
		return nil
	}

	if opts.backup {
		if err := backupDatabase(dbPath, out); err != nil {
			return err
		}
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		_, _ = fmt.Fprintf(out, "Applied %05d %s (%s)\n", r.Source.Version, r.Source.Path, r.Duration.Round(time.Millisecond))
	}
	return nil
}

func down(ctx context.Context, dbPath string, provider *goose.Provider, opts options, out io.Writer) error {
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version == 0 {
		_, _ = fmt.Fprintln(out, "No migrations to roll back")
		return nil
	}

	if opts.dryRun {
		_, _ = fmt.Fprintf(out, "[DRY RUN] Would roll back %05d\n", version)
		return nil
	}
	if !opts.force {
		_, _ = fmt.Fprintf(out, "WARNING: rolling back %05d drops its tables and their data\n", version)
		return errors.New("rollback requires -force flag")
	}

	if opts.backup {
		if err := backupDatabase(dbPath, out); err != nil {
			return err
		}
	}

	result, err := provider.Down(ctx)
	if err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Rolled back %05d %s\n", result.Source.Version, result.Source.Path)
	return nil
}

func backupDatabase(dbPath string, out io.Writer) error {
	input, err := os.ReadFile(dbPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read database: %w", err)
	}

	backupPath := fmt.Sprintf("%s.backup.%s", dbPath, time.Now().Format("20060102-150405"))
	if err := os.WriteFile(backupPath, input, 0600); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Backup created: %s\n", backupPath)
	return nil
}
