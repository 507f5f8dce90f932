// Command migrate manages the Courier schema: River's job tables and the
// delivery tables embedded in internal/store.
//
//	migrate [-force] [up|down|status]
//
// up (the default) applies River and delivery migrations. down drops the
// delivery tables only; River's tables are shared infrastructure. status
// reports the delivery schema version.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/sarathsp06/courier/internal/config"
	"github.com/sarathsp06/courier/internal/logger"
	"github.com/sarathsp06/courier/internal/store"
)

const (
	commandUp     = "up"
	commandDown   = "down"
	commandStatus = "status"
)

type options struct {
	command string
	// force clears a dirty schema version left by a failed run.
	force bool
}

func parseArgs(args []string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(output)
	var opts options
	fs.BoolVar(&opts.force, "force", false, "clear a dirty schema version before migrating")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	switch fs.NArg() {
	case 0:
		opts.command = commandUp
	case 1:
		opts.command = fs.Arg(0)
	default:
		return opts, fmt.Errorf("expected one command, got %v", fs.Args())
	}

	switch opts.command {
	case commandUp, commandDown, commandStatus:
		return opts, nil
	default:
		return opts, fmt.Errorf("unknown command %q (want up, down or status)", opts.command)
	}
}

func main() {
	log := logger.NewLogger("migration")

	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		log.Error("Invalid arguments", "error", err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg.DatabaseURL, opts, log); err != nil {
		log.Error("Migration failed", "command", opts.command, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, opts options, log *slog.Logger) error {
	if opts.command == commandUp {
		if err := migrateRiver(ctx, databaseURL, log); err != nil {
			return err
		}
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	log.Info("Delivery schema", "version", version, "dirty", dirty)

	if opts.command == commandStatus {
		return nil
	}

	if dirty {
		if !opts.force {
			return fmt.Errorf("schema version %d is dirty; fix it by hand or rerun with -force", version)
		}
		log.Warn("Clearing dirty schema version", "version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	switch opts.command {
	case commandUp:
		err = m.Up()
	case commandDown:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate %s: %w", opts.command, err)
	}

	version, _, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	log.Info("Delivery migrations completed", "command", opts.command, "version", version)
	return nil
}

// newMigrator reads migrations from the binary, not the working directory.
func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	src, err := iofs.New(store.Migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

func migrateRiver(ctx context.Context, databaseURL string, log *slog.Logger) error {
	dbPool, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(dbPool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{})
	if err != nil {
		return fmt.Errorf("failed to run River migrations: %w", err)
	}
	for _, v := range res.Versions {
		log.Info("Applied River migration", "version", v.Version, "name", v.Name)
	}
	log.Info("River migrations completed", "applied", len(res.Versions))
	return nil
}
