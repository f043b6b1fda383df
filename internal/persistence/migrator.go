package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

// Migrator runs the ledger.kv and receipt-log schema files in migrationsDir
// through golang-migrate. Files are named {version}_{name}.up.sql and
// {version}_{name}.down.sql.
type Migrator struct {
	db            *sql.DB
	migrationsDir string
	logger        zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{
		db:            db,
		migrationsDir: migrationsDir,
		logger:        logger.With().Str("component", "migrator").Logger(),
	}
}

// open builds a migrate instance over a dedicated connection. Closing the
// instance releases the connection and leaves the pool open.
func (m *Migrator) open(ctx context.Context) (*migrate.Migrate, error) {
	source, err := iofs.New(os.DirFS(m.migrationsDir), ".")
	if err != nil {
		return nil, fmt.Errorf("open migrations %s: %w", m.migrationsDir, err)
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{})
	if err != nil {
		conn.Close()
		source.Close()
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		driver.Close()
		source.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return mg, nil
}

func closeMigrate(mg *migrate.Migrate, logger zerolog.Logger) {
	srcErr, dbErr := mg.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		logger.Warn().Err(err).Msg("close migrator")
	}
}

// Up applies all pending up-migrations in order.
func (m *Migrator) Up(ctx context.Context) error {
	mg, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer closeMigrate(mg, m.logger)

	if err := mg.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Debug().Msg("schema up to date")
			return nil
		}
		return fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, err := mg.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read version: %w", err)
	}
	m.logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
	return nil
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	mg, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer closeMigrate(mg, m.logger)

	if err := mg.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, os.ErrNotExist) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		return fmt.Errorf("migrate down: %w", err)
	}

	version, dirty, err := mg.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read version: %w", err)
	}
	m.logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("rolled back migration")
	return nil
}

// Version returns the applied schema version and whether the last migration
// failed halfway. A fresh database reports version 0.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	mg, err := m.open(ctx)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrate(mg, m.logger)

	version, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read version: %w", err)
	}
	return version, dirty, nil
}
