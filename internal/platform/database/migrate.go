package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"seatkeeper/internal/platform/database/migrations"
)

// Migrator applies the embedded schema migrations with goose.
type Migrator struct {
	db      *sql.DB
	dialect string
	log     zerolog.Logger
}

func NewMigrator(db *sql.DB, driver string, log zerolog.Logger) *Migrator {
	return &Migrator{db: db, dialect: Dialect(driver), log: log}
}

func (m *Migrator) configure() error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(m.dialect); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	return nil
}

// Up applies pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.configure(); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	m.log.Info().Str("dialect", m.dialect).Msg("applying migrations")
	if err := goose.UpContext(runCtx, m.db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(runCtx, m.db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	m.log.Info().Int64("version", version).Msg("migrations applied")
	return nil
}

// Down rolls back the latest migration, or down to target when target > 0.
func (m *Migrator) Down(ctx context.Context, target int64) error {
	if err := m.configure(); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if target > 0 {
		m.log.Info().Int64("target", target).Msg("rolling back migrations")
		if err := goose.DownToContext(runCtx, m.db, ".", target); err != nil {
			return fmt.Errorf("rollback to version %d: %w", target, err)
		}
		return nil
	}

	m.log.Info().Msg("rolling back latest migration")
	if err := goose.DownContext(runCtx, m.db, "."); err != nil {
		return fmt.Errorf("rollback latest migration: %w", err)
	}
	return nil
}

// Version returns the current schema version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	if err := m.configure(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, m.db)
}
