package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Migration is one versioned schema change read from disk.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrator applies versioned SQL files in order, one transaction per file,
// recording progress in schema_migrations. There is exactly one runner and
// it blocks until done.
type Migrator struct {
	db  *sqlx.DB
	dir string
}

// NewMigrator creates a migrator reading from dir.
func NewMigrator(db *sqlx.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

// Load reads NNN_name.sql (and optional NNN_name.down.sql) files sorted by
// version.
func (m *Migrator) Load() ([]Migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations dir %s: %w", m.dir, err)
	}

	byVersion := make(map[int]*Migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		down := strings.HasSuffix(name, ".down.sql")
		base := strings.TrimSuffix(strings.TrimSuffix(name, ".down.sql"), ".sql")
		parts := strings.SplitN(base, "_", 2)
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version prefix", name)
		}

		data, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{Version: version}
			byVersion[version] = mig
		}
		if down {
			mig.DownSQL = string(data)
		} else {
			mig.UpSQL = string(data)
			if len(parts) == 2 {
				mig.Name = parts[1]
			}
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		migrations = append(migrations, *mig)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// Up applies all pending migrations, or only up to target when target > 0.
func (m *Migrator) Up(ctx context.Context, target int) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	migrations, err := m.Load()
	if err != nil {
		return err
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if target > 0 && mig.Version > target {
			break
		}
		if applied[mig.Version] {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("migration %d has no up script", mig.Version)
		}
		if err := m.apply(ctx, mig); err != nil {
			return err
		}
	}
	return nil
}

// Rollback reverts applied migrations down to and excluding target.
func (m *Migrator) Rollback(ctx context.Context, target int) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	migrations, err := m.Load()
	if err != nil {
		return err
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		mig := migrations[i]
		if mig.Version <= target || !applied[mig.Version] {
			continue
		}
		if mig.DownSQL == "" {
			return fmt.Errorf("migration %d has no down script", mig.Version)
		}
		if err := m.revert(ctx, mig); err != nil {
			return err
		}
	}
	return nil
}

// Version returns the highest applied version, 0 when none.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	var version int
	err := m.db.GetContext(ctx, &version,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]bool, error) {
	var versions []int
	if err := m.db.SelectContext(ctx, &versions,
		`SELECT version FROM schema_migrations ORDER BY version`); err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", mig.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.UpSQL); err != nil {
		return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
		mig.Version, mig.Name); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
	}
	return tx.Commit()
}

func (m *Migrator) revert(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rollback %d: %w", mig.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.DownSQL); err != nil {
		return fmt.Errorf("rollback %d (%s) failed: %w", mig.Version, mig.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_migrations WHERE version = $1`, mig.Version); err != nil {
		return fmt.Errorf("failed to unrecord migration %d: %w", mig.Version, err)
	}
	return tx.Commit()
}
