// Package migrate applies ordered, idempotent schema scripts to a store.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ErrSchema matches every *SchemaError.
var ErrSchema = errors.New("schema migration failed")

// migrationFile matches 001_create_locations.up.sql.
var migrationFile = regexp.MustCompile(`^(\d+)_(.+)\.up\.sql$`)

// Migration is a single upgrade script.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// Target is a store that can report and advance its schema version.
type Target interface {
	// SchemaVersion returns the recorded version, 0 for a fresh store.
	SchemaVersion(ctx context.Context) (int, error)

	// ApplyMigration runs the script and records its version atomically.
	ApplyMigration(ctx context.Context, m Migration) error
}

// SchemaError reports a migration that could not be applied. The store is
// left at Current.
type SchemaError struct {
	Current int
	Version int
	Err     error
}

func (e *SchemaError) Error() string {
	if e.Version == 0 {
		return fmt.Sprintf("schema at version %d: %v", e.Current, e.Err)
	}
	return fmt.Sprintf("applying migration %d over version %d: %v", e.Version, e.Current, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// Is matches ErrSchema.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// Load reads *.up.sql scripts from dir, sorted by version.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationFile.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, fmt.Errorf("invalid version number in file %s: %w", entry.Name(), err)
		}
		if version <= 0 {
			return nil, fmt.Errorf("invalid version number in file %s", entry.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration file %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.ReplaceAll(matches[2], "_", " "),
			Up:      string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Migrator brings a Target up to the latest known version.
type Migrator struct {
	target     Target
	migrations []Migration
	logger     zerolog.Logger
}

// NewMigrator creates a new migrator. Migrations must be sorted by version.
func NewMigrator(target Target, migrations []Migration, logger zerolog.Logger) *Migrator {
	return &Migrator{
		target:     target,
		migrations: migrations,
		logger:     logger,
	}
}

// Latest returns the highest known version.
func (m *Migrator) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// Up applies every migration above the recorded version, in order.
// It stops at the first failure and returns a *SchemaError.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	current, err := m.target.SchemaVersion(ctx)
	if err != nil {
		return 0, &SchemaError{Err: fmt.Errorf("reading schema version: %w", err)}
	}

	if current > m.Latest() {
		return 0, &SchemaError{
			Current: current,
			Err:     fmt.Errorf("store is newer than this build (latest known version %d)", m.Latest()),
		}
	}

	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}

		if err := m.target.ApplyMigration(ctx, migration); err != nil {
			return applied, &SchemaError{Current: current, Version: migration.Version, Err: err}
		}

		m.logger.Info().
			Int("version", migration.Version).
			Str("name", migration.Name).
			Msg("applied schema migration")

		current = migration.Version
		applied++
	}

	return applied, nil
}
