package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MigrationsFS is the filesystem containing migration SQL files.
// Set by the migrations package at init time.
var MigrationsFS fs.FS

// MigrationsDir is the directory within MigrationsFS containing migrations.
var MigrationsDir = "."

// Migration represents a single schema migration.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord represents an applied migration in the schema_migrations table.
type MigrationRecord struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

// Migrate applies all pending migrations in version order.
//
// Each migration runs in its own transaction; a failed migration leaves
// the schema at the last successfully applied version.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: If any migration fails to apply
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("fetching applied migrations: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	for _, m := range migrations {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %d (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// createMigrationsTable creates the schema_migrations tracking table if missing.
func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// getAppliedMigrations returns the set of already-applied migration versions.
func (db *DB) getAppliedMigrations(ctx context.Context) (map[int]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT version, name, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // Read-only query

	applied := make(map[int]MigrationRecord)
	for rows.Next() {
		var rec MigrationRecord
		if err := rows.Scan(&rec.Version, &rec.Name, &rec.AppliedAt); err != nil {
			return nil, err
		}
		applied[rec.Version] = rec
	}
	return applied, rows.Err()
}

// applyMigration runs a single migration inside a transaction and records it.
func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		m.Version, m.Name); err != nil {
		return err
	}

	return tx.Commit()
}

// loadMigrations reads migration files from the embedded filesystem and
// returns them sorted by version.
func loadMigrations() ([]Migration, error) {
	if MigrationsFS == nil {
		return nil, fmt.Errorf("migrations filesystem not registered")
	}

	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	upFiles, downFiles := categoriseMigrationFiles(entries)

	migrations := make([]Migration, 0, len(upFiles))
	for version, upName := range upFiles {
		m, err := buildMigration(version, upName, downFiles[version])
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// categoriseMigrationFiles splits directory entries into up and down
// migration files keyed by version number. Files not matching the
// NNN_name.{up,down}.sql pattern are ignored.
func categoriseMigrationFiles(entries []fs.DirEntry) (up, down map[int]string) {
	up = make(map[int]string)
	down = make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		version, ok := parseMigrationFilename(name)
		if !ok {
			continue
		}
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			up[version] = name
		case strings.HasSuffix(name, ".down.sql"):
			down[version] = name
		}
	}
	return up, down
}

// parseMigrationFilename extracts the version number from a migration
// filename such as "001_create_journal.up.sql".
func parseMigrationFilename(name string) (int, bool) {
	if !strings.HasSuffix(name, ".sql") {
		return 0, false
	}
	idx := strings.Index(name, "_")
	if idx <= 0 {
		return 0, false
	}
	version, err := strconv.Atoi(name[:idx])
	if err != nil {
		return 0, false
	}
	return version, true
}

// buildMigration reads the up (and optional down) SQL for a version.
func buildMigration(version int, upName, downName string) (Migration, error) {
	upSQL, err := fs.ReadFile(MigrationsFS, MigrationsDir+"/"+upName)
	if err != nil {
		return Migration{}, fmt.Errorf("reading migration %s: %w", upName, err)
	}

	m := Migration{
		Version: version,
		Name:    extractMigrationName(upName),
		UpSQL:   string(upSQL),
	}

	if downName != "" {
		downSQL, err := fs.ReadFile(MigrationsFS, MigrationsDir+"/"+downName)
		if err != nil {
			return Migration{}, fmt.Errorf("reading migration %s: %w", downName, err)
		}
		m.DownSQL = string(downSQL)
	}

	return m, nil
}

// extractMigrationName derives a human-readable name from a migration
// filename: "001_create_journal.up.sql" becomes "create_journal".
func extractMigrationName(filename string) string {
	name := strings.TrimSuffix(filename, ".up.sql")
	name = strings.TrimSuffix(name, ".down.sql")
	if idx := strings.Index(name, "_"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}
