package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the version the last migration leaves the database at.
const schemaVersion = 2

type migration struct {
	version int
	name    string
	steps   []string
}

// migrations run in order, each at most once, recorded in schema_version.
var migrations = []migration{
	{
		version: 1,
		name:    "runs, actions and audit_log",
		steps: []string{
			`CREATE TABLE IF NOT EXISTS runs (
				id                  TEXT PRIMARY KEY,
				kind                TEXT NOT NULL,
				project_name        TEXT NOT NULL,
				project_type        TEXT,
				project_dir         TEXT NOT NULL,
				description         TEXT,
				feature_description TEXT,
				features            TEXT,
				files_created       TEXT,
				directories_created TEXT,
				modified_files      TEXT,
				total_files         INTEGER DEFAULT 0,
				total_directories   INTEGER DEFAULT 0,
				total_steps         INTEGER DEFAULT 0,
				summary             TEXT,
				stop_reason         TEXT,
				error               TEXT,
				prompt_tokens       INTEGER DEFAULT 0,
				completion_tokens   INTEGER DEFAULT 0,
				total_tokens        INTEGER DEFAULT 0,
				elapsed_seconds     REAL DEFAULT 0,
				started_at          DATETIME,
				created_at          DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_time ON runs(started_at)`,
			`CREATE TABLE IF NOT EXISTS actions (
				id       INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				step     INTEGER NOT NULL,
				tool     TEXT NOT NULL,
				args     TEXT,
				success  INTEGER NOT NULL,
				output   TEXT,
				error    TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_actions_run ON actions(run_id, step)`,
			`CREATE TABLE IF NOT EXISTS audit_log (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id      TEXT,
				action      TEXT NOT NULL,
				tool_name   TEXT,
				command     TEXT,
				result      TEXT,
				details     TEXT,
				created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(created_at)`,
		},
	},
	{
		version: 2,
		name:    "provider and model columns, project_dir lookup index",
		steps: []string{
			`ALTER TABLE runs ADD COLUMN provider TEXT DEFAULT ''`,
			`ALTER TABLE runs ADD COLUMN model TEXT DEFAULT ''`,
			`CREATE INDEX IF NOT EXISTS idx_runs_dir ON runs(project_dir, started_at)`,
		},
	},
}

// RunMigrations brings db up to schemaVersion. Each migration runs in its
// own transaction; a step that fails because its column already exists is
// skipped so hand-patched databases still upgrade.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version     INTEGER PRIMARY KEY,
		description TEXT,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, m, logger); err != nil {
			return err
		}
		logger.Info("migration applied", "version", m.version, "name", m.name)
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration, logger *slog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.version, err)
	}
	defer tx.Rollback()

	for _, step := range m.steps {
		if _, err := tx.ExecContext(ctx, step); err != nil {
			if alreadyApplied(err) {
				logger.Debug("migration step already applied", "version", m.version, "step", truncate(step, 60))
				continue
			}
			return fmt.Errorf("migration v%d: %w\nSQL: %s", m.version, err, truncate(step, 200))
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)`,
		m.version, m.name,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.version, err)
	}
	return nil
}

func alreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// SchemaVersion is the highest applied migration, 0 for a fresh database.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`,
	).Scan(&n)
	if err != nil || n == 0 {
		return 0, err
	}
	var version int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}
