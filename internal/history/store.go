// Package history persists run reports, their actions and the command audit
// trail in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"aicoder/internal/domain"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	ErrNotFound  = errors.New("run not found")
	ErrAmbiguous = errors.New("run id prefix is ambiguous")
)

// SQLiteStore implements domain.RunStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.RunStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// SaveRun inserts or replaces a run together with its actions. A report
// without a RunID gets one assigned.
func (s *SQLiteStore) SaveRun(ctx context.Context, r domain.Report) error {
	if r.RunID == "" {
		r.RunID = NewRunID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, kind, project_name, project_type, project_dir, description, feature_description,
			features, files_created, directories_created, modified_files, total_files, total_directories,
			total_steps, summary, stop_reason, error, prompt_tokens, completion_tokens, total_tokens,
			elapsed_seconds, started_at, provider, model)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			summary = excluded.summary,
			stop_reason = excluded.stop_reason,
			error = excluded.error,
			files_created = excluded.files_created,
			directories_created = excluded.directories_created,
			modified_files = excluded.modified_files,
			total_files = excluded.total_files,
			total_directories = excluded.total_directories,
			total_steps = excluded.total_steps,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			total_tokens = excluded.total_tokens,
			elapsed_seconds = excluded.elapsed_seconds`,
		r.RunID, string(r.Kind), r.ProjectName, r.ProjectType, r.ProjectDir, r.Description, r.FeatureDescription,
		encodeJSON(r.Features), encodeJSON(r.FilesCreated), encodeJSON(r.DirectoriesCreated), encodeJSON(r.ModifiedFiles),
		r.TotalFiles, r.TotalDirectories, r.TotalSteps, r.Summary, r.StopReason, r.Error,
		r.Usage.PromptTokens, r.Usage.CompletionTokens, r.Usage.TotalTokens,
		r.ElapsedSeconds, r.StartedAt.UTC().Format(timeLayout), r.Provider, r.Model,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM actions WHERE run_id = ?`, r.RunID); err != nil {
		return fmt.Errorf("clear actions: %w", err)
	}
	for _, a := range r.Actions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO actions (run_id, step, tool, args, success, output, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, a.Step, a.Tool, encodeJSON(a.Args), a.Success, a.Output, a.Error,
		); err != nil {
			return fmt.Errorf("insert action %d: %w", a.Step, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("run saved", "run_id", r.RunID, "actions", len(r.Actions))
	return nil
}

const runColumns = `id, kind, project_name, project_type, project_dir, description, feature_description,
	features, files_created, directories_created, modified_files, total_files, total_directories,
	total_steps, summary, stop_reason, error, prompt_tokens, completion_tokens, total_tokens,
	elapsed_seconds, started_at, provider, model`

// GetRun loads a run with its actions. id may be a unique prefix.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Report, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ORDER BY id = ? DESC LIMIT 2`,
		id, id+"%", id,
	)
	if err != nil {
		return nil, err
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	switch {
	case len(runs) == 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case len(runs) > 1 && runs[0].RunID != id:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguous, id)
	}

	r := runs[0]
	if r.Actions, err = s.actions(ctx, r.RunID); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns the most recent runs first. Actions are not loaded.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

// LatestRunForDir returns the newest run recorded for a project directory,
// or nil when there is none.
func (s *SQLiteStore) LatestRunForDir(ctx context.Context, dir string) (*domain.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE project_dir = ? ORDER BY started_at DESC LIMIT 1`, dir,
	)
	if err != nil {
		return nil, err
	}
	runs, err := scanRuns(rows)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func (s *SQLiteStore) actions(ctx context.Context, runID string) ([]domain.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, tool, args, success, output, error FROM actions WHERE run_id = ? ORDER BY step`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions := []domain.Action{}
	for rows.Next() {
		var a domain.Action
		var args, output, errText sql.NullString
		if err := rows.Scan(&a.Step, &a.Tool, &args, &a.Success, &output, &errText); err != nil {
			return nil, err
		}
		decodeJSON(args.String, &a.Args)
		a.Output = output.String
		a.Error = errText.String
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func scanRuns(rows *sql.Rows) ([]domain.Report, error) {
	defer rows.Close()
	var runs []domain.Report
	for rows.Next() {
		var r domain.Report
		var kind string
		var ptype, desc, featDesc, features, files, dirs, modified, summary, stop, errText, started, provider, model sql.NullString
		if err := rows.Scan(&r.RunID, &kind, &r.ProjectName, &ptype, &r.ProjectDir, &desc, &featDesc,
			&features, &files, &dirs, &modified, &r.TotalFiles, &r.TotalDirectories,
			&r.TotalSteps, &summary, &stop, &errText,
			&r.Usage.PromptTokens, &r.Usage.CompletionTokens, &r.Usage.TotalTokens,
			&r.ElapsedSeconds, &started, &provider, &model); err != nil {
			return nil, err
		}
		r.Kind = domain.RunKind(kind)
		r.ProjectType = ptype.String
		r.Description = desc.String
		r.FeatureDescription = featDesc.String
		r.Summary = summary.String
		r.StopReason = stop.String
		r.Error = errText.String
		r.Provider = provider.String
		r.Model = model.String
		decodeJSON(features.String, &r.Features)
		decodeJSON(files.String, &r.FilesCreated)
		decodeJSON(dirs.String, &r.DirectoriesCreated)
		decodeJSON(modified.String, &r.ModifiedFiles)
		if r.FilesCreated == nil {
			r.FilesCreated = []string{}
		}
		if r.DirectoriesCreated == nil {
			r.DirectoriesCreated = []string{}
		}
		r.StartedAt = parseTime(started.String)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (run_id, action, tool_name, command, result, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Action, entry.ToolName, entry.Command, entry.Result, entry.Details,
	)
	return err
}

// AuditForRun returns the audit entries logged during a run, oldest first.
func (s *SQLiteStore) AuditForRun(ctx context.Context, runID string) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, action, tool_name, command, result, details FROM audit_log WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var id, tool, cmd, result, details sql.NullString
		if err := rows.Scan(&id, &e.Action, &tool, &cmd, &result, &details); err != nil {
			return nil, err
		}
		e.RunID, e.ToolName, e.Command, e.Result, e.Details = id.String, tool.String, cmd.String, result.String, details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SchemaVersion reports the applied migration level.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	return SchemaVersion(ctx, s.db)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeJSON(s string, dst any) {
	if s == "" || s == "null" {
		return
	}
	_ = json.Unmarshal([]byte(s), dst)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
