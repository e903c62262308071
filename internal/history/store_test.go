package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"aicoder/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "history.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport(id, dir string, started time.Time) domain.Report {
	return domain.Report{
		RunID:              id,
		Kind:               domain.RunGenerate,
		ProjectName:        "todo-app",
		ProjectType:        "React",
		ProjectDir:         dir,
		Description:        "a todo list",
		Provider:           "openai",
		Model:              "gpt-4o-mini",
		TotalSteps:         2,
		FilesCreated:       []string{"package.json"},
		DirectoriesCreated: []string{"src"},
		Features:           map[string]bool{"git": true, "docs": false},
		Actions: []domain.Action{
			{Step: 1, Tool: "create_directory", Args: map[string]any{"path": "src"}, Success: true, Output: "created directory src"},
			{Step: 2, Tool: "run_command", Args: map[string]any{"cmd": "exit 1"}, Success: false, Error: "command exited with status 1"},
		},
		Summary:        "scaffolded",
		StopReason:     "completed",
		Usage:          domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		StartedAt:      started,
		ElapsedSeconds: 1.5,
	}
}

func TestStore_SaveAndGetRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.SaveRun(ctx, sampleReport("run-1", "/p/todo", started)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ProjectName != "todo-app" || got.Kind != domain.RunGenerate || got.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected report %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("started_at: got %v, want %v", got.StartedAt, started)
	}
	if len(got.Actions) != 2 || got.Actions[1].Success || got.Actions[1].Error == "" {
		t.Fatalf("unexpected actions %+v", got.Actions)
	}
	if got.Actions[0].Args["path"] != "src" {
		t.Errorf("action args lost: %+v", got.Actions[0].Args)
	}
	if len(got.FilesCreated) != 1 || !got.Features["git"] || got.Usage.TotalTokens != 15 {
		t.Errorf("unexpected fields %+v", got)
	}
}

func TestStore_SaveRunAssignsID(t *testing.T) {
	s := testStore(t)
	r := sampleReport("", "/p/x", time.Now())
	if err := s.SaveRun(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	runs, err := s.ListRuns(context.Background(), 10)
	if err != nil || len(runs) != 1 || len(runs[0].RunID) != 36 {
		t.Fatalf("expected one run with a uuid, got %+v (%v)", runs, err)
	}
}

func TestStore_SaveRunUpserts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	r := sampleReport("run-1", "/p/todo", time.Now())
	s.SaveRun(ctx, r)

	r.Summary = "updated"
	r.Actions = r.Actions[:1]
	if err := s.SaveRun(ctx, r); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetRun(ctx, "run-1")
	if got.Summary != "updated" || len(got.Actions) != 1 {
		t.Fatalf("expected updated run with one action, got %q / %d", got.Summary, len(got.Actions))
	}
}

func TestStore_GetRunPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.SaveRun(ctx, sampleReport("abc-111", "/p/a", time.Now()))
	s.SaveRun(ctx, sampleReport("abc-222", "/p/b", time.Now()))

	got, err := s.GetRun(ctx, "abc-2")
	if err != nil || got.RunID != "abc-222" {
		t.Fatalf("prefix lookup failed: %v %+v", err, got)
	}
	if _, err := s.GetRun(ctx, "abc"); !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
	if _, err := s.GetRun(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		s.SaveRun(ctx, sampleReport(id, "/p/"+id, base.Add(time.Duration(i)*time.Hour)))
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "c" || runs[1].RunID != "b" {
		t.Fatalf("unexpected order %+v", runs)
	}
	if runs[0].Actions != nil {
		t.Error("ListRuns should not load actions")
	}
}

func TestStore_LatestRunForDir(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SaveRun(ctx, sampleReport("old", "/p/todo", base))
	feature := sampleReport("new", "/p/todo", base.Add(time.Hour))
	feature.Kind = domain.RunFeature
	s.SaveRun(ctx, feature)
	s.SaveRun(ctx, sampleReport("other", "/p/other", base.Add(2*time.Hour)))

	got, err := s.LatestRunForDir(ctx, "/p/todo")
	if err != nil || got == nil || got.RunID != "new" {
		t.Fatalf("expected latest run 'new', got %+v (%v)", got, err)
	}
	none, err := s.LatestRunForDir(ctx, "/p/missing")
	if err != nil || none != nil {
		t.Fatalf("expected no run, got %+v (%v)", none, err)
	}
}

func TestStore_Audit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	entry := domain.AuditEntry{RunID: "run-1", Action: "command_blocked", ToolName: "run_command", Command: "sudo ls", Result: "blocked"}
	if err := s.LogAudit(ctx, entry); err != nil {
		t.Fatal(err)
	}
	s.LogAudit(ctx, domain.AuditEntry{RunID: "run-2", Action: "tool_exec", Result: "allowed"})

	got, err := s.AuditForRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != entry {
		t.Fatalf("unexpected audit entries %+v", got)
	}
}
