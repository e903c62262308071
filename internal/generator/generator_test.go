package generator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aicoder/internal/agent"
	"aicoder/internal/config"
	"aicoder/internal/domain"
	"aicoder/internal/runner"
	"aicoder/internal/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type step func(req domain.ChatRequest) (*domain.ChatResponse, error)

// scriptedProvider answers each request with the next step. Once the script
// runs out it returns repeat, or "done" text.
type scriptedProvider struct {
	steps    []step
	repeat   *domain.ChatResponse
	requests []domain.ChatRequest
}

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		if p.repeat != nil {
			r := *p.repeat
			r.ToolCalls = append([]domain.ToolCall(nil), p.repeat.ToolCalls...)
			return &r, nil
		}
		return &domain.ChatResponse{Content: "done"}, nil
	}
	s := p.steps[0]
	p.steps = p.steps[1:]
	return s(req)
}

func (p *scriptedProvider) Name() string                      { return "scripted" }
func (p *scriptedProvider) Models() []string                  { return []string{"test-model"} }
func (p *scriptedProvider) Healthy(ctx context.Context) error { return nil }

func reply(resp *domain.ChatResponse) step {
	return func(domain.ChatRequest) (*domain.ChatResponse, error) { return resp, nil }
}

func calls(cs ...domain.ToolCall) step {
	return reply(&domain.ChatResponse{ToolCalls: cs, FinishReason: "tool_calls"})
}

func call(id, name string, args map[string]any) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: args}
}

// memStore is an in-memory RunStore that also collects audit entries.
type memStore struct {
	runs  []domain.Report
	audit []domain.AuditEntry
}

func (m *memStore) SaveRun(ctx context.Context, r domain.Report) error {
	m.runs = append(m.runs, r)
	return nil
}
func (m *memStore) GetRun(ctx context.Context, id string) (*domain.Report, error) { return nil, nil }
func (m *memStore) ListRuns(ctx context.Context, limit int) ([]domain.Report, error) {
	return m.runs, nil
}
func (m *memStore) LatestRunForDir(ctx context.Context, dir string) (*domain.Report, error) {
	return nil, nil
}
func (m *memStore) LogAudit(ctx context.Context, e domain.AuditEntry) error {
	m.audit = append(m.audit, e)
	return nil
}
func (m *memStore) Close() error { return nil }

func newGenerator(t *testing.T, prov domain.Provider, store *memStore, mutate func(*Config)) *Generator {
	t.Helper()
	policy, err := security.NewEngine(config.Defaults().Security, nil, store, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		Provider: prov,
		Runner:   runner.New(runner.Config{TimeoutSeconds: 10, Logger: testLogger()}),
		Policy:   policy,
		Store:    store,
		Logger:   testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func testSpec(t *testing.T) domain.ProjectSpec {
	return domain.ProjectSpec{
		Type:        "Express + TypeScript",
		Name:        "todo-api",
		Dir:         filepath.Join(t.TempDir(), "projects", "todo_api"),
		Description: "A REST API for todos",
		Features:    map[string]bool{"git": true, "tests": false, "github_actions": false, "docs": true},
	}
}

func TestGenerate_EndToEnd(t *testing.T) {
	prov := &scriptedProvider{steps: []step{
		calls(
			call("1", "create_directory", map[string]any{"path": "src"}),
			call("2", "write_to_file", map[string]any{"path": "src/index.ts", "content": "export {}\n"}),
			call("3", "write_to_file", map[string]any{"path": "package.json", "content": "{}"}),
		),
		calls(
			call("4", "run_command", map[string]any{"cmd": "exit 1"}),
			call("5", "run_command", map[string]any{"cmd": "sudo rm -rf /"}),
			call("6", "read_file", map[string]any{"path": "../../etc/passwd"}),
		),
		reply(&domain.ChatResponse{Content: "The project structure is complete."}),
		reply(&domain.ChatResponse{Content: "Created an Express API.", Usage: domain.Usage{TotalTokens: 7}}),
	}}
	store := &memStore{}
	g := newGenerator(t, prov, store, nil)
	spec := testSpec(t)

	report, err := g.Generate(context.Background(), spec)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if report.StopReason != string(agent.StopCompleted) || report.TotalSteps != 3 || len(report.Actions) != 6 {
		t.Fatalf("unexpected report %+v", report)
	}
	if strings.Join(report.FilesCreated, ",") != "src/index.ts,package.json" {
		t.Errorf("files created: %v", report.FilesCreated)
	}
	if strings.Join(report.DirectoriesCreated, ",") != "src" || report.TotalDirectories != 1 || report.TotalFiles != 2 {
		t.Errorf("dirs created: %v", report.DirectoriesCreated)
	}
	if report.Summary != "Created an Express API." {
		t.Errorf("summary should come from the summary request, got %q", report.Summary)
	}
	if report.Usage.TotalTokens != 7 || report.Provider != "scripted" || report.Model != "test-model" {
		t.Errorf("unexpected usage/provider %+v %s %s", report.Usage, report.Provider, report.Model)
	}
	for i, want := range []bool{true, true, true, false, false, false} {
		if report.Actions[i].Success != want {
			t.Errorf("action %d (%s) success=%v", i+1, report.Actions[i].Tool, report.Actions[i].Success)
		}
	}
	if !strings.Contains(report.Actions[4].Error, "blocked") {
		t.Errorf("sudo should be blocked, got %q", report.Actions[4].Error)
	}

	// Feature instructions reach the model.
	user := prov.requests[0].Messages[1].Content
	if !strings.Contains(user, "Git initialization") || !strings.Contains(user, "Do NOT include any testing") {
		t.Errorf("feature bullets missing from prompt:\n%s", user)
	}
	if len(prov.requests[0].Tools) != 6 {
		t.Errorf("expected 6 tools, got %d", len(prov.requests[0].Tools))
	}
	if last := prov.requests[3]; len(last.Tools) != 0 {
		t.Error("summary request should not offer tools")
	}

	// Summary JSON and history.
	saved, err := LoadSummary(spec.Dir)
	if err != nil {
		t.Fatalf("LoadSummary: %v", err)
	}
	if saved.ProjectName != "todo-api" || saved.TotalFiles != 2 {
		t.Errorf("unexpected saved summary %+v", saved)
	}
	if _, err := os.Stat(filepath.Join(spec.Dir, "todo-api_generation_summary.json")); err != nil {
		t.Errorf("summary file missing: %v", err)
	}
	if len(store.runs) != 1 || store.runs[0].RunID != report.RunID {
		t.Fatalf("expected run saved to history, got %d", len(store.runs))
	}

	// Audit entries carry the run ID.
	if len(store.audit) == 0 {
		t.Fatal("expected audit entries")
	}
	for _, e := range store.audit {
		if e.RunID != report.RunID {
			t.Fatalf("audit entry without run id: %+v", e)
		}
	}
}

func TestGenerate_IterationCapStillReports(t *testing.T) {
	prov := &scriptedProvider{repeat: &domain.ChatResponse{ToolCalls: []domain.ToolCall{
		call("", "list_directory_contents", map[string]any{}),
	}}}
	store := &memStore{}
	g := newGenerator(t, prov, store, func(c *Config) { c.MaxIterations = 2 })

	report, err := g.Generate(context.Background(), testSpec(t))
	if !errors.Is(err, agent.ErrIterationCap) {
		t.Fatalf("expected ErrIterationCap, got %v", err)
	}
	if report == nil || report.StopReason != string(agent.StopIterationCap) || report.TotalSteps != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Error == "" || len(store.runs) != 1 {
		t.Fatal("capped run should still be recorded with its error")
	}
	// Two loop requests plus the summary request.
	if len(prov.requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(prov.requests))
	}
}

func TestGenerate_SummaryFailureNotFatal(t *testing.T) {
	prov := &scriptedProvider{steps: []step{
		reply(&domain.ChatResponse{Content: "Nothing to do."}),
		func(domain.ChatRequest) (*domain.ChatResponse, error) { return nil, errors.New("503") },
	}}
	g := newGenerator(t, prov, &memStore{}, nil)

	report, err := g.Generate(context.Background(), testSpec(t))
	if err != nil {
		t.Fatalf("summary failure should not fail the run: %v", err)
	}
	if report.Summary != "Nothing to do." {
		t.Fatalf("expected final text as summary fallback, got %q", report.Summary)
	}
}

func TestGenerate_ModelErrorSkipsSummary(t *testing.T) {
	boom := errors.New("connection refused")
	prov := &scriptedProvider{steps: []step{
		func(domain.ChatRequest) (*domain.ChatResponse, error) { return nil, boom },
	}}
	g := newGenerator(t, prov, &memStore{}, nil)

	report, err := g.Generate(context.Background(), testSpec(t))
	if !errors.Is(err, boom) {
		t.Fatalf("expected model error, got %v", err)
	}
	if report.StopReason != string(agent.StopModelError) || len(prov.requests) != 1 {
		t.Fatalf("unexpected report %+v after %d requests", report, len(prov.requests))
	}
}

func TestGenerate_InvalidSpec(t *testing.T) {
	g := newGenerator(t, &scriptedProvider{}, &memStore{}, nil)
	if _, err := g.Generate(context.Background(), domain.ProjectSpec{Type: "Python"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestAddFeature_NewVersusModified(t *testing.T) {
	spec := testSpec(t)
	os.MkdirAll(filepath.Join(spec.Dir, "node_modules", "left-pad"), 0o755)
	os.WriteFile(filepath.Join(spec.Dir, "node_modules", "left-pad", "index.js"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(spec.Dir, "package.json"), []byte(`{"name":"todo-api"}`), 0o644)

	prov := &scriptedProvider{steps: []step{
		calls(
			call("1", "read_file", map[string]any{"path": "package.json"}),
			call("2", "write_to_file", map[string]any{"path": "package.json", "content": `{"name":"todo-api","scripts":{}}`}),
			call("3", "create_directory", map[string]any{"path": "src/auth"}),
			call("4", "write_to_file", map[string]any{"path": "src/auth/login.ts", "content": "export {}"}),
			call("5", "write_to_file", map[string]any{"path": "src/auth/login.ts", "content": "// more\n", "mode": "a"}),
		),
		reply(&domain.ChatResponse{Content: "Feature implementation is complete."}),
		reply(&domain.ChatResponse{Content: "Added login."}),
	}}
	store := &memStore{}
	g := newGenerator(t, prov, store, func(c *Config) {
		c.Snapshot = SnapshotConfig{KeyFiles: []string{"package.json", "go.mod"}}
	})

	report, err := g.AddFeature(context.Background(), FeatureRequest{Project: spec, Description: "add login"})
	if err != nil {
		t.Fatalf("AddFeature: %v", err)
	}
	if report.Kind != domain.RunFeature || report.FeatureDescription != "add login" {
		t.Fatalf("unexpected report %+v", report)
	}
	if strings.Join(report.ModifiedFiles, ",") != "package.json" {
		t.Errorf("modified: %v", report.ModifiedFiles)
	}
	if strings.Join(report.FilesCreated, ",") != "src/auth/login.ts" {
		t.Errorf("new files: %v", report.FilesCreated)
	}
	if strings.Join(report.DirectoriesCreated, ",") != "src/auth" {
		t.Errorf("new dirs: %v", report.DirectoriesCreated)
	}

	prompt := prov.requests[0].Messages[1].Content
	if !strings.Contains(prompt, "- package.json") || !strings.Contains(prompt, `{"name":"todo-api"}`) {
		t.Errorf("snapshot missing from prompt:\n%s", prompt)
	}
	if strings.Contains(prompt, "left-pad") {
		t.Error("ignored directories should not be listed")
	}
	if !strings.Contains(prompt, "add login") {
		t.Error("feature description missing from prompt")
	}
	if _, err := os.Stat(filepath.Join(spec.Dir, SummaryFileName(spec.Name))); !os.IsNotExist(err) {
		t.Error("feature runs should not write a generation summary")
	}
	if len(store.runs) != 1 {
		t.Error("feature run should be saved to history")
	}
}

func TestAddFeature_FeatureCapDefault(t *testing.T) {
	spec := testSpec(t)
	os.MkdirAll(spec.Dir, 0o755)
	prov := &scriptedProvider{repeat: &domain.ChatResponse{ToolCalls: []domain.ToolCall{
		call("", "list_directory_contents", map[string]any{}),
	}}}
	g := newGenerator(t, prov, &memStore{}, nil)

	report, err := g.AddFeature(context.Background(), FeatureRequest{Project: spec, Description: "loop forever"})
	if !errors.Is(err, agent.ErrIterationCap) {
		t.Fatalf("expected ErrIterationCap, got %v", err)
	}
	if report.TotalSteps != defaultFeatureMaxIterations {
		t.Fatalf("expected %d steps, got %d", defaultFeatureMaxIterations, report.TotalSteps)
	}
}

func TestAddFeature_Validation(t *testing.T) {
	g := newGenerator(t, &scriptedProvider{}, &memStore{}, nil)
	spec := testSpec(t)

	if _, err := g.AddFeature(context.Background(), FeatureRequest{Project: spec}); err == nil {
		t.Error("empty description should fail")
	}
	if _, err := g.AddFeature(context.Background(), FeatureRequest{Project: spec, Description: "x"}); err == nil {
		t.Error("missing directory should fail")
	}
}

func TestGenerateReadme(t *testing.T) {
	spec := testSpec(t)
	os.MkdirAll(spec.Dir, 0o755)
	prov := &scriptedProvider{steps: []step{
		reply(&domain.ChatResponse{Content: "```markdown\n# todo-api\n\nA REST API.\n```"}),
		reply(&domain.ChatResponse{Content: "# todo-api v2\n"}),
	}}
	store := &memStore{}
	g := newGenerator(t, prov, store, nil)
	prior := &domain.Report{FilesCreated: []string{"src/index.ts"}, DirectoriesCreated: []string{"src"}}

	report, err := g.GenerateReadme(context.Background(), spec, prior)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(spec.Dir, "README.md"))
	if string(data) != "# todo-api\n\nA REST API.\n" {
		t.Fatalf("unexpected README %q", data)
	}
	if report.Kind != domain.RunReadme || strings.Join(report.FilesCreated, ",") != "README.md" {
		t.Fatalf("unexpected report %+v", report)
	}
	if !strings.Contains(prov.requests[0].Messages[1].Content, "- src/index.ts") {
		t.Error("prior structure should be in the prompt")
	}
	if len(prov.requests[0].Tools) != 0 {
		t.Error("README request should not offer tools")
	}

	again, err := g.GenerateReadme(context.Background(), spec, nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(again.ModifiedFiles, ",") != "README.md" || len(again.FilesCreated) != 0 {
		t.Fatalf("regenerated README should be reported as modified, got %+v", again)
	}
	if len(store.runs) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(store.runs))
	}
}

func TestGenerateReadme_EmptyReply(t *testing.T) {
	spec := testSpec(t)
	os.MkdirAll(spec.Dir, 0o755)
	g := newGenerator(t, &scriptedProvider{steps: []step{reply(&domain.ChatResponse{Content: "  "})}}, &memStore{}, nil)
	if _, err := g.GenerateReadme(context.Background(), spec, nil); err == nil {
		t.Fatal("expected error for empty README")
	}
	if _, err := os.Stat(filepath.Join(spec.Dir, "README.md")); !os.IsNotExist(err) {
		t.Fatal("README.md should not be written")
	}
}
