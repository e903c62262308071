// Package generator runs the project generation, feature addition and README
// flows on top of the dispatch loop.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"aicoder/internal/agent"
	"aicoder/internal/catalog"
	"aicoder/internal/domain"
	"aicoder/internal/security"
	"aicoder/internal/tool"
	"aicoder/internal/workspace"
)

const (
	defaultMaxIterations        = 25
	defaultFeatureMaxIterations = 15
)

type Config struct {
	Provider domain.Provider
	Catalog  *catalog.Catalog
	Runner   tool.CommandRunner
	Policy   domain.CommandPolicy // nil allows every command
	Store    domain.RunStore      // nil disables history
	Counter  agent.TokenCounter
	Observer agent.Observer
	Logger   *slog.Logger

	Model                string
	MaxIterations        int
	FeatureMaxIterations int
	MaxSessionTokens     int
	MaxTokens            int
	Temperature          float64
	Snapshot             SnapshotConfig
}

type Generator struct {
	cfg    Config
	logger *slog.Logger
}

// FeatureRequest asks for a feature to be added to an existing project.
// Project needs Type, Name and Dir.
type FeatureRequest struct {
	Project     domain.ProjectSpec
	Description string
}

func New(cfg Config) (*Generator, error) {
	if cfg.Provider == nil {
		return nil, errors.New("generator: provider is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("generator: command runner is required")
	}
	if cfg.Catalog == nil {
		c, err := catalog.Default()
		if err != nil {
			return nil, err
		}
		cfg.Catalog = c
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.FeatureMaxIterations <= 0 {
		cfg.FeatureMaxIterations = defaultFeatureMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Snapshot.Ignore = append(append([]string{}, cfg.Catalog.Ignore...), cfg.Snapshot.Ignore...)
	return &Generator{cfg: cfg, logger: cfg.Logger}, nil
}

// Generate scaffolds a new project in spec.Dir. The report is returned even
// when the run stops early; err then says why.
func (g *Generator) Generate(ctx context.Context, spec domain.ProjectSpec) (*domain.Report, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}
	if err := os.MkdirAll(spec.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create project directory: %w", err)
	}

	var include, exclude []string
	if spec.Features != nil {
		include, exclude = g.cfg.Catalog.Instructions(spec.Features)
	}
	report, err := g.run(ctx, runPlan{
		kind:          domain.RunGenerate,
		spec:          spec,
		system:        generateSystemPrompt,
		user:          generateUserPrompt(spec, include, exclude),
		summaryPrompt: generateSummaryPrompt,
		maxIterations: g.cfg.MaxIterations,
	})
	if report != nil {
		if path, saveErr := SaveSummary(report); saveErr != nil {
			g.logger.Warn("cannot save generation summary", "error", saveErr)
		} else {
			g.logger.Info("generation summary saved", "path", path)
		}
	}
	return report, err
}

// AddFeature modifies an existing project. Files written that existed before
// the run are reported as modified.
func (g *Generator) AddFeature(ctx context.Context, req FeatureRequest) (*domain.Report, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, errors.New("feature description is required")
	}
	if err := req.Project.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}
	info, err := os.Stat(req.Project.Dir)
	if err != nil {
		return nil, fmt.Errorf("project directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project directory %s: %w", req.Project.Dir, workspace.ErrNotDirectory)
	}

	snap, err := TakeSnapshot(req.Project.Dir, g.cfg.Snapshot)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("project snapshot", "dirs", len(snap.Directories), "files", len(snap.Files), "truncated", snap.Truncated)

	return g.run(ctx, runPlan{
		kind:          domain.RunFeature,
		spec:          req.Project,
		feature:       req.Description,
		system:        featureSystemPrompt,
		user:          featureUserPrompt(req.Project, req.Description, snap),
		summaryPrompt: featureSummaryPrompt,
		maxIterations: g.cfg.FeatureMaxIterations,
	})
}

// GenerateReadme asks the model for a README in a single tool-less completion
// and writes it to README.md. prior, when set, supplies the project structure.
func (g *Generator) GenerateReadme(ctx context.Context, spec domain.ProjectSpec, prior *domain.Report) (*domain.Report, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}
	ws, err := workspace.New(spec.Dir)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report := g.newReport(domain.RunReadme, spec, start)
	report.ProjectDir = ws.Root()
	resp, err := g.cfg.Provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: readmeSystemPrompt},
			{Role: domain.RoleUser, Content: readmeUserPrompt(spec, prior)},
		},
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM error: %w", err)
	}
	content := stripFence(resp.Content)
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("model returned an empty README")
	}

	existed, err := ws.WriteFile("README.md", content, false)
	if err != nil {
		return nil, fmt.Errorf("write README.md: %w", err)
	}
	if existed {
		report.ModifiedFiles = []string{"README.md"}
	} else {
		report.FilesCreated = []string{"README.md"}
		report.TotalFiles = 1
	}
	report.TotalSteps = 1
	report.Summary = content
	report.StopReason = string(agent.StopCompleted)
	report.Usage = resp.Usage
	report.ElapsedSeconds = time.Since(start).Seconds()

	g.logger.Info("readme written", "project", spec.Name, "bytes", len(content), "replaced", existed)
	g.persist(ctx, report)
	return report, nil
}

type runPlan struct {
	kind          domain.RunKind
	spec          domain.ProjectSpec
	feature       string
	system        string
	user          string
	summaryPrompt string
	maxIterations int
}

func (g *Generator) run(ctx context.Context, plan runPlan) (*domain.Report, error) {
	start := time.Now()
	ws, err := workspace.New(plan.spec.Dir)
	if err != nil {
		return nil, err
	}

	report := g.newReport(plan.kind, plan.spec, start)
	report.ProjectDir = ws.Root()
	report.FeatureDescription = plan.feature
	logger := g.logger.With("run_id", report.RunID, "kind", string(plan.kind))
	ctx = security.WithRunID(ctx, report.RunID)

	registry, err := tool.NewProjectRegistry(tool.ProjectToolsConfig{
		Workspace: ws,
		Runner:    g.cfg.Runner,
		Policy:    g.cfg.Policy,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	tracker := newChangeTracker(ws)
	sess := agent.NewSession(g.cfg.Counter)
	sess.Append(
		domain.Message{Role: domain.RoleSystem, Content: plan.system},
		domain.Message{Role: domain.RoleUser, Content: plan.user},
	)

	loop := agent.NewLoop(agent.LoopConfig{
		Provider: g.cfg.Provider,
		Tools:    registry,
		Logger:   logger,
		Observer: func(e agent.Event) {
			tracker.observe(e)
			if g.cfg.Observer != nil {
				g.cfg.Observer(e)
			}
		},
		Model:            g.cfg.Model,
		MaxIterations:    plan.maxIterations,
		MaxSessionTokens: g.cfg.MaxSessionTokens,
		MaxTokens:        g.cfg.MaxTokens,
		Temperature:      g.cfg.Temperature,
	})

	logger.Info("run started", "project", plan.spec.Name, "dir", ws.Root(), "max_iterations", plan.maxIterations)
	res, runErr := loop.Run(ctx, sess)

	report.TotalSteps = res.Iterations
	report.Actions = res.Actions
	if report.Actions == nil {
		report.Actions = []domain.Action{}
	}
	report.StopReason = string(res.StopReason)
	report.Usage = res.Usage
	report.FilesCreated = tracker.files.list()
	report.DirectoriesCreated = tracker.dirs.list()
	report.ModifiedFiles = tracker.modified.items
	report.TotalFiles = len(report.FilesCreated)
	report.TotalDirectories = len(report.DirectoriesCreated)
	report.Summary = res.Content
	if runErr != nil {
		report.Error = runErr.Error()
	}

	if res.StopReason == agent.StopCompleted || res.StopReason == agent.StopIterationCap {
		summary, usage, err := g.summarize(ctx, sess, plan.summaryPrompt)
		if err != nil {
			logger.Warn("summary request failed", "error", err)
		} else if summary != "" {
			report.Summary = summary
		}
		report.Usage.Add(usage)
	}

	report.ElapsedSeconds = time.Since(start).Seconds()
	logger.Info("run finished",
		"stop_reason", report.StopReason,
		"steps", report.TotalSteps,
		"actions", len(report.Actions),
		"files", report.TotalFiles,
		"dirs", report.TotalDirectories,
		"modified", len(report.ModifiedFiles),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	g.persist(ctx, report)
	return report, runErr
}

// summarize asks the model, without tools, to describe what it did.
func (g *Generator) summarize(ctx context.Context, sess *agent.Session, prompt string) (string, domain.Usage, error) {
	msgs := append(sess.Messages(), domain.Message{Role: domain.RoleUser, Content: prompt})
	resp, err := g.cfg.Provider.Chat(ctx, domain.ChatRequest{
		Messages:    msgs,
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", domain.Usage{}, err
	}
	return strings.TrimSpace(resp.Content), resp.Usage, nil
}

func (g *Generator) newReport(kind domain.RunKind, spec domain.ProjectSpec, start time.Time) *domain.Report {
	model := g.cfg.Model
	if model == "" {
		if models := g.cfg.Provider.Models(); len(models) > 0 {
			model = models[0]
		}
	}
	return &domain.Report{
		RunID:              uuid.NewString(),
		Kind:               kind,
		ProjectName:        spec.Name,
		ProjectType:        spec.Type,
		ProjectDir:         spec.Dir,
		Description:        spec.Description,
		Provider:           g.cfg.Provider.Name(),
		Model:              model,
		Features:           spec.Features,
		FilesCreated:       []string{},
		DirectoriesCreated: []string{},
		Actions:            []domain.Action{},
		StartedAt:          start.UTC(),
	}
}

// persist records the run in history, even after ctx is cancelled.
func (g *Generator) persist(ctx context.Context, r *domain.Report) {
	if g.cfg.Store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.cfg.Store.SaveRun(saveCtx, *r); err != nil {
		g.logger.Warn("cannot save run history", "run_id", r.RunID, "error", err)
	}
}
