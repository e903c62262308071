package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ProjectSpec is what the user asked for. It is immutable once confirmed.
type ProjectSpec struct {
	Type        string          `json:"project_type"`
	Name        string          `json:"project_name"`
	Dir         string          `json:"project_dir"`
	Description string          `json:"description"`
	Features    map[string]bool `json:"features"`
}

func (p ProjectSpec) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("project name is required"))
	}
	if strings.TrimSpace(p.Type) == "" {
		errs = append(errs, errors.New("project type is required"))
	}
	if strings.TrimSpace(p.Dir) == "" {
		errs = append(errs, errors.New("project directory is required"))
	}
	return errors.Join(errs...)
}

// Action is one executed tool call.
type Action struct {
	Step    int            `json:"step"`
	Tool    string         `json:"action"`
	Args    map[string]any `json:"args"`
	Success bool           `json:"success"`
	Output  string         `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type RunKind string

const (
	RunGenerate RunKind = "generate"
	RunFeature  RunKind = "feature"
	RunReadme   RunKind = "readme"
)

// Report is the outcome of one generation or feature-addition run.
type Report struct {
	RunID              string          `json:"run_id"`
	Kind               RunKind         `json:"kind"`
	ProjectName        string          `json:"project_name"`
	ProjectType        string          `json:"project_type"`
	ProjectDir         string          `json:"project_dir"`
	Description        string          `json:"description,omitempty"`
	Provider           string          `json:"provider,omitempty"`
	Model              string          `json:"model,omitempty"`
	FeatureDescription string          `json:"feature_description,omitempty"`
	TotalSteps         int             `json:"total_steps"`
	FilesCreated       []string        `json:"files_created"`
	DirectoriesCreated []string        `json:"directories_created"`
	ModifiedFiles      []string        `json:"modified_files,omitempty"`
	TotalFiles         int             `json:"total_files"`
	TotalDirectories   int             `json:"total_directories"`
	Features           map[string]bool `json:"features,omitempty"`
	Actions            []Action        `json:"actions"`
	Summary            string          `json:"summary"`
	StopReason         string          `json:"stop_reason"`
	Error              string          `json:"error,omitempty"`
	Usage              Usage           `json:"usage"`
	StartedAt          time.Time       `json:"started_at"`
	ElapsedSeconds     float64         `json:"generation_time_seconds"`
}

// RunStore persists reports across invocations.
type RunStore interface {
	SaveRun(ctx context.Context, r Report) error
	GetRun(ctx context.Context, id string) (*Report, error)
	ListRuns(ctx context.Context, limit int) ([]Report, error)
	LatestRunForDir(ctx context.Context, dir string) (*Report, error)
	LogAudit(ctx context.Context, entry AuditEntry) error
	Close() error
}
