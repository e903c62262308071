package tool

import (
	"log/slog"

	"aicoder/internal/domain"
	"aicoder/internal/workspace"
)

type ProjectToolsConfig struct {
	Workspace *workspace.Workspace
	Runner    CommandRunner
	Policy    domain.CommandPolicy
	Logger    *slog.Logger
}

// NewProjectRegistry returns a registry holding the project tools in the
// order they are presented to the model.
func NewProjectRegistry(cfg ProjectToolsConfig) (*Registry, error) {
	reg := NewRegistry(cfg.Logger)
	tools := []domain.Tool{
		NewReadFileTool(cfg.Workspace),
		NewFileMetadataTool(cfg.Workspace),
		NewListDirTool(cfg.Workspace),
		NewWriteFileTool(cfg.Workspace),
		NewCreateDirTool(cfg.Workspace),
		NewShellTool(ShellConfig{
			Workspace: cfg.Workspace,
			Runner:    cfg.Runner,
			Policy:    cfg.Policy,
			Logger:    cfg.Logger,
		}),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
