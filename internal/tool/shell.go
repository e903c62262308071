package tool

import (
	"context"
	"fmt"
	"log/slog"

	"aicoder/internal/domain"
	"aicoder/internal/runner"
	"aicoder/internal/workspace"
)

// CommandRunner executes a shell command in a directory.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string) (runner.Result, error)
}

type ShellConfig struct {
	Workspace *workspace.Workspace
	Runner    CommandRunner
	Policy    domain.CommandPolicy // nil allows everything
	Logger    *slog.Logger
}

// ShellTool runs model-issued commands inside the project directory.
type ShellTool struct {
	ws     *workspace.Workspace
	runner CommandRunner
	policy domain.CommandPolicy
	logger *slog.Logger
}

var _ domain.Tool = (*ShellTool)(nil)

type commandInput struct {
	Cmd string `json:"cmd" jsonschema:"minLength=1" jsonschema_description:"Shell command to run, for example 'npm install' or 'git init'"`
	Cwd string `json:"cwd,omitempty" jsonschema_description:"Working directory relative to the project root. Defaults to the root"`
}

type commandOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

func NewShellTool(cfg ShellConfig) *ShellTool {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ShellTool{
		ws:     cfg.Workspace,
		runner: cfg.Runner,
		policy: cfg.Policy,
		logger: cfg.Logger,
	}
}

func (s *ShellTool) Name() string { return "run_command" }

func (s *ShellTool) Description() string {
	return "Run a shell command in the project directory and return its stdout, stderr and exit code. Commands cannot use sudo and must not prompt for input."
}

func (s *ShellTool) Parameters() map[string]any { return SchemaFor(&commandInput{}) }

func (s *ShellTool) Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	var in commandInput
	if err := decodeArgs(args, &in); err != nil {
		return domain.ToolResult{}, err
	}

	if s.policy != nil {
		action, err := s.policy.Check(ctx, s.Name(), in.Cmd)
		if err != nil {
			return domain.ToolResult{}, fmt.Errorf("security check: %w", err)
		}
		switch action {
		case domain.ActionBlock:
			return domain.Fail(fmt.Errorf("command blocked by security policy: %s", in.Cmd)), nil
		case domain.ActionConfirm:
			ok, err := s.policy.RequestConfirmation(ctx, s.Name(), in.Cmd)
			if err != nil {
				return domain.Fail(fmt.Errorf("confirmation failed: %w", err)), nil
			}
			if !ok {
				return domain.Fail(fmt.Errorf("command not approved by user: %s", in.Cmd)), nil
			}
		}
	}

	dir, err := s.ws.Resolve(in.Cwd)
	if err != nil {
		return domain.Fail(err), nil
	}

	res, err := s.runner.Run(ctx, dir, in.Cmd)
	if err != nil {
		if ctx.Err() != nil {
			return domain.ToolResult{}, err
		}
		s.logger.Warn("command failed to complete", "cmd", in.Cmd, "err", err)
		code := res.ExitCode
		return domain.ToolResult{
			Success:  false,
			Output:   asJSON(commandOutput{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: code}),
			Error:    err.Error(),
			ExitCode: &code,
		}, nil
	}

	code := res.ExitCode
	out := domain.ToolResult{
		Success:  code == 0,
		Output:   asJSON(commandOutput{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: code}),
		ExitCode: &code,
	}
	if code != 0 {
		out.Error = fmt.Sprintf("command exited with status %d", code)
	}
	return out, nil
}
