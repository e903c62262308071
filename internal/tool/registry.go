package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"aicoder/internal/domain"
)

// Registry holds the tools offered to the model, in registration order.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]domain.Tool
	schemas map[string]*jsonschema.Schema
	order   []string
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]domain.Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger,
	}
}

// Register adds t. Registering a name twice replaces the tool but keeps its
// original position.
func (r *Registry) Register(t domain.Tool) error {
	schema, err := compileSchema(t.Name(), t.Parameters())
	if err != nil {
		return fmt.Errorf("register %s: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
	r.schemas[t.Name()] = schema
	r.logger.Debug("registered tool", "name", t.Name())
	return nil
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Execute validates args and runs the named tool. Every failure, including an
// unknown tool, comes back as an unsuccessful result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) domain.ToolResult {
	r.mu.RLock()
	t := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if t == nil {
		return domain.Fail(fmt.Errorf("unknown tool: %s (available: %v)", name, r.Names()))
	}

	normalized, err := normalizeArgs(args)
	if err != nil {
		return domain.Fail(fmt.Errorf("invalid arguments for %s: %w", name, err))
	}
	if err := schema.Validate(normalized); err != nil {
		return domain.Fail(fmt.Errorf("invalid arguments for %s: %s", name, describeValidation(err)))
	}

	res, err := t.Execute(ctx, args)
	if err != nil {
		r.logger.Error("tool failed", "tool", name, "err", err)
		return domain.Fail(err)
	}
	return res
}

// ExecuteCall runs a model-issued call, rejecting arguments that arrived as
// malformed JSON.
func (r *Registry) ExecuteCall(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	if call.Arguments == nil && call.RawArguments != "" {
		return domain.Fail(fmt.Errorf("malformed arguments for %s: not a JSON object: %s", call.Name, call.RawArguments))
	}
	return r.Execute(ctx, call.Name, call.Arguments)
}

// GetDefinitions returns tool definitions in registration order.
func (r *Registry) GetDefinitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
