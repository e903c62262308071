package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"aicoder/internal/domain"
)

const (
	defaultMaxIterations = 25
	defaultLLMMaxTokens  = 4096
	maxActionOutput      = 2000
)

var (
	// ErrIterationCap means the model kept requesting tools until the loop's
	// request cap ran out.
	ErrIterationCap = errors.New("iteration cap reached before the model finished")
	// ErrTokenBudget means the session grew past its token budget.
	ErrTokenBudget = errors.New("session token budget exceeded")
)

// State is a dispatch loop state.
type State int

const (
	StateAwaitingModel State = iota
	StateExecutingTools
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateExecutingTools:
		return "executing_tools"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type StopReason string

const (
	StopCompleted    StopReason = "completed"
	StopIterationCap StopReason = "iteration_cap"
	StopTokenBudget  StopReason = "token_budget"
	StopModelError   StopReason = "model_error"
	StopCancelled    StopReason = "cancelled"
)

type EventKind string

const (
	EventModelRequest EventKind = "model_request"
	EventModelText    EventKind = "model_text"
	EventToolStart    EventKind = "tool_start"
	EventToolResult   EventKind = "tool_result"
	EventDone         EventKind = "done"
)

// Event reports loop progress to an observer.
type Event struct {
	Kind      EventKind
	Iteration int
	Call      *domain.ToolCall
	Result    *domain.ToolResult
	Content   string
	Stop      StopReason
}

// Observer receives loop events synchronously.
type Observer func(Event)

// ToolExecutor is the part of the tool registry the loop needs.
type ToolExecutor interface {
	GetDefinitions() []domain.ToolDefinition
	ExecuteCall(ctx context.Context, call domain.ToolCall) domain.ToolResult
}

// LoopConfig holds all dependencies and tuning parameters for the dispatch loop.
type LoopConfig struct {
	Provider         domain.Provider
	Tools            ToolExecutor
	Logger           *slog.Logger
	Observer         Observer
	Model            string
	MaxIterations    int // model requests per run
	MaxSessionTokens int // 0 disables the budget
	MaxTokens        int
	Temperature      float64
}

// Loop drives one session: ask the model, run the tools it requests, repeat.
type Loop struct {
	provider         domain.Provider
	tools            ToolExecutor
	logger           *slog.Logger
	observer         Observer
	model            string
	maxIterations    int
	maxSessionTokens int
	maxTokens        int
	temperature      float64
}

// Result is the outcome of a Run. It is returned even when Run fails.
type Result struct {
	Content    string
	Iterations int
	Actions    []domain.Action
	StopReason StopReason
	Usage      domain.Usage
	Elapsed    time.Duration
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultLLMMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		provider:         cfg.Provider,
		tools:            cfg.Tools,
		logger:           cfg.Logger,
		observer:         cfg.Observer,
		model:            cfg.Model,
		maxIterations:    cfg.MaxIterations,
		maxSessionTokens: cfg.MaxSessionTokens,
		maxTokens:        cfg.MaxTokens,
		temperature:      cfg.Temperature,
	}
}

// Run advances the session until the model replies without tool calls, a
// cap is hit, the model call fails or ctx is cancelled. Tool calls run one at
// a time in the order the model sent them, and each gets exactly one tool
// message before the model is asked again.
func (l *Loop) Run(ctx context.Context, sess *Session) (*Result, error) {
	start := time.Now()
	res := &Result{}
	defer func() { res.Elapsed = time.Since(start) }()

	defs := l.tools.GetDefinitions()
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		known[d.Name] = true
	}

	state := StateAwaitingModel
	var pending []domain.ToolCall

	stop := func(reason StopReason, err error) (*Result, error) {
		res.StopReason = reason
		l.emit(Event{Kind: EventDone, Iteration: res.Iterations, Stop: reason, Content: res.Content})
		return res, err
	}

	for state != StateDone {
		switch state {
		case StateAwaitingModel:
			if err := ctx.Err(); err != nil {
				return stop(StopCancelled, err)
			}
			if res.Iterations >= l.maxIterations {
				l.logger.Warn("iteration cap reached", "cap", l.maxIterations, "actions", len(res.Actions))
				return stop(StopIterationCap, fmt.Errorf("%w (%d model requests)", ErrIterationCap, l.maxIterations))
			}
			if l.maxSessionTokens > 0 && sess.Tokens() > l.maxSessionTokens {
				l.logger.Warn("token budget exceeded", "tokens", sess.Tokens(), "budget", l.maxSessionTokens)
				return stop(StopTokenBudget, fmt.Errorf("%w (%d > %d)", ErrTokenBudget, sess.Tokens(), l.maxSessionTokens))
			}

			res.Iterations++
			l.logger.Debug("agent iteration", "iteration", res.Iterations, "messages", sess.Len(), "tokens", sess.Tokens())
			l.emit(Event{Kind: EventModelRequest, Iteration: res.Iterations})

			callStart := time.Now()
			resp, err := l.provider.Chat(ctx, domain.ChatRequest{
				Messages:    sess.Messages(),
				Tools:       defs,
				Model:       l.model,
				MaxTokens:   l.maxTokens,
				Temperature: l.temperature,
			})
			if err != nil {
				if ctx.Err() != nil {
					return stop(StopCancelled, ctx.Err())
				}
				return stop(StopModelError, fmt.Errorf("LLM error: %w", err))
			}
			res.Usage.Add(resp.Usage)
			l.logger.Debug("model replied",
				"iteration", res.Iterations,
				"tool_calls", len(resp.ToolCalls),
				"finish_reason", resp.FinishReason,
				"latency_ms", time.Since(callStart).Milliseconds(),
			)

			// Fallback: some smaller models embed tool calls as JSON in the content field.
			if !resp.HasToolCalls() && resp.Content != "" {
				if extracted := knownCalls(extractToolCallsFromContent(resp.Content), known); len(extracted) > 0 {
					resp.ToolCalls = extracted
					resp.Content = ""
					l.logger.Info("extracted tool calls from content text", "count", len(extracted))
				}
			}

			if !resp.HasToolCalls() {
				res.Content = stripRolePrefix(resp.Content)
				sess.Append(domain.Message{Role: domain.RoleAssistant, Content: res.Content})
				l.emit(Event{Kind: EventModelText, Iteration: res.Iterations, Content: res.Content})
				state = StateDone
				continue
			}

			for i := range resp.ToolCalls {
				if resp.ToolCalls[i].ID == "" {
					resp.ToolCalls[i].ID = fmt.Sprintf("call_%d_%d", res.Iterations, i)
				}
			}
			if resp.Content != "" {
				l.emit(Event{Kind: EventModelText, Iteration: res.Iterations, Content: resp.Content})
			}
			sess.Append(domain.Message{
				Role:      domain.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			pending = resp.ToolCalls
			state = StateExecutingTools

		case StateExecutingTools:
			for _, tc := range pending {
				result := l.executeTool(ctx, res, tc)
				sess.Append(domain.Message{
					Role:       domain.RoleTool,
					Content:    result.JSON(),
					ToolCallID: tc.ID,
					ToolName:   tc.Name,
				})
				if err := ctx.Err(); err != nil {
					return stop(StopCancelled, err)
				}
			}
			pending = nil
			state = StateAwaitingModel
		}
	}

	return stop(StopCompleted, nil)
}

// executeTool runs one call and records it as an action.
func (l *Loop) executeTool(ctx context.Context, res *Result, tc domain.ToolCall) domain.ToolResult {
	step := len(res.Actions) + 1
	l.logger.Info("executing tool", "step", step, "tool", tc.Name)
	if l.logger.Enabled(ctx, slog.LevelDebug) {
		if argsJSON, err := json.Marshal(tc.Arguments); err == nil {
			l.logger.Debug("tool arguments", "tool", tc.Name, "args", string(argsJSON))
		}
	}
	l.emit(Event{Kind: EventToolStart, Iteration: res.Iterations, Call: &tc})

	result := l.tools.ExecuteCall(ctx, tc)

	res.Actions = append(res.Actions, domain.Action{
		Step:    step,
		Tool:    tc.Name,
		Args:    actionArgs(tc),
		Success: result.Success,
		Output:  clip(result.Output, maxActionOutput),
		Error:   result.Error,
	})
	if !result.Success {
		l.logger.Warn("tool reported failure", "tool", tc.Name, "error", result.Error)
	}
	l.emit(Event{Kind: EventToolResult, Iteration: res.Iterations, Call: &tc, Result: &result})
	return result
}

func (l *Loop) emit(e Event) {
	if l.observer != nil {
		l.observer(e)
	}
}

// knownCalls keeps calls that name a registered tool, so JSON that merely
// looks like a call (a package.json "name" field, say) stays plain text.
func knownCalls(calls []domain.ToolCall, known map[string]bool) []domain.ToolCall {
	var out []domain.ToolCall
	for _, c := range calls {
		if known[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

// actionArgs drops bulky file content from recorded arguments.
func actionArgs(tc domain.ToolCall) map[string]any {
	if tc.Arguments == nil {
		if tc.RawArguments != "" {
			return map[string]any{"raw": clip(tc.RawArguments, maxActionOutput)}
		}
		return nil
	}
	args := make(map[string]any, len(tc.Arguments))
	for k, v := range tc.Arguments {
		if s, ok := v.(string); ok && k == "content" {
			args[k] = clip(s, 200)
			continue
		}
		args[k] = v
	}
	return args
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "... (truncated)"
}
