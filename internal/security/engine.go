package security

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"aicoder/internal/config"
	"aicoder/internal/domain"
)

// ConfirmFunc is a callback to request user confirmation.
// It sends the question and returns true if the user confirmed.
type ConfirmFunc func(ctx context.Context, question string) (bool, error)

// AuditLogger is the interface for writing audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry domain.AuditEntry) error
}

type runIDKey struct{}

// WithRunID tags ctx so audit entries written under it carry the run ID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Engine decides whether a command may run: blacklist, then whitelist, then
// confirm patterns, then the default policy. The first matching rule wins.
type Engine struct {
	policy      string
	audit       bool
	confirmFn   ConfirmFunc
	auditLogger AuditLogger
	logger      *slog.Logger

	blacklist []*regexp.Regexp
	whitelist []*regexp.Regexp
	confirm   []*regexp.Regexp
}

var _ domain.CommandPolicy = (*Engine)(nil)

func NewEngine(cfg config.SecurityConfig, confirmFn ConfirmFunc, auditLogger AuditLogger, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		policy:      cfg.DefaultPolicy,
		audit:       cfg.AuditLog,
		confirmFn:   confirmFn,
		auditLogger: auditLogger,
		logger:      logger,
	}
	lists := []struct {
		name     string
		patterns []string
		dst      *[]*regexp.Regexp
	}{
		{"blacklist", cfg.Blacklist, &e.blacklist},
		{"whitelist", cfg.Whitelist, &e.whitelist},
		{"confirm", cfg.ConfirmPatterns, &e.confirm},
	}
	for _, l := range lists {
		compiled, err := compilePatterns(l.patterns)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern: %w", l.name, err)
		}
		*l.dst = compiled
	}
	return e, nil
}

// decide returns the action for cmd and the rule that produced it.
func (e *Engine) decide(cmd string) (domain.SecurityAction, string) {
	if re := firstMatch(e.blacklist, cmd); re != nil {
		return domain.ActionBlock, "blacklist match: " + re.String()
	}
	if re := firstMatch(e.whitelist, cmd); re != nil {
		return domain.ActionAllow, "whitelist match: " + re.String()
	}
	if re := firstMatch(e.confirm, cmd); re != nil {
		return domain.ActionConfirm, "confirm match: " + re.String()
	}
	switch e.policy {
	case "allow":
		return domain.ActionAllow, "default policy: allow"
	case "deny":
		return domain.ActionBlock, "default policy: deny"
	default:
		return domain.ActionConfirm, "default policy: ask"
	}
}

func firstMatch(res []*regexp.Regexp, s string) *regexp.Regexp {
	for _, re := range res {
		if re.MatchString(s) {
			return re
		}
	}
	return nil
}

// Check classifies command. Allowed and blocked commands are audited here;
// confirmations are audited once the user has answered.
func (e *Engine) Check(ctx context.Context, toolName string, command string) (domain.SecurityAction, error) {
	cmd := strings.TrimSpace(command)
	action, reason := e.decide(cmd)
	switch action {
	case domain.ActionBlock:
		e.logger.Warn("command blocked", "tool", toolName, "command", cmd, "reason", reason)
		e.record(ctx, "command_blocked", toolName, cmd, "blocked", reason)
	case domain.ActionAllow:
		e.record(ctx, "tool_exec", toolName, cmd, "allowed", reason)
	case domain.ActionConfirm:
		e.logger.Info("command needs confirmation", "tool", toolName, "command", cmd, "reason", reason)
	}
	return action, nil
}

// RequestConfirmation asks the user about command. Without a confirm
// handler the answer is no.
func (e *Engine) RequestConfirmation(ctx context.Context, toolName string, command string) (bool, error) {
	if e.confirmFn == nil {
		e.record(ctx, "confirm_no", toolName, command, "denied", "no confirmation handler")
		return false, nil
	}

	ok, err := e.confirmFn(ctx, fmt.Sprintf("The model wants to run:\n  %s\nAllow this command?", command))
	switch {
	case err != nil:
		e.record(ctx, "confirm_no", toolName, command, "denied", "confirmation error: "+err.Error())
		return false, err
	case ok:
		e.record(ctx, "confirm_yes", toolName, command, "confirmed", "user confirmed")
	default:
		e.record(ctx, "confirm_no", toolName, command, "denied", "user denied")
	}
	return ok, nil
}

func (e *Engine) record(ctx context.Context, action, toolName, command, result, details string) {
	if !e.audit || e.auditLogger == nil {
		return
	}
	err := e.auditLogger.LogAudit(ctx, domain.AuditEntry{
		RunID:    runIDFrom(ctx),
		Action:   action,
		ToolName: toolName,
		Command:  command,
		Result:   result,
		Details:  details,
	})
	if err != nil {
		e.logger.Warn("audit log write failed", "err", err)
	}
}

// compilePatterns treats entries containing regex metacharacters as regular
// expressions and plain strings as case-insensitive substrings.
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		expr := p
		if !strings.ContainsAny(p, `()[]{}|^$.*+?\`) {
			expr = `(?i)` + regexp.QuoteMeta(p)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
