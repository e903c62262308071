package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"aicoder/internal/domain"
)

// Chain sends each request to its active provider and moves through the
// rest of the list, wrapping around, when that provider fails. A provider
// that answers after a failover becomes the active one. ChatRequest.Model
// is only sent to the first provider; the others use their own default model.
type Chain struct {
	providers []domain.Provider
	logger    *slog.Logger

	mu     sync.Mutex
	active int
}

func NewChain(providers []domain.Provider, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{providers: providers, logger: logger}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Models lists every provider's models once, in chain order.
func (c *Chain) Models() []string {
	var all []string
	seen := make(map[string]bool)
	for _, p := range c.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

// Healthy succeeds when any provider in the chain is healthy.
func (c *Chain) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range c.providers {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return fmt.Errorf("no healthy provider in chain: %w", errors.Join(errs...))
}

// Active is the provider the next request goes to first.
func (c *Chain) Active() domain.Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.providers) == 0 {
		return nil
	}
	return c.providers[c.active]
}

func (c *Chain) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(c.providers) == 0 {
		return nil, errors.New("failover chain is empty")
	}
	c.mu.Lock()
	start := c.active
	c.mu.Unlock()

	var lastErr error
	for n := range len(c.providers) {
		i := (start + n) % len(c.providers)
		p := c.providers[i]
		preq := req
		if i > 0 {
			preq.Model = ""
		}
		resp, err := p.Chat(ctx, preq)
		if err == nil {
			if i != start {
				c.logger.Info("switched provider", "provider", p.Name(), "position", i+1)
				c.mu.Lock()
				c.active = i
				c.mu.Unlock()
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		c.logger.Warn("provider failed, trying next", "provider", p.Name(), "position", i+1, "err", err)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
