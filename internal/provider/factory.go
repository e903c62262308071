package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"aicoder/internal/config"
	"aicoder/internal/domain"
)

// Factory creates and caches OpenAI-compatible providers from config.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger
	cache  map[string]domain.Provider
	mu     sync.RWMutex
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:    cfg,
		logger: logger,
		cache:  make(map[string]domain.Provider),
	}
}

// Get returns the provider with the given name, or the default if name is empty.
// Created providers are cached so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	if pc.APIBase == "" {
		return nil, fmt.Errorf("provider %s: no apiBase configured", name)
	}

	p := NewOpenAI(OpenAIConfig{
		Name:    name,
		APIKey:  f.APIKey(name),
		APIBase: pc.APIBase,
		Model:   pc.DefaultModel,
		Timeout: time.Duration(pc.TimeoutSecs) * time.Second,
		Logger:  f.logger.With("provider", name),
	})
	f.cache[name] = p
	return p, nil
}

// APIKey resolves a provider's key. Values loaded from disk are already
// expanded; built-in defaults still carry ${VAR} references. The "openai"
// entry falls back to OPENAI_API_KEY.
func (f *Factory) APIKey(name string) string {
	key := strings.TrimSpace(config.ExpandEnvVars(f.cfg.Providers[name].APIKey))
	if strings.Contains(key, "${") {
		key = "" // unresolved reference
	}
	if key == "" && name == "openai" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	return key
}

// Build returns the provider a run should use: the failover chain when one
// is configured, the default provider otherwise.
func (f *Factory) Build() (domain.Provider, error) {
	chain := f.cfg.General.FailoverChain
	if len(chain) == 0 {
		return f.Get("")
	}

	names := append([]string{f.cfg.General.DefaultProvider}, chain...)
	seen := make(map[string]bool, len(names))
	var providers []domain.Provider
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("skipping provider in failover chain", "provider", name, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	switch len(providers) {
	case 0:
		return nil, fmt.Errorf("no usable provider in failover chain %v", names)
	case 1:
		return providers[0], nil
	}
	return NewChain(providers, f.logger), nil
}

// Enabled lists the names of enabled providers in sorted order.
func (f *Factory) Enabled() []string {
	var names []string
	for name, pc := range f.cfg.Providers {
		if pc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// CheckHealth runs a health check against every enabled provider.
func (f *Factory) CheckHealth(ctx context.Context) map[string]error {
	out := make(map[string]error)
	for _, name := range f.Enabled() {
		p, err := f.Get(name)
		if err != nil {
			out[name] = err
			continue
		}
		out[name] = p.Healthy(ctx)
	}
	return out
}
