package main

import (
	"context"
	"fmt"

	"aicoder/internal/agent"
	"aicoder/internal/catalog"
	"aicoder/internal/config"
	"aicoder/internal/domain"
	"aicoder/internal/generator"
	"aicoder/internal/history"
	"aicoder/internal/provider"
	"aicoder/internal/runner"
	"aicoder/internal/security"
)

// app holds the components shared by the interactive commands.
type app struct {
	cfg      *config.Config
	catalog  *catalog.Catalog
	store    *history.SQLiteStore // nil when history is disabled
	gen      *generator.Generator
	ui       *prompter
	progress *progress
	closeLog func()
}

func newApp(ui *prompter) (*app, error) {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, ui: ui, closeLog: closeLog, progress: newProgress(ui.out)}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg

	cat, err := catalog.Load(cfg.Catalog.Path, logger)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	a.catalog = cat

	// Interfaces stay nil rather than holding a nil *SQLiteStore.
	var runStore domain.RunStore
	var auditLog security.AuditLogger
	if cfg.History.Enabled {
		store, err := history.NewSQLiteStore(cfg.History.DBPath, logger)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		a.store = store
		runStore = store
		auditLog = store
	}

	prov, err := provider.NewFactory(cfg, logger).Build()
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	policy, err := security.NewEngine(cfg.Security, a.confirmCommand, auditLog, logger)
	if err != nil {
		return fmt.Errorf("security engine: %w", err)
	}

	counter, err := agent.NewTokenCounter("o200k_base")
	if err != nil {
		logger.Warn("tiktoken unavailable, estimating tokens", "err", err)
	}

	a.gen, err = generator.New(generator.Config{
		Provider: prov,
		Catalog:  cat,
		Runner: runner.New(runner.Config{
			TimeoutSeconds: cfg.Tools.Shell.Timeout,
			MaxOutputBytes: cfg.Tools.Shell.MaxOutputBytes,
			Logger:         logger,
		}),
		Policy:               policy,
		Store:                runStore,
		Counter:              counter,
		Observer:             a.progress.observe,
		Logger:               logger,
		Model:                cfg.General.Model,
		MaxIterations:        cfg.General.MaxIterations,
		FeatureMaxIterations: cfg.General.FeatureMaxIterations,
		MaxSessionTokens:     cfg.General.MaxSessionTokens,
		MaxTokens:            cfg.General.MaxTokens,
		Temperature:          cfg.General.Temperature,
		Snapshot: generator.SnapshotConfig{
			MaxEntries:   cfg.Snapshot.MaxEntries,
			MaxFileBytes: cfg.Snapshot.MaxFileBytes,
			KeyFiles:     cfg.Snapshot.KeyFiles,
			Ignore:       cfg.Snapshot.Ignore,
		},
	})
	if err != nil {
		return err
	}
	logger.Info("ready", "provider", prov.Name(), "history", a.store != nil)
	return nil
}

// confirmCommand asks before running a command that matched a confirm
// pattern. --yes approves without asking.
func (a *app) confirmCommand(ctx context.Context, question string) (bool, error) {
	if assumeYes {
		return true, nil
	}
	return a.ui.confirm(question, false)
}

// lookupProject finds what is known about a project directory: the latest
// history entry first, then the saved generation summary.
func (a *app) lookupProject(ctx context.Context, dir string) (*domain.Report, error) {
	if a.store != nil {
		r, err := a.store.LatestRunForDir(ctx, dir)
		if err != nil {
			logger.Warn("history lookup failed", "dir", dir, "err", err)
		} else if r != nil {
			return r, nil
		}
	}
	r, err := generator.LoadSummary(dir)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("close history", "err", err)
		}
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}
