package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"aicoder/internal/catalog"
	"aicoder/internal/config"
	"aicoder/internal/history"
	"aicoder/internal/provider"

	"github.com/spf13/cobra"
)

const healthTimeout = 15 * time.Second

// checkList counts results while printing them.
type checkList struct {
	out                    io.Writer
	passed, warned, failed int
}

func (c *checkList) pass(check, detail string) {
	c.passed++
	fmt.Fprintf(c.out, "  %s %-22s %s\n", successStyle.Render("[PASS]"), check, detail)
}

func (c *checkList) warn(check, detail string) {
	c.warned++
	fmt.Fprintf(c.out, "  %s %-22s %s\n", warnStyle.Render("[WARN]"), check, detail)
}

func (c *checkList) fail(check, detail string) {
	c.failed++
	fmt.Fprintf(c.out, "  %s %-22s %s\n", errorStyle.Render("[FAIL]"), check, detail)
}

func doctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your aicoder setup",
		Long: `Verifies the configuration, API keys, provider reachability, the
project catalog and the history database. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render("aicoder doctor "+version))
			c := &checkList{out: out}
			runChecks(cmd.Context(), c, resolveConfigPath(), !offline)

			fmt.Fprintf(out, "\nResults: %d passed, %d warnings, %d failed\n", c.passed, c.warned, c.failed)
			if c.failed > 0 {
				return fmt.Errorf("%d check(s) failed", c.failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip provider health checks")
	return cmd
}

func runChecks(ctx context.Context, c *checkList, cfgPath string, online bool) {
	cfg, found, err := config.LoadOrDefault(cfgPath)
	switch {
	case err != nil:
		c.fail("Config", err.Error())
		return
	case !found:
		c.warn("Config", fmt.Sprintf("not found at %s, using defaults (run 'aicoder init')", cfgPath))
	default:
		c.pass("Config", cfgPath)
	}

	if _, err := catalog.Load(cfg.Catalog.Path, logger); err != nil {
		c.fail("Catalog", err.Error())
	} else if cfg.Catalog.Path != "" {
		c.pass("Catalog", cfg.Catalog.Path)
	} else {
		c.pass("Catalog", "built-in")
	}

	if _, err := exec.LookPath("sh"); err != nil {
		c.fail("Shell", "sh not found in PATH; run_command will not work")
	} else {
		c.pass("Shell", "sh")
	}

	factory := provider.NewFactory(cfg, logger)
	for _, name := range factory.Enabled() {
		if factory.APIKey(name) == "" {
			c.warn("API key: "+name, "not set (fine for local endpoints)")
		} else {
			c.pass("API key: "+name, "set")
		}
	}
	if online {
		hctx, cancel := context.WithTimeout(ctx, healthTimeout)
		health := factory.CheckHealth(hctx)
		for _, name := range factory.Enabled() {
			if err := health[name]; err != nil {
				c.fail("Provider: "+name, err.Error())
			} else {
				c.pass("Provider: "+name, "reachable")
			}
		}
		cancel()
	}

	if cfg.History.Enabled {
		if version, err := checkHistory(ctx, cfg.History.DBPath); err != nil {
			c.fail("History", err.Error())
		} else {
			c.pass("History", fmt.Sprintf("%s (schema v%d)", cfg.History.DBPath, version))
		}
	} else {
		c.warn("History", "disabled")
	}

	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			c.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			c.pass("Log file", cfg.General.LogFile)
		}
	}
}

func checkHistory(ctx context.Context, dbPath string) (int, error) {
	store, err := history.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pctx); err != nil {
		return 0, fmt.Errorf("cannot ping: %w", err)
	}
	return store.SchemaVersion(pctx)
}
