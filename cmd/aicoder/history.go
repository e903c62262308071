package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"aicoder/internal/domain"
	"aicoder/internal/history"

	"github.com/spf13/cobra"
)

func openHistory() (*history.SQLiteStore, func(), error) {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.History.Enabled {
		closeLog()
		return nil, nil, errors.New("run history is disabled (history.enabled = false)")
	}
	store, err := history.NewSQLiteStore(cfg.History.DBPath, logger)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return store, func() {
		store.Close()
		closeLog()
	}, nil
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openHistory()
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run with its actions and audit trail (id prefixes work)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openHistory()
			if err != nil {
				return err
			}
			defer closeFn()

			r, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				data, _ := json.MarshalIndent(r, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			audit, err := store.AuditForRun(cmd.Context(), r.RunID)
			if err != nil {
				logger.Warn("cannot load audit trail", "run_id", r.RunID, "err", err)
			}
			printRun(cmd.OutOrStdout(), r, audit)
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the stored report as JSON")
	cmd.AddCommand(show)
	return cmd
}

func printRuns(w io.Writer, runs []domain.Report) {
	if len(runs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No runs recorded yet."))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tKIND\tPROJECT\tSTOP\tFILES\tSTEPS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			shortID(r.RunID),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Kind,
			r.ProjectName,
			r.StopReason,
			len(r.FilesCreated)+len(r.ModifiedFiles),
			r.TotalSteps,
		)
	}
	tw.Flush()
}

func printRun(w io.Writer, r *domain.Report, audit []domain.AuditEntry) {
	printReport(w, r)
	fmt.Fprintf(w, "%s %s  %s %s  %s %s\n",
		dimStyle.Render("run"), r.RunID,
		dimStyle.Render("started"), r.StartedAt.Local().Format(time.RFC3339),
		dimStyle.Render("model"), strings.TrimSpace(r.Provider+" "+r.Model),
	)
	if r.FeatureDescription != "" {
		fmt.Fprintf(w, "%s %s\n", dimStyle.Render("feature"), r.FeatureDescription)
	}

	if len(r.Actions) > 0 {
		fmt.Fprintln(w, headerStyle.Render("\nActions"))
		for _, act := range r.Actions {
			mark := successStyle.Render("✓")
			if !act.Success {
				mark = errorStyle.Render("✗")
			}
			fmt.Fprintf(w, "  %3d %s %s %s\n", act.Step, mark, act.Tool, describeArgs(act.Args))
			if act.Error != "" {
				fmt.Fprintf(w, "        %s\n", dimStyle.Render(clipLine(act.Error, 160)))
			}
		}
	}

	if len(audit) > 0 {
		fmt.Fprintln(w, headerStyle.Render("\nCommand audit"))
		for _, e := range audit {
			fmt.Fprintf(w, "  %-9s %s  %s\n", e.Result, e.Command, dimStyle.Render(e.Details))
		}
	}
}

func describeArgs(args map[string]any) string {
	for _, key := range []string{"path", "cmd", "raw"} {
		if v, ok := args[key].(string); ok && v != "" {
			return clipLine(v, 100)
		}
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
