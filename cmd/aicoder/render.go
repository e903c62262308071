package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"aicoder/internal/agent"
	"aicoder/internal/domain"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary = lipgloss.Color("#A78BFA")
	colorSuccess = lipgloss.Color("#059669")
	colorWarning = lipgloss.Color("#D97706")
	colorError   = lipgloss.Color("#DC2626")
	colorMuted   = lipgloss.Color("#9CA3AF")
	colorTool    = lipgloss.Color("#22D3EE")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	headerStyle  = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warnStyle    = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(colorMuted)
	toolStyle    = lipgloss.NewStyle().Foreground(colorTool).Bold(true)
)

var boxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorPrimary).
	Padding(0, 1)

var toolIcons = map[string]string{
	"read_file":               "📄",
	"get_file_metadata":       "🔎",
	"list_directory_contents": "📂",
	"write_to_file":           "✨",
	"create_directory":        "📁",
	"run_command":             "💻",
}

// progress prints one line per loop event.
type progress struct {
	out   io.Writer
	start time.Time
}

func newProgress(out io.Writer) *progress {
	return &progress{out: out}
}

func (p *progress) observe(e agent.Event) {
	switch e.Kind {
	case agent.EventModelRequest:
		if e.Iteration == 1 {
			p.start = time.Now()
		}
		fmt.Fprintln(p.out, dimStyle.Render(fmt.Sprintf("── step %d ──", e.Iteration)))
	case agent.EventModelText:
		if text := strings.TrimSpace(e.Content); text != "" {
			fmt.Fprintln(p.out, "  "+clipLine(text, 200))
		}
	case agent.EventToolStart:
		icon := toolIcons[e.Call.Name]
		if icon == "" {
			icon = "•"
		}
		fmt.Fprintf(p.out, "  %s %s %s\n", icon, toolStyle.Render(e.Call.Name), callTarget(*e.Call))
	case agent.EventToolResult:
		if e.Result.Success {
			fmt.Fprintln(p.out, "    "+successStyle.Render("✓ ok"))
		} else {
			fmt.Fprintln(p.out, "    "+errorStyle.Render("✗ "+clipLine(e.Result.Error, 160)))
		}
	case agent.EventDone:
		elapsed := ""
		if !p.start.IsZero() {
			elapsed = " in " + time.Since(p.start).Round(time.Second).String()
		}
		fmt.Fprintln(p.out, dimStyle.Render(fmt.Sprintf("── %s after %d step(s)%s ──", e.Stop, e.Iteration, elapsed)))
	}
}

// callTarget is the argument worth showing for a call: its path or command.
func callTarget(tc domain.ToolCall) string {
	for _, key := range []string{"path", "cmd"} {
		if v, ok := tc.Arguments[key].(string); ok && v != "" {
			return dimStyle.Render(clipLine(v, 120))
		}
	}
	return ""
}

func clipLine(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}

// printReport shows the outcome of a run.
func printReport(w io.Writer, r *domain.Report) {
	var b strings.Builder
	title := "Project generated"
	switch r.Kind {
	case domain.RunFeature:
		title = "Feature added"
	case domain.RunReadme:
		title = "README written"
	}
	if r.Error != "" {
		title = "Run stopped early"
	}
	b.WriteString(titleStyle.Render(title) + "\n")
	fmt.Fprintf(&b, "Project:   %s (%s)\n", r.ProjectName, r.ProjectType)
	fmt.Fprintf(&b, "Directory: %s\n", r.ProjectDir)
	fmt.Fprintf(&b, "Steps:     %d, actions: %d, time: %.1fs\n", r.TotalSteps, len(r.Actions), r.ElapsedSeconds)
	if r.Usage.TotalTokens > 0 {
		fmt.Fprintf(&b, "Tokens:    %d\n", r.Usage.TotalTokens)
	}
	writeList(&b, "Directories created", r.DirectoriesCreated)
	writeList(&b, "Files created", r.FilesCreated)
	writeList(&b, "Files modified", r.ModifiedFiles)
	if failed := failedActions(r.Actions); failed > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("%d action(s) failed", failed)) + "\n")
	}
	if r.Error != "" {
		b.WriteString(errorStyle.Render("Error: "+r.Error) + "\n")
	}
	fmt.Fprintln(w, boxStyle.Render(strings.TrimRight(b.String(), "\n")))

	if r.Summary != "" && r.Kind != domain.RunReadme {
		fmt.Fprintln(w, headerStyle.Render("Summary"))
		fmt.Fprintln(w, r.Summary)
	}
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s (%d):\n", label, len(items))
	for _, it := range items {
		fmt.Fprintf(b, "  - %s\n", it)
	}
}

func failedActions(actions []domain.Action) int {
	n := 0
	for _, a := range actions {
		if !a.Success {
			n++
		}
	}
	return n
}
