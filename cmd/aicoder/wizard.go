package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"aicoder/internal/catalog"
	"aicoder/internal/domain"
	"aicoder/internal/generator"
	"aicoder/internal/workspace"

	"github.com/spf13/cobra"
)

// prompter reads line-based answers.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ask prints label and returns the answer, or def for an empty line.
func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	s, err := p.readLine()
	if err != nil {
		return "", err
	}
	if s == "" {
		return def, nil
	}
	return s, nil
}

// askRequired repeats the question until the answer is non-empty.
func (p *prompter) askRequired(label, def string) (string, error) {
	for {
		s, err := p.ask(label, def)
		if err != nil {
			return "", err
		}
		if s != "" {
			return s, nil
		}
		fmt.Fprintln(p.out, warnStyle.Render("  a value is required"))
	}
}

func (p *prompter) confirm(label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		fmt.Fprintf(p.out, "%s [%s]: ", label, hint)
		s, err := p.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(s) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, warnStyle.Render("  please answer y or n"))
	}
}

// choose shows a numbered list and returns the chosen index.
func (p *prompter) choose(label string, options []string, def int) (int, error) {
	for i, opt := range options {
		fmt.Fprintf(p.out, "  %2d) %s\n", i+1, opt)
	}
	for {
		s, err := p.ask(label, strconv.Itoa(def+1))
		if err != nil {
			return 0, err
		}
		n, convErr := strconv.Atoi(s)
		if convErr == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		fmt.Fprintf(p.out, "%s\n", warnStyle.Render(fmt.Sprintf("  enter a number between 1 and %d", len(options))))
	}
}

// suggestedDir is the default directory for a new project.
func suggestedDir(projectsDir, name string) string {
	folder := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	if projectsDir == "" {
		return folder
	}
	return filepath.Join(projectsDir, folder)
}

// askSpec collects the project type, name, directory, description and
// feature selection.
func askSpec(ui *prompter, cat *catalog.Catalog, projectsDir string) (domain.ProjectSpec, error) {
	var spec domain.ProjectSpec

	fmt.Fprintln(ui.out, headerStyle.Render("\nProject types"))
	options := make([]string, 0, len(cat.ProjectTypes)+1)
	for _, pt := range cat.ProjectTypes {
		options = append(options, strings.TrimSpace(pt.Icon+" "+pt.Name))
	}
	options = append(options, "Custom")
	idx, err := ui.choose("Select project type", options, 0)
	if err != nil {
		return spec, err
	}
	if idx == len(cat.ProjectTypes) {
		if spec.Type, err = ui.askRequired("Custom project type", ""); err != nil {
			return spec, err
		}
	} else {
		spec.Type = cat.ProjectTypes[idx].Name
	}

	if spec.Name, err = ui.askRequired("Project name", ""); err != nil {
		return spec, err
	}
	if spec.Dir, err = ui.askRequired("Project directory", suggestedDir(projectsDir, spec.Name)); err != nil {
		return spec, err
	}
	if abs, err := filepath.Abs(spec.Dir); err == nil {
		fmt.Fprintln(ui.out, dimStyle.Render("  project will be created at "+abs))
	}
	if spec.Description, err = ui.askRequired("Describe your project", ""); err != nil {
		return spec, err
	}

	fmt.Fprintln(ui.out, headerStyle.Render("\nFeatures"))
	spec.Features = cat.DefaultSelection()
	for _, f := range cat.Features {
		on, err := ui.confirm(fmt.Sprintf("Include %s? (%s)", f.Name, f.Description), f.Default)
		if err != nil {
			return spec, err
		}
		spec.Features[f.Key] = on
	}
	return spec, nil
}

func printSpec(w io.Writer, spec domain.ProjectSpec, cat *catalog.Catalog) {
	fmt.Fprintln(w, headerStyle.Render("\nProject summary"))
	fmt.Fprintf(w, "Name:      %s\n", spec.Name)
	fmt.Fprintf(w, "Type:      %s\n", spec.Type)
	fmt.Fprintf(w, "Directory: %s\n", spec.Dir)
	for _, f := range cat.Features {
		if spec.Features[f.Key] {
			fmt.Fprintln(w, successStyle.Render("  ✓ "+f.Name))
		} else {
			fmt.Fprintln(w, warnStyle.Render("  ✗ "+f.Name+" - "+f.ExcludeMessage))
		}
	}
}

func newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Generate a new project interactively (default command)",
		RunE:  runNew,
	}
}

func runNew(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui := newPrompter(os.Stdin, cmd.OutOrStdout())
	a, err := newApp(ui)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(ui.out, titleStyle.Render("aicoder "+version))
	fmt.Fprintln(ui.out, dimStyle.Render("Create complete project structures with AI"))

	spec, err := askSpec(ui, a.catalog, a.cfg.General.ProjectsDir)
	if err != nil {
		return err
	}
	printSpec(ui.out, spec, a.catalog)
	if ok, err := ui.confirm("\nReady to generate your project?", true); err != nil || !ok {
		if err == nil {
			fmt.Fprintln(ui.out, "Project generation cancelled.")
		}
		return err
	}

	fmt.Fprintln(ui.out, headerStyle.Render("\nGenerating project..."))
	report, err := a.gen.Generate(ctx, spec)
	if report != nil {
		printReport(ui.out, report)
	}
	if err != nil {
		if report == nil || ctx.Err() != nil {
			return err
		}
		fmt.Fprintln(ui.out, warnStyle.Render("The run stopped early; you can still add features to finish it."))
	}

	if ok, err := ui.confirm("\nGenerate a detailed README.md?", false); err != nil {
		return err
	} else if ok {
		if err := a.writeReadme(ctx, spec, report); err != nil {
			fmt.Fprintln(ui.out, errorStyle.Render("README generation failed: "+err.Error()))
		}
	}

	return a.featureLoop(ctx, spec)
}

func addCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "add [dir]",
		Short: "Add a feature to an existing project",
		Long: `Adds a feature to the project in dir (default: the current directory).
The project type and name come from run history or the saved generation
summary; when neither exists they are asked for.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			ws, err := workspace.New(dir)
			if err != nil {
				return err
			}
			info, err := os.Stat(ws.Root())
			if err != nil {
				return fmt.Errorf("project directory: %w", err)
			}
			if !info.IsDir() {
				return fmt.Errorf("%s: %w", ws.Root(), workspace.ErrNotDirectory)
			}

			ui := newPrompter(os.Stdin, cmd.OutOrStdout())
			a, err := newApp(ui)
			if err != nil {
				return err
			}
			defer a.Close()

			spec, err := a.resolveProject(ctx, ws.Root())
			if err != nil {
				return err
			}
			if description != "" {
				_, err := a.addFeature(ctx, spec, description)
				return err
			}
			return a.featureLoop(ctx, spec)
		},
	}
	cmd.Flags().StringVarP(&description, "feature", "f", "", "feature description; skips the interactive prompt")
	return cmd
}

// resolveProject describes the project in dir from history or the summary
// file, falling back to asking the user.
func (a *app) resolveProject(ctx context.Context, dir string) (domain.ProjectSpec, error) {
	r, err := a.lookupProject(ctx, dir)
	if err == nil {
		spec := specFromReport(r, dir)
		fmt.Fprintf(a.ui.out, "Project: %s (%s)\n", spec.Name, spec.Type)
		return spec, nil
	}
	if !errors.Is(err, generator.ErrNoSummary) {
		logger.Warn("cannot read generation summary", "dir", dir, "err", err)
	}

	fmt.Fprintln(a.ui.out, dimStyle.Render("No record of this project; describe it."))
	spec := domain.ProjectSpec{Dir: dir}
	if spec.Type, err = a.ui.askRequired("Project type", ""); err != nil {
		return spec, err
	}
	if spec.Name, err = a.ui.askRequired("Project name", filepath.Base(dir)); err != nil {
		return spec, err
	}
	return spec, nil
}

// specFromReport rebuilds the ProjectSpec of a recorded run, rooted at dir.
func specFromReport(r *domain.Report, dir string) domain.ProjectSpec {
	return domain.ProjectSpec{
		Type:        r.ProjectType,
		Name:        r.ProjectName,
		Dir:         dir,
		Description: r.Description,
		Features:    r.Features,
	}
}

// featureLoop offers feature additions until the user declines.
func (a *app) featureLoop(ctx context.Context, spec domain.ProjectSpec) error {
	prompt := "\nWould you like to add features to this project?"
	for {
		ok, err := a.ui.confirm(prompt, false)
		if err != nil || !ok {
			return err
		}
		desc, err := a.ui.askRequired("Describe the feature you want to add", "")
		if err != nil {
			return err
		}
		if _, err := a.addFeature(ctx, spec, desc); err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintln(a.ui.out, errorStyle.Render("Feature addition failed: "+err.Error()))
		}
		prompt = "\nAdd another feature?"
	}
}

func (a *app) addFeature(ctx context.Context, spec domain.ProjectSpec, desc string) (*domain.Report, error) {
	fmt.Fprintln(a.ui.out, headerStyle.Render("\nAdding feature..."))
	report, err := a.gen.AddFeature(ctx, generator.FeatureRequest{Project: spec, Description: desc})
	if report != nil {
		printReport(a.ui.out, report)
	}
	return report, err
}

func (a *app) writeReadme(ctx context.Context, spec domain.ProjectSpec, prior *domain.Report) error {
	report, err := a.gen.GenerateReadme(ctx, spec, prior)
	if err != nil {
		return err
	}
	printReport(a.ui.out, report)
	return nil
}
