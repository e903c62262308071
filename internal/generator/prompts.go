package generator

import (
	"fmt"
	"strings"

	"aicoder/internal/domain"
)

const generateSystemPrompt = `You are an expert full-stack developer who scaffolds complete projects.
You work through tools: you can read files, inspect metadata, list directories, write files, create directories and run shell commands.
Build a well-organized, production-ready project with real file contents, configuration and source code. Work systematically, step by step.

Rules:
- You are already in the project's root directory. Do not create a subdirectory named after the project; put files in the root or in conventional subdirectories (src, tests, docs and so on).
- Every path is relative to the project root. Paths outside it are rejected.
- Never use sudo or commands that need elevated privileges.
- Follow the feature selection exactly. When a feature is excluded, create nothing related to it.
- When the project is complete, reply with a short plain-text message and no tool calls.`

const featureSystemPrompt = `You are an expert full-stack developer who adds features to existing projects.
You work through tools: you can read files, inspect metadata, list directories, write files, create directories and run shell commands.
Read the files you need to understand the codebase before changing it, and make the new feature integrate with the existing code.

Rules:
- You are already in the project's root directory. Do not create a subdirectory named after the project.
- Every path is relative to the project root. Paths outside it are rejected.
- Never use sudo or commands that need elevated privileges.
- When the feature is complete, reply with a short plain-text message and no tool calls.`

const readmeSystemPrompt = `You are a technical writer who produces README.md files for software projects.
Write a complete README in Markdown with a project description, features, prerequisites, installation, usage, API endpoints where relevant, technologies used and contributing guidelines.
Reply with the README content only.`

const (
	generateSummaryPrompt = "Provide a summary of what you created, including the project structure, files and key features."
	featureSummaryPrompt  = "Provide a summary of the feature you added, including which files were created or modified and how the feature works."
)

func generateUserPrompt(spec domain.ProjectSpec, include, exclude []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a complete %s project named %q.\n\n", spec.Type, spec.Name)
	fmt.Fprintf(&b, "Description:\n%s\n\n", strings.TrimSpace(spec.Description))
	b.WriteString("Create the directory structure and every file the project needs, including configuration and source files. ")
	b.WriteString("You are already inside the project directory.")
	if len(include) > 0 {
		b.WriteString("\n\nInclude the following features:\n")
		writeBullets(&b, include)
	}
	if len(exclude) > 0 {
		b.WriteString("\n\nIMPORTANT - explicitly exclude these features:\n")
		writeBullets(&b, exclude)
	}
	return b.String()
}

func featureUserPrompt(spec domain.ProjectSpec, feature string, snap *Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I have an existing %s project named %q. Its current layout:\n\n", spec.Type, spec.Name)
	b.WriteString(snap.Render())
	fmt.Fprintf(&b, "\nAdd the following feature to this project:\n%s\n\n", strings.TrimSpace(feature))
	b.WriteString("Analyze the project, read the files you need, then make the changes step by step.")
	return b.String()
}

func readmeUserPrompt(spec domain.ProjectSpec, prior *domain.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a README.md for a %s project named %q.\n\n", spec.Type, spec.Name)
	if d := strings.TrimSpace(spec.Description); d != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", d)
	}
	if prior != nil && (len(prior.DirectoriesCreated) > 0 || len(prior.FilesCreated) > 0) {
		b.WriteString("\nThe project has this structure:\n\nDirectories:\n")
		writeBullets(&b, prior.DirectoriesCreated)
		b.WriteString("\nFiles:\n")
		writeBullets(&b, prior.FilesCreated)
		b.WriteString("\nUse it in the installation and usage sections.")
	}
	return b.String()
}

func writeBullets(b *strings.Builder, items []string) {
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteByte('\n')
	}
}

// stripFence removes one Markdown code fence wrapping the whole reply.
func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return s
	}
	nl := strings.IndexByte(t, '\n')
	if nl < 0 {
		return s
	}
	return strings.TrimSpace(t[nl+1:len(t)-3]) + "\n"
}
