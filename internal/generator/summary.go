package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"aicoder/internal/domain"
)

const summarySuffix = "_generation_summary.json"

// ErrNoSummary means a directory has no saved generation summary.
var ErrNoSummary = errors.New("no generation summary found")

// SummaryFileName is the report file written into a generated project.
func SummaryFileName(projectName string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\':
			return '_'
		}
		return r
	}, strings.TrimSpace(projectName))
	return safe + summarySuffix
}

// SaveSummary writes the report as indented JSON into its project directory
// and returns the file path.
func SaveSummary(r *domain.Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	path := filepath.Join(r.ProjectDir, SummaryFileName(r.ProjectName))
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}

// LoadSummary reads the generation summary saved in dir. When several exist
// the first in lexical order wins.
func LoadSummary(dir string) (*domain.Report, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), "*"+summarySuffix)
	if err != nil {
		return nil, fmt.Errorf("find summary: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSummary, dir)
	}
	sort.Strings(matches)
	data, err := os.ReadFile(filepath.Join(dir, matches[0]))
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	var r domain.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse summary %s: %w", matches[0], err)
	}
	return &r, nil
}
