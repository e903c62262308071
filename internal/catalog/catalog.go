// Package catalog holds the project types and feature toggles offered to the
// user, loaded from an embedded YAML default and an optional user file.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type ProjectType struct {
	Name string `yaml:"name"`
	Icon string `yaml:"icon,omitempty"`
}

// Feature is an optional part of a generated project. Include and Exclude are
// the instructions given to the model when the feature is on or off.
type Feature struct {
	Key            string `yaml:"key"`
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	Default        bool   `yaml:"default"`
	Include        string `yaml:"include"`
	Exclude        string `yaml:"exclude"`
	ExcludeMessage string `yaml:"excludeMessage,omitempty"`
}

type Catalog struct {
	ProjectTypes []ProjectType `yaml:"projectTypes"`
	Features     []Feature     `yaml:"features"`
	Ignore       []string      `yaml:"ignore"`
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load returns the built-in catalog overlaid with the user file at path.
// Each section the file defines replaces the built-in one. An empty path or
// a missing file yields the built-in catalog.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("catalog file does not exist, using built-in", "path", path)
		return base, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var user Catalog
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(user.ProjectTypes) > 0 {
		base.ProjectTypes = user.ProjectTypes
	}
	if len(user.Features) > 0 {
		base.Features = user.Features
	}
	if user.Ignore != nil {
		base.Ignore = user.Ignore
	}
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	logger.Info("loaded user catalog", "path", path, "types", len(base.ProjectTypes), "features", len(base.Features))
	return base, nil
}

// Validate collects every problem in the catalog.
func (c *Catalog) Validate() error {
	var errs []error
	if len(c.ProjectTypes) == 0 {
		errs = append(errs, errors.New("catalog has no project types"))
	}
	for i, t := range c.ProjectTypes {
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, fmt.Errorf("projectTypes[%d]: name is required", i))
		}
	}
	seen := make(map[string]bool, len(c.Features))
	for i, f := range c.Features {
		switch {
		case f.Key == "":
			errs = append(errs, fmt.Errorf("features[%d]: key is required", i))
		case seen[f.Key]:
			errs = append(errs, fmt.Errorf("features[%d]: duplicate key %q", i, f.Key))
		}
		seen[f.Key] = true
		if f.Include == "" || f.Exclude == "" {
			errs = append(errs, fmt.Errorf("features[%d] %q: include and exclude text are required", i, f.Key))
		}
	}
	return errors.Join(errs...)
}

// Feature looks a feature up by key.
func (c *Catalog) Feature(key string) (Feature, bool) {
	for _, f := range c.Features {
		if f.Key == key {
			return f, true
		}
	}
	return Feature{}, false
}

// DefaultSelection returns every feature key mapped to its default.
func (c *Catalog) DefaultSelection() map[string]bool {
	sel := make(map[string]bool, len(c.Features))
	for _, f := range c.Features {
		sel[f.Key] = f.Default
	}
	return sel
}

// Instructions splits the catalog's features into include and exclude
// instructions for the model, in catalog order. Keys missing from selected
// count as off.
func (c *Catalog) Instructions(selected map[string]bool) (include, exclude []string) {
	for _, f := range c.Features {
		if selected[f.Key] {
			include = append(include, f.Include)
		} else {
			exclude = append(exclude, f.Exclude)
		}
	}
	return include, exclude
}
