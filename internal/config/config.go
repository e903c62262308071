package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for aicoder.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Tools     ToolsConfig               `json:"tools"`
	Security  SecurityConfig            `json:"security"`
	History   HistoryConfig             `json:"history"`
	Catalog   CatalogConfig             `json:"catalog"`
	Snapshot  SnapshotConfig            `json:"snapshot"`
}

type GeneralConfig struct {
	LogLevel             string   `json:"logLevel"`
	LogFile              string   `json:"logFile,omitempty"`
	DefaultProvider      string   `json:"defaultProvider"`
	FailoverChain        []string `json:"failoverChain,omitempty"` // provider failover order
	Model                string   `json:"model,omitempty"`         // overrides the provider default model
	MaxIterations        int      `json:"maxIterations"`           // cap for project generation
	FeatureMaxIterations int      `json:"featureMaxIterations"`    // cap for feature addition
	MaxSessionTokens     int      `json:"maxSessionTokens,omitempty"`
	MaxTokens            int      `json:"maxTokens,omitempty"` // per completion
	Temperature          float64  `json:"temperature,omitempty"`
	ProjectsDir          string   `json:"projectsDir"` // parent of suggested project directories
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
	TimeoutSecs  int    `json:"timeoutSeconds,omitempty"`
}

type ToolsConfig struct {
	Shell ShellToolConfig `json:"shell"`
}

type ShellToolConfig struct {
	Timeout        int `json:"timeout"`
	MaxOutputBytes int `json:"maxOutputBytes"`
}

type SecurityConfig struct {
	DefaultPolicy   string   `json:"defaultPolicy"` // "allow" | "deny" | "ask"
	Blacklist       []string `json:"blacklist"`
	Whitelist       []string `json:"whitelist,omitempty"`
	ConfirmPatterns []string `json:"confirmPatterns"`
	AuditLog        bool     `json:"auditLog"`
}

type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// CatalogConfig points at an optional user catalog that replaces the built-in one.
type CatalogConfig struct {
	Path string `json:"path,omitempty"`
}

// SnapshotConfig bounds the project listing sent with feature-addition prompts.
type SnapshotConfig struct {
	MaxEntries   int      `json:"maxEntries"`
	MaxFileBytes int      `json:"maxFileBytes"`
	KeyFiles     []string `json:"keyFiles"`
	Ignore       []string `json:"ignore"`
}

// DefaultConfigDir returns the default config directory (~/.aicoder).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aicoder"
	}
	return filepath.Join(home, ".aicoder")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist.
// Any other error (unreadable, invalid) is returned.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		cfg = Defaults()
		cfg.expandPaths()
		return cfg, false, nil
	}
	return nil, false, err
}

func (cfg *Config) expandPaths() {
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.Catalog.Path = ExpandPath(cfg.Catalog.Path)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// LoadDotEnv sets variables from a KEY=VALUE file without overriding ones
// already present in the environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return scanner.Err()
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxIterations < 1 || cfg.General.MaxIterations > 200 {
		errs = append(errs, "general.maxIterations must be between 1 and 200")
	}
	if cfg.General.FeatureMaxIterations < 1 || cfg.General.FeatureMaxIterations > 200 {
		errs = append(errs, "general.featureMaxIterations must be between 1 and 200")
	}
	if cfg.General.MaxSessionTokens < 0 {
		errs = append(errs, "general.maxSessionTokens must be >= 0")
	}
	if cfg.General.Temperature < 0 || cfg.General.Temperature > 2 {
		errs = append(errs, "general.temperature must be between 0 and 2")
	}
	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Tools.Shell.Timeout < 1 {
		errs = append(errs, "tools.shell.timeout must be >= 1")
	}
	if cfg.Tools.Shell.MaxOutputBytes < 0 {
		errs = append(errs, "tools.shell.maxOutputBytes must be >= 0")
	}
	switch cfg.Security.DefaultPolicy {
	case "allow", "deny", "ask":
		// valid
	default:
		errs = append(errs, "security.defaultPolicy must be one of: allow, deny, ask")
	}
	if cfg.History.Enabled && cfg.History.DBPath == "" {
		errs = append(errs, "history.dbPath is required when history is enabled")
	}
	if cfg.Snapshot.MaxEntries < 1 {
		errs = append(errs, "snapshot.maxEntries must be >= 1")
	}

	if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}
	// Validate failover chain references exist in providers.
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}

	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.APIBase == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
