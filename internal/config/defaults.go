package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:             "warn",
			DefaultProvider:      "openai",
			MaxIterations:        25,
			FeatureMaxIterations: 15,
			MaxSessionTokens:     120000,
			Temperature:          0.2,
			ProjectsDir:          "projects",
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:      true,
				APIBase:      "https://api.openai.com/v1",
				APIKey:       "${OPENAI_API_KEY}",
				DefaultModel: "gpt-4o-mini",
				TimeoutSecs:  120,
			},
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				Timeout:        120,
				MaxOutputBytes: 65536,
			},
		},
		Security: SecurityConfig{
			DefaultPolicy:   "allow",
			Blacklist:       defaultBlacklist(),
			ConfirmPatterns: defaultConfirmPatterns(),
			AuditLog:        true,
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  "~/.aicoder/history.db",
		},
		Snapshot: SnapshotConfig{
			MaxEntries:   400,
			MaxFileBytes: 8192,
			KeyFiles:     defaultKeyFiles(),
		},
	}
}

func defaultBlacklist() []string {
	return []string{
		`^\s*sudo\b`,
		`[;&|]\s*sudo\b`,
		`rm\s+-rf\s+(/|~)(\*|\s|$)`,
		"mkfs",
		"dd if=",
		`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;\s*:`,
		"chmod -R 777 /",
		`(^|[;&|]\s*)(shutdown|reboot|halt)\b`,
	}
}

// defaultConfirmPatterns are auto-approved when running with --yes.
func defaultConfirmPatterns() []string {
	return []string{
		"npm install -g",
		"pip install --user",
		"curl ", "wget ",
		"git push",
	}
}

func defaultKeyFiles() []string {
	return []string{
		"package.json",
		"tsconfig.json",
		"vite.config.ts",
		"vite.config.js",
		"pyproject.toml",
		"requirements.txt",
		"setup.py",
		"go.mod",
		"README.md",
	}
}
