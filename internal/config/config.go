// Package config loads, validates, and persists the orchestrator's
// typed configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AgentConfig describes how to invoke the external coding agent.
type AgentConfig struct {
	Binary          string `yaml:"binary"`
	AllowedTools    string `yaml:"allowed_tools"`
	MaxTurnsPlanner int    `yaml:"max_turns_planner"`
	MaxTurnsPatcher int    `yaml:"max_turns_patcher"`
	MaxTurnsCritic  int    `yaml:"max_turns_critic"`
	MaxTurnsSecurity int   `yaml:"max_turns_security"`
}

// Config is the full set of recognized orchestrator options. Every field
// has a default applied by Defaults.
type Config struct {
	DiffBudgetLOC        int      `yaml:"diff_budget_loc"`
	MaxBatches           int      `yaml:"max_batches"`
	MaxFilesPerBatch     int      `yaml:"max_files_per_batch"`
	RetryPerBatch        int      `yaml:"retry_per_batch"`
	RunFullVerifierEvery int      `yaml:"run_full_verifier_every"`

	FastVerifier []string `yaml:"fast_verifier"`
	FullVerifier []string `yaml:"full_verifier"`

	LintCommand      string `yaml:"lint_command,omitempty"`
	TypecheckCommand string `yaml:"typecheck_command,omitempty"`
	BuildCommand     string `yaml:"build_command,omitempty"`

	ScopeExcludes []string `yaml:"scope_excludes"`
	ScopeIncludes []string `yaml:"scope_includes"`

	AllowPublicAPIChanges bool `yaml:"allow_public_api_changes"`
	AllowLockfileChanges  bool `yaml:"allow_lockfile_changes"`
	AllowFormattingOnly   bool `yaml:"allow_formatting_only"`

	MaxPromptChars      int `yaml:"max_prompt_chars"`
	MaxFileExcerptLines int `yaml:"max_file_excerpt_lines"`
	MaxLedgerEntries    int `yaml:"max_ledger_entries"`

	UseLLMPlanner bool `yaml:"use_llm_planner"`

	Agent AgentConfig `yaml:"agent"`
}

// Defaults returns a Config with every field set to its documented
// default value.
func Defaults() *Config {
	return &Config{
		DiffBudgetLOC:        300,
		MaxBatches:           50,
		MaxFilesPerBatch:     20,
		RetryPerBatch:        2,
		RunFullVerifierEvery: 5,
		MaxPromptChars:       150000,
		MaxFileExcerptLines:  3000,
		MaxLedgerEntries:     10,
		Agent: AgentConfig{
			Binary:           "claude",
			MaxTurnsPlanner:  50,
			MaxTurnsPatcher:  50,
			MaxTurnsCritic:   30,
			MaxTurnsSecurity: 30,
		},
	}
}

// Load reads and parses a YAML config file, applying defaults for any
// field left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return cfg, nil
}

// Save atomically persists cfg to path (write to a temp file, then
// rename), so a crash mid-write never leaves a truncated config.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming temp config: %w", err)
	}
	return nil
}

// Validate checks cfg for structural errors. It collects every problem
// found rather than stopping at the first, mirroring the original
// validator's "report everything" behavior.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.Agent.Binary == "" {
		errs = append(errs, fmt.Errorf("agent.binary is required"))
	}
	if len(cfg.FastVerifier) == 0 {
		errs = append(errs, fmt.Errorf("fast_verifier is required"))
	}
	if cfg.DiffBudgetLOC < 10 || cfg.DiffBudgetLOC > 1000 {
		errs = append(errs, fmt.Errorf("diff_budget_loc must be between 10 and 1000, got %d", cfg.DiffBudgetLOC))
	}
	if cfg.MaxBatches < 1 || cfg.MaxBatches > 500 {
		errs = append(errs, fmt.Errorf("max_batches must be between 1 and 500, got %d", cfg.MaxBatches))
	}
	if cfg.RetryPerBatch < 0 || cfg.RetryPerBatch > 5 {
		errs = append(errs, fmt.Errorf("retry_per_batch must be between 0 and 5, got %d", cfg.RetryPerBatch))
	}

	for _, pattern := range cfg.ScopeIncludes {
		if pattern == "" {
			errs = append(errs, fmt.Errorf("scope_includes contains an empty pattern"))
		}
	}

	return errs
}

// Detected holds verifier commands inferred from project markers.
type Detected struct {
	FastVerifier     []string
	FullVerifier     []string
	LintCommand      string
	TypecheckCommand string
	BuildCommand     string
}

// DetectVerifiers inspects well-known project markers under repoDir and
// returns best-effort verifier commands. Missing markers are skipped,
// never treated as an error — detection is advisory.
func DetectVerifiers(repoDir string) Detected {
	var d Detected

	if exists(filepath.Join(repoDir, "package.json")) {
		d.FastVerifier = append(d.FastVerifier, "npm test")
		d.LintCommand = "npm run lint"
	}
	if exists(filepath.Join(repoDir, "pyproject.toml")) || exists(filepath.Join(repoDir, "setup.py")) {
		d.FastVerifier = append(d.FastVerifier, "python -m pytest -x")
		d.FullVerifier = append(d.FullVerifier, "python -m pytest")
		d.LintCommand = "ruff check ."
		d.TypecheckCommand = "mypy ."
	}
	if exists(filepath.Join(repoDir, "Cargo.toml")) {
		d.FastVerifier = append(d.FastVerifier, "cargo test")
		d.BuildCommand = "cargo build"
	}
	if exists(filepath.Join(repoDir, "go.mod")) {
		d.FastVerifier = append(d.FastVerifier, "go test ./...")
		d.BuildCommand = "go build ./..."
	}
	if exists(filepath.Join(repoDir, "Makefile")) {
		d.FullVerifier = append(d.FullVerifier, "make test")
	}

	if len(d.FastVerifier) == 0 {
		d.FastVerifier = []string{"echo 'No test command detected'"}
	}

	return d
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
