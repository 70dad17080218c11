package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/GTWhalley/Refactorio/internal/config"
)

// loadAndValidateConfig loads a config file and validates it, printing
// every error to stderr rather than stopping at the first.
func loadAndValidateConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return nil, err
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e)
		}
		return nil, fmt.Errorf("%d validation error(s)", len(errs))
	}

	return cfg, nil
}

// resolveRepo resolves a user-supplied path argument to an absolute
// repository directory, defaulting to the current working directory.
func resolveRepo(pathArg string) (string, error) {
	if pathArg == "" {
		pathArg = "."
	}
	abs, err := filepath.Abs(pathArg)
	if err != nil {
		return "", fmt.Errorf("resolving repository path: %w", err)
	}
	return abs, nil
}

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".refactorio"
	}
	return filepath.Join(home, ".refactorio")
}

// resolveConfigPath returns configPath if it exists, otherwise falls
// back to config.Defaults() so a first run against an unconfigured repo
// still works with sensible values plus best-effort verifier detection.
func resolveConfigPath(repoDir string) (*config.Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		return loadAndValidateConfig(configPath)
	}

	cfg := config.Defaults()
	detected := config.DetectVerifiers(repoDir)
	if len(detected.FastVerifier) > 0 {
		cfg.FastVerifier = detected.FastVerifier
	}
	if len(detected.FullVerifier) > 0 {
		cfg.FullVerifier = detected.FullVerifier
	}
	cfg.LintCommand = detected.LintCommand
	cfg.TypecheckCommand = detected.TypecheckCommand
	cfg.BuildCommand = detected.BuildCommand

	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("%d validation error(s) in detected defaults", len(errs))
	}
	return cfg, nil
}
