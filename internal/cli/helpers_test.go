package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveRepoDefaultsToCWD(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("os.Getwd: %v", err)
	}

	got, err := resolveRepo("")
	if err != nil {
		t.Fatalf("resolveRepo(\"\") returned error: %v", err)
	}
	if got != cwd {
		t.Fatalf("resolveRepo(\"\") = %q, want %q", got, cwd)
	}
}

func TestResolveRepoMakesRelativePathAbsolute(t *testing.T) {
	got, err := resolveRepo(".")
	if err != nil {
		t.Fatalf("resolveRepo(\".\") returned error: %v", err)
	}
	if !filepath.IsAbs(got) {
		t.Fatalf("resolveRepo(\".\") = %q, want an absolute path", got)
	}
}

func TestDefaultHomeDirUnderUserHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available in this environment")
	}
	want := filepath.Join(home, ".refactorio")
	if got := defaultHomeDir(); got != want {
		t.Fatalf("defaultHomeDir() = %q, want %q", got, want)
	}
}

func TestFirstArgReturnsEmptyForNoArgs(t *testing.T) {
	if got := firstArg(nil); got != "" {
		t.Fatalf("firstArg(nil) = %q, want empty string", got)
	}
}

func TestFirstArgReturnsFirstElement(t *testing.T) {
	if got := firstArg([]string{"repo-path", "extra"}); got != "repo-path" {
		t.Fatalf("firstArg = %q, want %q", got, "repo-path")
	}
}

func TestResolveConfigPathFallsBackToDetectedDefaults(t *testing.T) {
	dir := t.TempDir()

	oldConfigPath := configPath
	configPath = filepath.Join(dir, "does-not-exist.yaml")
	defer func() { configPath = oldConfigPath }()

	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/x\n\ngo 1.23\n"), 0o644); err != nil {
		t.Fatalf("writing go.mod: %v", err)
	}

	cfg, err := resolveConfigPath(dir)
	if err != nil {
		t.Fatalf("resolveConfigPath returned error: %v", err)
	}
	if cfg == nil {
		t.Fatal("resolveConfigPath returned a nil config with no error")
	}
	if len(cfg.FastVerifier) == 0 {
		t.Fatal("expected a detected or default fast verifier command")
	}
}

func TestResolveConfigPathLoadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "refactor-bot.yaml")
	contents := `
diff_budget_loc: 120
max_batches: 5
retry_per_batch: 1
fast_verifier:
  - "go test ./..."
`
	if err := os.WriteFile(cfgFile, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	oldConfigPath := configPath
	configPath = cfgFile
	defer func() { configPath = oldConfigPath }()

	cfg, err := resolveConfigPath(dir)
	if err != nil {
		t.Fatalf("resolveConfigPath returned error: %v", err)
	}
	if cfg.DiffBudgetLOC != 120 {
		t.Fatalf("DiffBudgetLOC = %d, want 120", cfg.DiffBudgetLOC)
	}
	if cfg.MaxBatches != 5 {
		t.Fatalf("MaxBatches = %d, want 5", cfg.MaxBatches)
	}
}
