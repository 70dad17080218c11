package workspace

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init")
	run("config", "user.name", "test")
	run("config", "user.email", "test@example.com")
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
}

func TestWorkspaceGitCheckpointAndRevert(t *testing.T) {
	src := t.TempDir()
	initGitRepo(t, src)

	work := t.TempDir()
	ws := New("20260101_000000_abcd1234", src, filepath.Join(work, "copy"), true)

	if err := ws.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}

	target := filepath.Join(ws.Dir(), "main.go")
	if err := os.WriteFile(target, []byte("package main\n\nfunc main() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	checkpoint, err := ws.Checkpoint("batch-001", "add main function")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if checkpoint == "" {
		t.Fatal("expected a non-empty checkpoint id")
	}

	diff, err := ws.DiffFromBaseline()
	if err != nil {
		t.Fatalf("DiffFromBaseline: %v", err)
	}
	if diff == "" {
		t.Fatal("expected a non-empty diff after checkpointing a change")
	}

	if err := ws.RevertToBaseline(); err != nil {
		t.Fatalf("RevertToBaseline: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "package main\n" {
		t.Fatalf("expected file reverted to baseline content, got %q", data)
	}
}

func TestWorkspaceCheckpointNoopWhenNoChanges(t *testing.T) {
	src := t.TempDir()
	initGitRepo(t, src)

	work := t.TempDir()
	ws := New("20260101_000000_deadbeef", src, filepath.Join(work, "copy"), true)
	if err := ws.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}

	checkpoint, err := ws.Checkpoint("batch-001", "nothing changed")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if checkpoint != "" {
		t.Fatalf("expected empty checkpoint id for a no-op batch, got %q", checkpoint)
	}
}

func TestWorkspaceNonGitFallback(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "app.py"), []byte("print('hi')\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(src, "__pycache__"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "__pycache__", "app.pyc"), []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}

	work := t.TempDir()
	ws := New("20260101_000000_f00dcafe", src, filepath.Join(work, "copy"), false)
	if err := ws.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := os.Stat(filepath.Join(ws.Dir(), "app.py")); err != nil {
		t.Fatalf("expected app.py to be copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws.Dir(), "__pycache__")); !os.IsNotExist(err) {
		t.Fatalf("expected __pycache__ to be excluded from the copy")
	}
	if _, err := os.Stat(filepath.Join(ws.Dir(), ".git")); err != nil {
		t.Fatalf("expected workspace to be git-initialized: %v", err)
	}
}

func TestDetectVCS(t *testing.T) {
	gitDir := t.TempDir()
	initGitRepo(t, gitDir)
	if !DetectVCS(gitDir) {
		t.Error("expected DetectVCS to report true for a git working tree")
	}

	plainDir := t.TempDir()
	if DetectVCS(plainDir) {
		t.Error("expected DetectVCS to report false for a non-git directory")
	}
}
