// Package workspace manages the isolated working copy a run operates
// against: a dedicated branch (or, for non-git projects, a throwaway
// directory copy) that the executor can checkpoint after every
// successful batch and roll back to at any point without touching the
// caller's original checkout.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// skipDirs are never copied into a non-git fallback workspace or
// scanned for symbols; they are either reproducible build output or
// already-versioned metadata with no business being duplicated.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"build":        true,
	"target":       true,
}

// Workspace is a single run's isolated working copy.
type Workspace struct {
	runID        string
	sourceDir    string
	dir          string
	isGit        bool
	safetyBranch string
	baseRef      string
	repo         repo
}

// New opens a workspace rooted at dir (the directory the run actually
// operates on) for the repository found at sourceDir.
func New(runID, sourceDir, dir string, isGit bool) *Workspace {
	return &Workspace{
		runID:        runID,
		sourceDir:    sourceDir,
		dir:          dir,
		isGit:        isGit,
		safetyBranch: fmt.Sprintf("refactor-bot/%s", runID),
		repo:         repo{Dir: dir},
	}
}

// Dir returns the path operations should be run against.
func (w *Workspace) Dir() string { return w.dir }

// Create prepares the workspace: for a git repository, a dedicated
// safety branch off the current HEAD; for anything else, a full
// deep copy (skipping build/vendor noise) that is then git-initialized
// so checkpointing still works, mirroring how a non-VCS project is
// onboarded.
func (w *Workspace) Create() error {
	if w.isGit {
		return w.createGit()
	}
	return w.createNonGit()
}

func (w *Workspace) createGit() error {
	src := repo{Dir: w.sourceDir}

	head, err := src.headCommit("HEAD")
	if err != nil {
		return fmt.Errorf("reading source HEAD: %w", err)
	}
	w.baseRef = head

	if w.dir != w.sourceDir {
		if !src.branchExists(w.safetyBranch) {
			if err := src.createBranch(w.safetyBranch, head); err != nil {
				return fmt.Errorf("creating safety branch: %w", err)
			}
		}
		if err := src.createWorktree(w.dir, w.safetyBranch); err != nil {
			return fmt.Errorf("adding workspace worktree: %w", err)
		}
		w.repo = repo{Dir: w.dir}
	}

	if err := w.repo.ensureIdentity(); err != nil {
		return fmt.Errorf("configuring git identity: %w", err)
	}

	if !w.repo.branchExists(w.safetyBranch) {
		if err := w.repo.createBranch(w.safetyBranch, head); err != nil {
			return fmt.Errorf("creating safety branch: %w", err)
		}
	}
	if _, err := w.repo.run("checkout", w.safetyBranch); err != nil {
		return fmt.Errorf("checking out safety branch: %w", err)
	}

	return nil
}

// createNonGit deep-copies the source tree and initializes a fresh git
// repository over it purely so the rest of the pipeline — checkpoints,
// diffs, reverts — has one uniform implementation regardless of
// whether the target project was under version control to begin with.
func (w *Workspace) createNonGit() error {
	if err := copyTree(w.sourceDir, w.dir); err != nil {
		return fmt.Errorf("copying project into workspace: %w", err)
	}

	w.repo = repo{Dir: w.dir}
	if err := w.repo.init(); err != nil {
		return fmt.Errorf("initializing workspace repository: %w", err)
	}
	if err := w.repo.ensureIdentity(); err != nil {
		return fmt.Errorf("configuring git identity: %w", err)
	}
	if err := w.repo.stageAll(); err != nil {
		return fmt.Errorf("staging initial snapshot: %w", err)
	}
	if err := w.repo.commit("checkpoint: baseline snapshot"); err != nil {
		return fmt.Errorf("committing initial snapshot: %w", err)
	}

	head, err := w.repo.headCommit("HEAD")
	if err != nil {
		return fmt.Errorf("reading workspace HEAD: %w", err)
	}
	w.baseRef = head

	if _, err := w.repo.run("branch", w.safetyBranch); err != nil {
		return fmt.Errorf("creating safety branch: %w", err)
	}

	return nil
}

// Checkpoint commits every currently staged and unstaged change under
// a "checkpoint: <goal>" message and returns the resulting commit
// hash, or "" with no error if the batch produced no changes.
func (w *Workspace) Checkpoint(batchID, goal string) (string, error) {
	changed, err := w.repo.hasChanges()
	if err != nil {
		return "", fmt.Errorf("checking for changes: %w", err)
	}
	if !changed {
		return "", nil
	}

	if err := w.repo.stageAll(); err != nil {
		return "", fmt.Errorf("staging changes: %w", err)
	}

	message := fmt.Sprintf("checkpoint: %s (%s)", goal, batchID)
	if err := w.repo.commit(message); err != nil {
		return "", fmt.Errorf("committing checkpoint: %w", err)
	}

	return w.repo.headCommit("HEAD")
}

// RevertToBaseline discards every checkpoint and returns the workspace
// to the commit it started from.
func (w *Workspace) RevertToBaseline() error {
	return w.RevertTo(w.baseRef)
}

// RevertTo hard-resets the workspace to a specific checkpoint (or the
// baseline), discarding anything committed after it.
func (w *Workspace) RevertTo(checkpointID string) error {
	if checkpointID == "" {
		checkpointID = w.baseRef
	}
	if err := w.repo.resetHard(checkpointID); err != nil {
		return fmt.Errorf("reverting to %s: %w", checkpointID, err)
	}
	return nil
}

// DiffFromBaseline returns the unified diff between the workspace's
// starting point and its current state.
func (w *Workspace) DiffFromBaseline() (string, error) {
	diff, err := w.repo.diff(w.baseRef, "HEAD")
	if err != nil {
		return "", fmt.Errorf("diffing from baseline: %w", err)
	}
	return diff, nil
}

// MergeBack fast-forwards (or, failing that, merges) the source
// checkout's current branch onto the workspace's safety branch so the
// operator's original checkout ends up with every accepted batch.
func (w *Workspace) MergeBack() error {
	if !w.isGit {
		return fmt.Errorf("merge-back is only supported for git-backed workspaces")
	}
	src := repo{Dir: w.sourceDir}
	if err := src.mergeBranch(w.safetyBranch); err != nil {
		return fmt.Errorf("merging %s into source checkout: %w", w.safetyBranch, err)
	}
	return nil
}

// Cleanup removes the workspace's on-disk directory if it is separate
// from the source checkout. It never touches the source checkout or
// the safety branch history, which outlives the workspace so a run can
// be inspected or merged after the fact.
func (w *Workspace) Cleanup() error {
	if w.dir == w.sourceDir {
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("removing workspace directory: %w", err)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0755)
		}

		if d.IsDir() && skipDirs[d.Name()] {
			return filepath.SkipDir
		}

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		link, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(link, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Chmod(info.Mode())
}

// SafetyBranch returns the name of the dedicated branch this workspace
// commits checkpoints onto.
func (w *Workspace) SafetyBranch() string { return w.safetyBranch }

// DetectVCS reports whether sourceDir is the root of a git working
// tree, used to decide between the git-backed and copy-and-init
// workspace strategies.
func DetectVCS(sourceDir string) bool {
	_, err := os.Stat(filepath.Join(sourceDir, ".git"))
	return err == nil
}
