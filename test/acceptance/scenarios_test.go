package acceptance_test

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// reportOf runs `refactorctl run` against repoDir with the given config
// and returns the parsed end-of-run report plus raw combined output.
func reportOf(repoDir, configPath, homeDir string, extraArgs ...string) (map[string]any, string) {
	args := append([]string{
		"run", repoDir,
		"--config", configPath,
		"--home", homeDir,
		"--skip-backup",
		"--prompts-dir", promptsDir(),
		"--schemas-dir", schemasDir(),
	}, extraArgs...)
	cmd := exec.Command(binaryPath, args...)
	out, _ := cmd.CombinedOutput()

	runsDir := filepath.Join(homeDir, "worktrees")
	entries, err := os.ReadDir(runsDir)
	ExpectWithOffset(1, err).NotTo(HaveOccurred(), "listing worktrees dir: %s", string(out))
	ExpectWithOffset(1, entries).NotTo(BeEmpty(), "expected at least one worktree directory; output: %s", string(out))

	for _, e := range entries {
		candidate := filepath.Join(runsDir, e.Name(), ".refactor-bot", "report.json")
		data, readErr := os.ReadFile(candidate)
		if readErr == nil {
			var report map[string]any
			ExpectWithOffset(1, json.Unmarshal(data, &report)).To(Succeed())
			return report, string(out)
		}
	}
	Fail("no report.json found under " + runsDir + "; output: " + string(out))
	return nil, string(out)
}

func promptsDir() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "assets", "prompts")
}

func schemasDir() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "assets", "schemas")
}

func initGitRepo(dir string) {
	runGit(dir, "init", "-q", dir)
	runGit(dir, "-C", dir, "add", "-A")
	runGit(dir, "-C", dir, "commit", "-q", "-m", "initial")
}

// jsonString renders s as a JSON string literal (quoted and escaped),
// used to embed a unified diff inside a fake agent's JSON envelope.
func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

var _ = Describe("end-to-end batch scenarios", func() {
	var tmpDir, repoDir, homeDir, agentScript, configFile string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		repoDir = filepath.Join(tmpDir, "repo")
		homeDir = filepath.Join(tmpDir, "home")
		Expect(os.MkdirAll(repoDir, 0755)).To(Succeed())
		agentScript = filepath.Join(tmpDir, "fake-agent.sh")
		configFile = filepath.Join(tmpDir, "refactor-bot.yaml")
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("scenario 1: an empty formatting batch produces a single noop entry", func() {
		writeFile(filepath.Join(repoDir, "a.py"), "x = 1\n")
		initGitRepo(repoDir)

		writeFakeAgent(agentScript, `{"structured_output": {"status": "noop"}}`)
		writeRunConfig(configFile, agentScript, "allow_formatting_only: true\n")

		report, out := reportOf(repoDir, configFile, homeDir)

		batches := report["batches"].(map[string]any)
		Expect(batches["noop"]).To(BeNumerically(">=", 1), "output: %s", out)
		changes := report["changes"].(map[string]any)
		Expect(changes["lines_added"]).To(BeNumerically("==", 0))
		Expect(changes["lines_removed"]).To(BeNumerically("==", 0))
	})

	It("scenario 2: a clean unused-import removal completes with a checkpoint", func() {
		writeFile(filepath.Join(repoDir, "a.py"), "import os\nimport sys\nprint(sys.argv)\n")
		initGitRepo(repoDir)

		diff := "--- a/a.py\n+++ b/a.py\n@@ -1,3 +1,2 @@\n-import os\n import sys\n print(sys.argv)\n"
		envelope := `{"structured_output": {"status": "applied", "patch": ` + jsonString(diff) + `}}`
		writeFakeAgent(agentScript, envelope)
		writeRunConfig(configFile, agentScript, "allow_formatting_only: false\nmax_batches: 1\n")

		report, out := reportOf(repoDir, configFile, homeDir)

		batches := report["batches"].(map[string]any)
		Expect(batches["completed"]).To(BeNumerically(">=", 1), "output: %s", out)
		changes := report["changes"].(map[string]any)
		Expect(changes["lines_added"]).To(BeNumerically("==", 0))
		Expect(changes["lines_removed"]).To(BeNumerically("==", 1))
	})

	It("scenario 3: an over-budget patch is rejected and leaves no checkpoint", func() {
		writeFile(filepath.Join(repoDir, "a.py"), "a = 1\nb = 2\nc = 3\nd = 4\ne = 5\n")
		initGitRepo(repoDir)

		diff := "--- a/a.py\n+++ b/a.py\n@@ -1,5 +1,5 @@\n-a = 1\n-b = 2\n-c = 3\n-d = 4\n+a = 10\n+b = 20\n+c = 30\n+d = 40\n e = 5\n"
		envelope := `{"structured_output": {"status": "applied", "patch": ` + jsonString(diff) + `}}`
		writeFakeAgent(agentScript, envelope)
		writeRunConfig(configFile, agentScript, "max_batches: 1\nallow_formatting_only: false\n")
		// 8 changed lines (4 added + 4 removed) against a budget of 5.
		overrideDiffBudget(configFile, 5)

		report, out := reportOf(repoDir, configFile, homeDir)

		batches := report["batches"].(map[string]any)
		Expect(batches["failed"]).To(BeNumerically(">=", 1), "output: %s", out)
		changes := report["changes"].(map[string]any)
		Expect(changes["files_touched"]).To(BeEmpty())

		data, err := os.ReadFile(filepath.Join(repoDir, "a.py"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("a = 1\nb = 2\nc = 3\nd = 4\ne = 5\n"))
	})

	It("scenario 4: a patch touching a file outside the batch scope is rejected", func() {
		// The sole .py file drives the naive plan's one import-cleanup
		// batch, scoped to "**/*.py"; readme.md falls outside it.
		writeFile(filepath.Join(repoDir, "src", "a.py"), "x = 1\n")
		writeFile(filepath.Join(repoDir, "docs", "readme.md"), "hello\n")
		initGitRepo(repoDir)

		diff := "--- a/docs/readme.md\n+++ b/docs/readme.md\n@@ -1 +1 @@\n-hello\n+goodbye\n"
		envelope := `{"structured_output": {"status": "applied", "patch": ` + jsonString(diff) + `}}`
		writeFakeAgent(agentScript, envelope)
		writeRunConfig(configFile, agentScript, "allow_formatting_only: false\nmax_batches: 1\n")

		report, out := reportOf(repoDir, configFile, homeDir)

		batches := report["batches"].(map[string]any)
		Expect(batches["failed"]).To(BeNumerically(">=", 1), "output: %s", out)

		data, err := os.ReadFile(filepath.Join(repoDir, "docs", "readme.md"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("hello\n"))
	})

	It("scenario 5: a verifier failure after a clean apply reverts the workspace", func() {
		writeFile(filepath.Join(repoDir, "a.py"), "import os\nimport sys\nprint(sys.argv)\n")
		initGitRepo(repoDir)

		diff := "--- a/a.py\n+++ b/a.py\n@@ -1,3 +1,2 @@\n-import os\n import sys\n print(sys.argv)\n"
		envelope := `{"structured_output": {"status": "applied", "patch": ` + jsonString(diff) + `}}`
		writeFakeAgent(agentScript, envelope)

		// The pre-run baseline checks full_verifier (left empty, so it
		// trivially passes); the batch's own verification checks
		// fast_verifier, which always fails here.
		writeRunConfigWithFastVerifier(configFile, agentScript, "false", "max_batches: 1\nallow_formatting_only: false\n")

		report, out := reportOf(repoDir, configFile, homeDir)

		batches := report["batches"].(map[string]any)
		Expect(batches["failed"]).To(BeNumerically(">=", 1), "output: %s", out)

		data, err := os.ReadFile(filepath.Join(repoDir, "a.py"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("import os\nimport sys\nprint(sys.argv)\n"))
	})

	It("dry run generates and persists a plan without running any batch", func() {
		writeFile(filepath.Join(repoDir, "a.py"), "x = 1\n")
		initGitRepo(repoDir)

		writeFakeAgent(agentScript, `{"structured_output": {"status": "noop"}}`)
		writeRunConfig(configFile, agentScript, "allow_formatting_only: true\n")

		report, out := reportOf(repoDir, configFile, homeDir, "--dry-run")

		batches := report["batches"].(map[string]any)
		Expect(batches["completed"]).To(BeNumerically("==", 0), "output: %s", out)
		Expect(batches["noop"]).To(BeNumerically("==", 0), "output: %s", out)
		Expect(batches["failed"]).To(BeNumerically("==", 0), "output: %s", out)
	})
})

// overrideDiffBudget rewrites diff_budget_loc in an already-written
// YAML config file in place (the YAML decoder rejects a duplicated
// mapping key, so the value is replaced rather than appended).
func overrideDiffBudget(path string, budget int) {
	data, err := os.ReadFile(path)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	content := string(data)
	content = replaceYAMLInt(content, "diff_budget_loc", budget)
	ExpectWithOffset(1, os.WriteFile(path, []byte(content), 0644)).To(Succeed())
}

func replaceYAMLInt(content, key string, value int) string {
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), key+":") {
			lines[i] = fmt.Sprintf("%s: %d", key, value)
		}
	}
	return strings.Join(lines, "\n")
}

// writeRunConfigWithFastVerifier writes a minimal config file with a
// single, explicit fast_verifier command instead of the helper's
// always-true default.
func writeRunConfigWithFastVerifier(path, agentBinary, fastVerifierCommand, extra string) {
	content := fmt.Sprintf(`
diff_budget_loc: 300
retry_per_batch: 0
fast_verifier:
  - %s
agent:
  binary: "%s"
%s
`, jsonString(fastVerifierCommand), agentBinary, extra)
	writeFile(path, content)
}
