package acceptance_test

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/gomega"
)

func runGit(dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.com",
	)
	out, err := cmd.CombinedOutput()
	ExpectWithOffset(1, err).NotTo(HaveOccurred(), "git %v: %s", args, string(out))
}

func runGitOutput(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	ExpectWithOffset(1, err).NotTo(HaveOccurred(), "git %v: %s", args, string(out))
	return string(out)
}

func writeFile(path, content string) {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0755)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	err = os.WriteFile(path, []byte(content), 0644)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
}

// writeFakeAgent writes a shell script standing in for the "claude"
// binary: it ignores its arguments entirely and prints the given JSON
// envelope to stdout, exactly as a one-shot "-p ... --output-format
// json" invocation would.
func writeFakeAgent(path, jsonEnvelope string) {
	script := fmt.Sprintf("#!/bin/sh\ncat <<'AGENTEOF'\n%s\nAGENTEOF\n", jsonEnvelope)
	err := os.WriteFile(path, []byte(script), 0755)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
}

// writeRunConfig writes a minimal refactor-bot config pointing agent.binary
// at the given fake-agent script.
func writeRunConfig(path, agentBinary string, extra string) {
	content := fmt.Sprintf(`
diff_budget_loc: 300
retry_per_batch: 0
fast_verifier:
  - "true"
agent:
  binary: "%s"
%s
`, agentBinary, extra)
	writeFile(path, content)
}
