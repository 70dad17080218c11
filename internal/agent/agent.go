// Package agent drives an external coding-agent binary (a command-line
// LLM) in one-shot, JSON-output mode, enforcing structured output
// against a role-specific JSON schema. Each call is stateless: a fresh
// session id is minted per invocation.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/GTWhalley/Refactorio/internal/config"
	"github.com/GTWhalley/Refactorio/internal/rerr"
)

// Role names an agent call's purpose; it selects the system-prompt and
// schema file pair, and the max-turns ceiling.
type Role string

const (
	RolePlanner  Role = "planner"
	RolePatcher  Role = "patcher"
	RoleCritic   Role = "critic"
	RoleSecurity Role = "security"
)

// wallClockTimeout is the per-call ceiling from §4.8/§5.
const wallClockTimeout = 10 * time.Minute

// terminationGrace is how long SIGTERM is given before SIGKILL.
const terminationGrace = 5 * time.Second

// Activity is a progress update published roughly once a second while
// a call's subprocess is in flight. It is advisory only — never use it
// to infer correctness or ordering relative to ledger writes.
type Activity struct {
	Message        string
	ElapsedSeconds float64
}

// Response is the outcome of one agent call.
type Response struct {
	Success           bool
	RawOutput         string
	StructuredOutput  map[string]any
	ErrorMessage      string
	SessionID         string
}

// Driver invokes the external agent binary, validates its structured
// output, and exposes a cancel primitive reachable from another thread.
type Driver struct {
	Config     config.AgentConfig
	PromptsDir string
	SchemasDir string
	WorkingDir string
	Observer   func(Activity)

	binaryPath string

	mu         sync.Mutex
	activeCmd  *exec.Cmd
	activeDone chan struct{}
}

// New constructs a Driver. PromptsDir and SchemasDir hold
// "<role>.system.txt" and "<role>.schema.json" files respectively.
func New(cfg config.AgentConfig, promptsDir, schemasDir, workingDir string) *Driver {
	return &Driver{
		Config:     cfg,
		PromptsDir: promptsDir,
		SchemasDir: schemasDir,
		WorkingDir: workingDir,
	}
}

// BinaryPath resolves (and caches) the agent binary location: the
// configured path if it exists, else "claude" on $PATH.
func (d *Driver) BinaryPath() (string, error) {
	if d.binaryPath != "" {
		return d.binaryPath, nil
	}

	if d.Config.Binary != "" && d.Config.Binary != "claude" {
		if _, err := os.Stat(d.Config.Binary); err == nil {
			d.binaryPath = d.Config.Binary
			return d.binaryPath, nil
		}
	}

	found, err := exec.LookPath("claude")
	if err != nil {
		return "", rerr.New(rerr.AgentNotFound,
			"claude binary not found: install Claude Code or set agent.binary")
	}
	d.binaryPath = found
	return d.binaryPath, nil
}

// maxTurnsFor returns the configured turn ceiling for a role.
func (d *Driver) maxTurnsFor(role Role) int {
	switch role {
	case RolePlanner:
		return d.Config.MaxTurnsPlanner
	case RolePatcher:
		return d.Config.MaxTurnsPatcher
	case RoleCritic:
		return d.Config.MaxTurnsCritic
	case RoleSecurity:
		return d.Config.MaxTurnsSecurity
	default:
		return 6
	}
}

// Cancel terminates the in-flight subprocess, if any: SIGTERM first,
// then SIGKILL after terminationGrace if it has not exited. Safe to
// call at any time, from any goroutine, including when no call is in
// flight. The owning call's own cmd.Wait() is the sole reaper of the
// process; Cancel only signals it and watches activeDone, which that
// call closes once its Wait() returns, rather than calling Wait()
// itself — a process must only ever be reaped once.
func (d *Driver) Cancel() {
	d.mu.Lock()
	cmd := d.activeCmd
	done := d.activeDone
	d.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(terminationGrace):
		_ = cmd.Process.Kill()
	}
}

func (d *Driver) setActive(cmd *exec.Cmd, done chan struct{}) {
	d.mu.Lock()
	d.activeCmd = cmd
	d.activeDone = done
	d.mu.Unlock()
}

func (d *Driver) clearActive() {
	d.mu.Lock()
	d.activeCmd = nil
	d.activeDone = nil
	d.mu.Unlock()
}

// CallPlanner invokes the planner role.
func (d *Driver) CallPlanner(ctx context.Context, prompt string) Response {
	return d.callWithSchema(ctx, prompt, RolePlanner)
}

// CallPatcher invokes the patcher role. Per §4.8, tools are withheld
// for this role so the model cannot spend turns reading files — the
// context pack must already carry everything it needs.
func (d *Driver) CallPatcher(ctx context.Context, prompt string) Response {
	return d.callWithSchema(ctx, prompt, RolePatcher)
}

// CallCritic invokes the critic role.
func (d *Driver) CallCritic(ctx context.Context, prompt string) Response {
	return d.callWithSchema(ctx, prompt, RoleCritic)
}

// CallSecurity invokes the security role — the fourth Role constant,
// so it flows through the same schema-validated call path as the
// other three.
func (d *Driver) CallSecurity(ctx context.Context, prompt string) Response {
	return d.callWithSchema(ctx, prompt, RoleSecurity)
}

func errorResponse(kind rerr.Kind, msg string) Response {
	return Response{Success: false, ErrorMessage: rerr.New(kind, msg).Error()}
}

// callWithSchema implements the 7-step response-handling order from
// §4.8: nonzero exit, external termination, JSON parse, error_max_turns,
// generic error flags, structured_output extraction, schema validation.
func (d *Driver) callWithSchema(ctx context.Context, prompt string, role Role) Response {
	binary, err := d.BinaryPath()
	if err != nil {
		return errorResponse(rerr.AgentNotFound, err.Error())
	}

	systemPromptFile := filepath.Join(d.PromptsDir, string(role)+".system.txt")
	if _, err := os.Stat(systemPromptFile); err != nil {
		return errorResponse(rerr.AgentOutputMalformed, fmt.Sprintf("system prompt file not found: %s", systemPromptFile))
	}

	schemaFile := filepath.Join(d.SchemasDir, string(role)+".schema.json")
	schemaBytes, err := os.ReadFile(schemaFile)
	if err != nil {
		return errorResponse(rerr.AgentOutputMalformed, fmt.Sprintf("schema file not found: %s", schemaFile))
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return errorResponse(rerr.AgentOutputMalformed, fmt.Sprintf("invalid schema JSON: %v", err))
	}
	schema, err := compileSchema(schemaDoc, string(role))
	if err != nil {
		return errorResponse(rerr.AgentOutputMalformed, err.Error())
	}

	sessionID := uuid.New().String()
	maxTurns := d.maxTurnsFor(role)

	args := []string{
		"-p", prompt,
		"--output-format", "json",
		"--json-schema", string(schemaBytes),
		"--system-prompt-file", systemPromptFile,
		"--max-turns", fmt.Sprintf("%d", maxTurns),
		"--session-id", sessionID,
	}
	if role == RolePlanner && d.Config.AllowedTools != "" {
		args = append(args, "--allowedTools", d.Config.AllowedTools)
	}

	callCtx, cancel := context.WithTimeout(ctx, wallClockTimeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, binary, args...)
	cmd.Dir = d.WorkingDir

	ptmx, pts, err := pty.Open()
	if err != nil {
		return errorResponse(rerr.AgentExitedNonzero, fmt.Sprintf("opening pty: %v", err))
	}
	defer ptmx.Close()

	cmd.Stdin = strings.NewReader(prompt)
	cmd.Stdout = pts
	cmd.Stderr = pts

	if err := cmd.Start(); err != nil {
		pts.Close()
		return errorResponse(rerr.AgentExitedNonzero, fmt.Sprintf("starting agent: %v", err))
	}
	pts.Close()

	done := make(chan struct{})
	d.setActive(cmd, done)
	defer d.clearActive()

	stop := d.startActivityTicker()
	defer stop()

	var out bytes.Buffer
	readErr := copyIgnoringEIO(&out, ptmx)

	waitErr := cmd.Wait()
	close(done)

	if readErr != nil {
		return errorResponse(rerr.AgentExitedNonzero, fmt.Sprintf("reading agent output: %v", readErr))
	}

	if callCtx.Err() == context.DeadlineExceeded {
		return errorResponse(rerr.AgentTimeout, "agent call exceeded wall-clock deadline")
	}
	if ctx.Err() == context.Canceled {
		return errorResponse(rerr.AgentCancelled, "agent call was cancelled")
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			if exitErr.ExitCode() == -1 {
				return errorResponse(rerr.AgentCancelled, "agent process was terminated")
			}
			return errorResponse(rerr.AgentExitedNonzero,
				fmt.Sprintf("agent exited with code %d: %s", exitErr.ExitCode(), out.String()))
		}
		return errorResponse(rerr.AgentExitedNonzero, waitErr.Error())
	}

	var envelope map[string]any
	if err := json.Unmarshal(out.Bytes(), &envelope); err != nil {
		return errorResponse(rerr.AgentOutputMalformed,
			fmt.Sprintf("failed to parse agent output as JSON: %s", truncate(out.String(), 500)))
	}

	if isErr, _ := envelope["is_error"].(bool); isErr {
		if subtype, _ := envelope["subtype"].(string); subtype == "error_max_turns" {
			return errorResponse(rerr.AgentTurnsExhausted,
				fmt.Sprintf("agent exhausted its %d-turn budget", maxTurns))
		}
		return errorResponse(rerr.AgentOutputMalformed,
			fmt.Sprintf("agent reported an error: %s", truncate(out.String(), 500)))
	}
	if errList, ok := envelope["errors"].([]any); ok && len(errList) > 0 {
		return errorResponse(rerr.AgentOutputMalformed, fmt.Sprintf("agent reported errors: %v", errList))
	}

	structured, err := extractStructuredOutput(envelope, schema)
	if err != nil {
		return errorResponse(rerr.AgentOutputMalformed, err.Error())
	}

	if err := schema.Validate(structured); err != nil {
		return errorResponse(rerr.AgentSchemaViolation, firstValidationMessage(err))
	}

	asMap, _ := structured.(map[string]any)

	return Response{
		Success:          true,
		RawOutput:        out.String(),
		StructuredOutput: asMap,
		SessionID:        sessionID,
	}
}

func compileSchema(schemaDoc any, role string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("mem://%s.schema.json", role)
	if err := compiler.AddResource(url, schemaDoc); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return schema, nil
}

// extractStructuredOutput locates structured_output either at the top
// level, nested under "result", or (if the envelope itself validates)
// treats the whole envelope as the structured output.
func extractStructuredOutput(envelope map[string]any, schema *jsonschema.Schema) (any, error) {
	if so, ok := envelope["structured_output"]; ok {
		return so, nil
	}
	if result, ok := envelope["result"].(map[string]any); ok {
		if so, ok := result["structured_output"]; ok {
			return so, nil
		}
	}
	if schema.Validate(envelope) == nil {
		return envelope, nil
	}
	return nil, errors.New("no structured_output in agent response")
}

func firstValidationMessage(err error) string {
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		if len(verr.Causes) > 0 {
			return verr.Causes[0].Error()
		}
		return verr.Error()
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// copyIgnoringEIO copies from a PTY master, tolerating the EIO the
// kernel returns once the slave side closes at process exit — the
// teacher's own `invokeAgent` discipline.
func copyIgnoringEIO(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	if err == nil {
		return nil
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && pathErr.Err == syscall.EIO {
		return nil
	}
	if errors.Is(err, syscall.EIO) {
		return nil
	}
	return err
}

// startActivityTicker runs a goroutine that publishes an Activity
// update once a second until the returned stop function is called. Ticks
// may arrive after the call has ended; callers must tolerate that.
func (d *Driver) startActivityTicker() func() {
	if d.Observer == nil {
		return func() {}
	}

	done := make(chan struct{})
	started := time.Now()

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				d.Observer(Activity{
					Message:        "agent call in progress",
					ElapsedSeconds: time.Since(started).Seconds(),
				})
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// InstallInterruptCancel wires SIGINT/SIGTERM delivered to this
// process to the driver's Cancel, returning a function that stops
// listening. Used by the executor's top-level cancellation plumbing.
func InstallInterruptCancel(d *Driver) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
			d.Cancel()
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(sigCh)
	}
}
