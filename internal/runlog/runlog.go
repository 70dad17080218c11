// Package runlog manages the per-run log file and per-batch log files
// under a workspace's .refactor-bot directory, following the teacher's
// LogManager discipline of one lazily-opened, append-mode file per
// named stream. The agent driver keeps agent output in memory and does
// not write it to the per-batch files.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Manager lazily opens and keeps one append-mode file per stream name,
// plus a single run-wide log for executor-level messages.
type Manager struct {
	mu      sync.Mutex
	dir     string
	files   map[string]*os.File
	runFile *os.File
}

// New creates a Manager rooted at <workspaceDir>/.refactor-bot. The
// directory tree is created lazily on first write, not here.
func New(workspaceDir string) *Manager {
	return &Manager{
		dir:   filepath.Join(workspaceDir, ".refactor-bot"),
		files: make(map[string]*os.File),
	}
}

// Printf appends a timestamped line to the run-wide log at
// <dir>/run.log.
func (m *Manager) Printf(format string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runFile == nil {
		if err := os.MkdirAll(m.dir, 0755); err != nil {
			return fmt.Errorf("creating log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(m.dir, "run.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("opening run log: %w", err)
		}
		m.runFile = f
	}

	line := fmt.Sprintf("[%s] %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	_, err := m.runFile.WriteString(line)
	return err
}

// BatchLog returns (creating if necessary) the append-mode log file for
// one batch, at <dir>/logs/<batchID>.log.
func (m *Manager) BatchLog(batchID string) (*os.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[batchID]; ok {
		return f, nil
	}

	logsDir := filepath.Join(m.dir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}

	path := filepath.Join(logsDir, batchID+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening batch log %s: %w", path, err)
	}
	m.files[batchID] = f
	return f, nil
}

// BatchLogPath returns the path a batch's log file would live at,
// without opening it.
func (m *Manager) BatchLogPath(batchID string) string {
	return filepath.Join(m.dir, "logs", batchID+".log")
}

// Close closes every open file, collecting (but not stopping on) the
// first error encountered.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, f := range m.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log for %s: %w", name, err)
		}
	}
	if m.runFile != nil {
		if err := m.runFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing run log: %w", err)
		}
	}
	return firstErr
}
