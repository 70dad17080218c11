// Package ids generates identifiers for runs and batches.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// NewRunID returns an id of the form YYYYMMDD_HHMMSS_<8hex>.
func NewRunID(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generating run id suffix: %w", err)
	}
	return fmt.Sprintf("%s_%s", now.UTC().Format("20060102_150405"), hex.EncodeToString(suffix)), nil
}

// BatchIDSequence hands out monotonically increasing batch-NNN ids.
type BatchIDSequence struct {
	mu   sync.Mutex
	next int
}

// Next returns the next batch id, starting at batch-001.
func (s *BatchIDSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("batch-%03d", s.next)
}
