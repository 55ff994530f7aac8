// pkg/bronze/checkpoint.go
package bronze

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Checkpoint remembers which source files were already ingested so a refresh
// only lands new files. An empty path keeps the checkpoint in memory.
type Checkpoint struct {
	mu    sync.Mutex
	path  string
	Files map[string]time.Time `json:"files"`
}

// LoadCheckpoint reads a checkpoint file. A missing file yields an empty
// checkpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	cp := &Checkpoint{path: path, Files: make(map[string]time.Time)}
	if path == "" {
		return cp, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
	}
	if cp.Files == nil {
		cp.Files = make(map[string]time.Time)
	}
	return cp, nil
}

// IsProcessed reports whether file was already ingested
func (c *Checkpoint) IsProcessed(file string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.Files[file]
	return ok
}

// Pending filters files down to those not yet ingested
func (c *Checkpoint) Pending(files []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var pending []string
	for _, f := range files {
		if _, ok := c.Files[f]; !ok {
			pending = append(pending, f)
		}
	}
	return pending
}

// Len returns how many files have been ingested
func (c *Checkpoint) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Files)
}

// MarkProcessed records that file was ingested at t
func (c *Checkpoint) MarkProcessed(file string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Files[file] = t.UTC()
}

// Save writes the checkpoint atomically via a temp file and rename
func (c *Checkpoint) Save() error {
	if c.path == "" {
		return nil
	}

	c.mu.Lock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}
