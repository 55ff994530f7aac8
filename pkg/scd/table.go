// pkg/scd/table.go
package scd

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Table is an in-memory versioned table. It is safe for concurrent use.
type Table struct {
	mu       sync.RWMutex
	versions map[string][]Version // Per key, ordered by StartAt
}

// NewTable creates an empty versioned table
func NewTable() *Table {
	return &Table{
		versions: make(map[string][]Version),
	}
}

// Latest returns the most recent version for key
func (t *Table) Latest(_ context.Context, key string) (*Version, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	history := t.versions[key]
	if len(history) == 0 {
		return nil, nil
	}
	v := history[len(history)-1]
	return &v, nil
}

// Apply executes the plan's mutations in order. On error the table is left
// unchanged.
func (t *Table) Apply(_ context.Context, plan *Plan) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	staged := make(map[string][]Version)
	load := func(key string) []Version {
		if h, ok := staged[key]; ok {
			return h
		}
		return append([]Version(nil), t.versions[key]...)
	}

	for _, mut := range plan.Mutations {
		key := mut.Version.Key
		history := load(key)

		switch mut.Kind {
		case MutationClose:
			idx := -1
			for i := range history {
				if history[i].IsCurrent() && history[i].StartAt.Equal(mut.Version.StartAt) {
					idx = i
					break
				}
			}
			if idx < 0 {
				return fmt.Errorf("%w: key %q start %s", ErrVersionNotFound, key, mut.Version.StartAt)
			}
			history[idx] = mut.Version
		case MutationInsert:
			history = append(history, mut.Version)
		default:
			return fmt.Errorf("unknown mutation kind %q", mut.Kind)
		}
		staged[key] = history
	}

	for key, history := range staged {
		sort.SliceStable(history, func(i, j int) bool {
			return history[i].StartAt.Before(history[j].StartAt)
		})
		t.versions[key] = history
	}
	return nil
}

// Current returns every open version, ordered by key
func (t *Table) Current(_ context.Context) ([]Version, error) {
	return t.collect(func(v Version) bool { return v.IsCurrent() }), nil
}

// AsOf returns every version valid at the given time, ordered by key
func (t *Table) AsOf(_ context.Context, at time.Time) ([]Version, error) {
	return t.collect(func(v Version) bool { return v.ValidAt(at) }), nil
}

// History returns all versions for key ordered by start
func (t *Table) History(_ context.Context, key string) ([]Version, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Version(nil), t.versions[key]...), nil
}

// Keys returns all keys with at least one version, sorted
func (t *Table) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.versions))
	for k := range t.versions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Verify checks the interval invariants of every key
func (t *Table) Verify() []IntegrityIssue {
	var issues []IntegrityIssue
	for _, key := range t.Keys() {
		t.mu.RLock()
		history := append([]Version(nil), t.versions[key]...)
		t.mu.RUnlock()
		issues = append(issues, VerifyHistory(key, history)...)
	}
	return issues
}

func (t *Table) collect(keep func(Version) bool) []Version {
	var out []Version
	for _, key := range t.Keys() {
		t.mu.RLock()
		for _, v := range t.versions[key] {
			if keep(v) {
				out = append(out, v)
			}
		}
		t.mu.RUnlock()
	}
	return out
}
