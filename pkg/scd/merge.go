// pkg/scd/merge.go
package scd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

// State answers what a versioned table currently holds for a key
type State interface {
	// Latest returns the most recent version of key, current or closed, or nil
	Latest(ctx context.Context, key string) (*Version, error)
}

// Store is a versioned table that can apply merge plans and answer reads
type Store interface {
	State
	Apply(ctx context.Context, plan *Plan) error
	Current(ctx context.Context) ([]Version, error)
	AsOf(ctx context.Context, at time.Time) ([]Version, error)
	History(ctx context.Context, key string) ([]Version, error)
}

// MutationKind is the kind of change a plan makes to a versioned table
type MutationKind string

const (
	// MutationClose ends a current version
	MutationClose MutationKind = "close"
	// MutationInsert adds a new current version
	MutationInsert MutationKind = "insert"
)

// Mutation is one step of a merge plan
type Mutation struct {
	Kind    MutationKind
	Version Version // For a close, the version with EndAt set
}

// Rejection records a change that could not be keyed or sequenced
type Rejection struct {
	Index int // Position in the incoming batch
	Err   error
}

// Plan is the ordered set of mutations produced by merging a batch of changes
type Plan struct {
	Mutations []Mutation
	Inserted  int
	Closed    int
	Deleted   int // Closes caused by the delete predicate
	Unchanged int // Changes with no tracked column difference
	Late      int // Changes at or before the key's latest sequence point
	Rejected  []Rejection
}

// Merger turns change records into version mutations according to a Config
type Merger struct {
	config Config
	logger *zap.Logger
}

// NewMerger creates a merger after validating the config
func NewMerger(config Config, logger *zap.Logger) (*Merger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{
		config: config,
		logger: logger.Named("scd").With(zap.String("target", config.TargetName)),
	}, nil
}

// Config returns the merge config
func (m *Merger) Config() Config {
	return m.config
}

type change struct {
	index int
	key   string
	seq   time.Time
	rec   *model.Record
}

// Plan computes the mutations needed to merge changes into the table behind
// state. Changes are applied per key in sequence order; the batch may hold
// several changes for the same key.
func (m *Merger) Plan(ctx context.Context, state State, changes []*model.Record) (*Plan, error) {
	plan := &Plan{}

	pending := make([]change, 0, len(changes))
	for i, rec := range changes {
		key, err := m.config.KeyOf(rec)
		if err != nil {
			plan.Rejected = append(plan.Rejected, Rejection{Index: i, Err: err})
			continue
		}
		seq, err := m.config.SequenceOf(rec)
		if err != nil {
			plan.Rejected = append(plan.Rejected, Rejection{Index: i, Err: err})
			continue
		}
		pending = append(pending, change{index: i, key: key, seq: seq, rec: rec})
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].key != pending[j].key {
			return pending[i].key < pending[j].key
		}
		return pending[i].seq.Before(pending[j].seq)
	})

	// Latest version per key as seen by this plan, overlaying the stored state
	latest := make(map[string]*Version)

	for _, ch := range pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prev, seen := latest[ch.key]
		if !seen {
			stored, err := state.Latest(ctx, ch.key)
			if err != nil {
				return nil, fmt.Errorf("failed to load latest version for key %q: %w", ch.key, err)
			}
			prev = stored
		}

		next := m.step(plan, prev, ch)
		latest[ch.key] = next
	}

	if len(plan.Rejected) > 0 {
		m.logger.Warn("Rejected change records",
			zap.Int("count", len(plan.Rejected)),
			zap.Error(plan.Rejected[0].Err))
	}
	m.logger.Debug("Planned merge",
		zap.Int("changes", len(changes)),
		zap.Int("inserted", plan.Inserted),
		zap.Int("closed", plan.Closed),
		zap.Int("deleted", plan.Deleted),
		zap.Int("unchanged", plan.Unchanged),
		zap.Int("late", plan.Late))

	return plan, nil
}

// step applies one change to the latest version of its key and returns the
// new latest version
func (m *Merger) step(plan *Plan, prev *Version, ch change) *Version {
	isDelete := m.config.DeletePredicate != nil && m.config.DeletePredicate(ch.rec)

	if prev != nil && m.isLate(prev, ch.seq) {
		plan.Late++
		return prev
	}

	if prev == nil || !prev.IsCurrent() {
		if isDelete {
			// Nothing current to delete
			plan.Unchanged++
			return prev
		}
		v := Version{Key: ch.key, Record: m.materialize(nil, ch.rec), StartAt: ch.seq}
		plan.insert(v)
		return &v
	}

	if isDelete {
		closed := prev.closedAt(ch.seq, true)
		plan.close(closed)
		plan.Deleted++
		return &closed
	}

	if !m.hasTrackedChange(prev.Record, ch.rec) {
		plan.Unchanged++
		return prev
	}

	closed := prev.closedAt(ch.seq, false)
	plan.close(closed)
	v := Version{Key: ch.key, Record: m.materialize(prev.Record, ch.rec), StartAt: ch.seq}
	plan.insert(v)
	return &v
}

// isLate reports whether seq falls at or before the key's latest sequence point
func (m *Merger) isLate(prev *Version, seq time.Time) bool {
	if prev.IsCurrent() {
		return !seq.After(prev.StartAt)
	}
	return seq.Before(*prev.EndAt)
}

// hasTrackedChange compares tracked columns of the current and incoming records
func (m *Merger) hasTrackedChange(current, incoming *model.Record) bool {
	seen := make(map[string]struct{})
	columns := append(current.Columns(), incoming.Columns()...)
	for _, col := range columns {
		if _, dup := seen[col]; dup {
			continue
		}
		seen[col] = struct{}{}
		if !m.config.Tracked(col) {
			continue
		}
		next := incoming.Value(col)
		if next == nil && m.config.IgnoreNullUpdates {
			continue
		}
		if !model.ValuesEqual(current.Value(col), next) {
			return true
		}
	}
	return false
}

// materialize builds the record stored on a new version
func (m *Merger) materialize(current, incoming *model.Record) *model.Record {
	rec := incoming.Clone()
	if current == nil || !m.config.IgnoreNullUpdates {
		return rec
	}
	for _, col := range current.Columns() {
		if rec.IsNull(col) {
			rec.Set(col, current.Value(col))
		}
	}
	return rec
}

func (p *Plan) insert(v Version) {
	p.Mutations = append(p.Mutations, Mutation{Kind: MutationInsert, Version: v})
	p.Inserted++
}

func (p *Plan) close(v Version) {
	p.Mutations = append(p.Mutations, Mutation{Kind: MutationClose, Version: v})
	p.Closed++
}

// Merge plans changes against store and applies the plan
func (m *Merger) Merge(ctx context.Context, store Store, changes []*model.Record) (*Plan, error) {
	plan, err := m.Plan(ctx, store, changes)
	if err != nil {
		return nil, err
	}
	if err := store.Apply(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to apply merge plan: %w", err)
	}

	m.logger.Info("Merged changes",
		zap.Int("inserted", plan.Inserted),
		zap.Int("closed", plan.Closed),
		zap.Int("deleted", plan.Deleted))
	return plan, nil
}
