// pkg/store/versions.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/scd"
)

// versionRow is the stored form of an scd.Version
type versionRow struct {
	ID            int64          `db:"id"`
	RecordKey     string         `db:"record_key"`
	Record        []byte         `db:"record"`
	ColumnOrder   pq.StringArray `db:"column_order"`
	StartAt       time.Time      `db:"start_at"`
	EndAt         *time.Time     `db:"end_at"`
	EndedByDelete bool           `db:"ended_by_delete"`
}

const versionColumns = "id, record_key, record, column_order, start_at, end_at, ended_by_delete"

// VersionStore is a Postgres implementation of scd.Store. Each key has at
// most one open version, enforced by a partial unique index.
type VersionStore struct {
	db     *sqlx.DB
	schema string
	table  string
	logger *zap.Logger
}

var _ scd.Store = (*VersionStore)(nil)

// NewVersionStore creates a store over schema.table
func NewVersionStore(db *sqlx.DB, schema, table string, logger *zap.Logger) *VersionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VersionStore{
		db:     db,
		schema: schema,
		table:  table,
		logger: logger.Named("version-store"),
	}
}

func (s *VersionStore) name() string {
	return qualified(s.schema, s.table)
}

// EnsureTable creates the schema, table and indexes if they don't exist
func (s *VersionStore) EnsureTable(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", qualified("", s.schema)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			record_key TEXT NOT NULL,
			record JSONB NOT NULL,
			column_order TEXT[] NOT NULL,
			start_at TIMESTAMP WITH TIME ZONE NOT NULL,
			end_at TIMESTAMP WITH TIME ZONE,
			ended_by_delete BOOLEAN NOT NULL DEFAULT FALSE,
			CHECK (end_at IS NULL OR end_at > start_at)
		)`, s.name()),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (record_key) WHERE end_at IS NULL",
			qualified("", s.table+"_open_idx"), s.name()),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (record_key, start_at)",
			qualified("", s.table+"_key_start_idx"), s.name()),
	}
	if s.schema == "" {
		statements = statements[1:]
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure version table %s: %w", s.name(), err)
		}
	}

	s.logger.Debug("Ensured version table", zap.String("table", s.name()))
	return nil
}

// Latest returns the most recent version of key, or nil when none exists
func (s *VersionStore) Latest(ctx context.Context, key string) (*scd.Version, error) {
	var row versionRow
	err := s.db.GetContext(ctx, &row, fmt.Sprintf(
		"SELECT %s FROM %s WHERE record_key = $1 ORDER BY start_at DESC LIMIT 1",
		versionColumns, s.name()), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest version: %w", err)
	}

	v, err := row.version()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Snapshot loads the latest version of every given key in one query and
// returns it as an scd.State for planning a merge
func (s *VersionStore) Snapshot(ctx context.Context, keys []string) (scd.State, error) {
	var rows []versionRow
	err := s.db.SelectContext(ctx, &rows, fmt.Sprintf(
		`SELECT DISTINCT ON (record_key) %s FROM %s
		WHERE record_key = ANY($1)
		ORDER BY record_key, start_at DESC`,
		versionColumns, s.name()), pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("failed to load version snapshot: %w", err)
	}

	snap := make(snapshot, len(rows))
	for _, row := range rows {
		v, err := row.version()
		if err != nil {
			return nil, err
		}
		snap[v.Key] = v
	}
	return snap, nil
}

// Apply executes a merge plan in a single transaction
func (s *VersionStore) Apply(ctx context.Context, plan *scd.Plan) (err error) {
	if plan == nil || len(plan.Mutations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("Failed to rollback transaction",
					zap.Error(rbErr),
					zap.NamedError("cause", err))
			}
		}
	}()

	closeSQL := fmt.Sprintf(
		`UPDATE %s SET end_at = $1, ended_by_delete = $2
		WHERE record_key = $3 AND start_at = $4 AND end_at IS NULL`, s.name())
	insertSQL := fmt.Sprintf(
		`INSERT INTO %s (record_key, record, column_order, start_at, end_at, ended_by_delete)
		VALUES (:record_key, :record, :column_order, :start_at, :end_at, :ended_by_delete)`, s.name())

	for _, mut := range plan.Mutations {
		switch mut.Kind {
		case scd.MutationClose:
			res, execErr := tx.ExecContext(ctx, closeSQL,
				mut.Version.EndAt, mut.Version.EndedByDelete, mut.Version.Key, mut.Version.StartAt)
			if execErr != nil {
				return fmt.Errorf("failed to close version: %w", execErr)
			}
			n, raErr := res.RowsAffected()
			if raErr == nil && n == 0 {
				return fmt.Errorf("%w: key %q start %s", scd.ErrVersionNotFound, mut.Version.Key, mut.Version.StartAt)
			}

		case scd.MutationInsert:
			row, encErr := rowFromVersion(mut.Version)
			if encErr != nil {
				return encErr
			}
			if _, execErr := tx.NamedExecContext(ctx, insertSQL, row); execErr != nil {
				return fmt.Errorf("failed to insert version: %w", execErr)
			}

		default:
			return fmt.Errorf("unknown mutation kind %q", mut.Kind)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Applied merge plan",
		zap.String("table", s.name()),
		zap.Int("inserted", plan.Inserted),
		zap.Int("closed", plan.Closed),
		zap.Int("deleted", plan.Deleted))
	return nil
}

// Current returns every open version ordered by key
func (s *VersionStore) Current(ctx context.Context) ([]scd.Version, error) {
	return s.query(ctx, "WHERE end_at IS NULL ORDER BY record_key")
}

// AsOf returns every version valid at the given time ordered by key
func (s *VersionStore) AsOf(ctx context.Context, at time.Time) ([]scd.Version, error) {
	return s.query(ctx,
		"WHERE start_at <= $1 AND (end_at IS NULL OR end_at > $1) ORDER BY record_key", at)
}

// History returns all versions of key ordered by start
func (s *VersionStore) History(ctx context.Context, key string) ([]scd.Version, error) {
	return s.query(ctx, "WHERE record_key = $1 ORDER BY start_at", key)
}

func (s *VersionStore) query(ctx context.Context, where string, args ...interface{}) ([]scd.Version, error) {
	var rows []versionRow
	if err := s.db.SelectContext(ctx, &rows,
		fmt.Sprintf("SELECT %s FROM %s %s", versionColumns, s.name(), where), args...); err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}

	versions := make([]scd.Version, 0, len(rows))
	for _, row := range rows {
		v, err := row.version()
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func rowFromVersion(v scd.Version) (versionRow, error) {
	doc, order, err := encodeRecord(v.Record)
	if err != nil {
		return versionRow{}, fmt.Errorf("failed to encode version %q: %w", v.Key, err)
	}
	return versionRow{
		RecordKey:     v.Key,
		Record:        doc,
		ColumnOrder:   order,
		StartAt:       v.StartAt,
		EndAt:         v.EndAt,
		EndedByDelete: v.EndedByDelete,
	}, nil
}

func (r versionRow) version() (scd.Version, error) {
	rec, err := decodeRecord(r.Record, r.ColumnOrder)
	if err != nil {
		return scd.Version{}, fmt.Errorf("failed to decode version %d: %w", r.ID, err)
	}
	return scd.Version{
		Key:           r.RecordKey,
		Record:        rec,
		StartAt:       r.StartAt,
		EndAt:         r.EndAt,
		EndedByDelete: r.EndedByDelete,
	}, nil
}

// snapshot is an in-memory scd.State
type snapshot map[string]scd.Version

func (s snapshot) Latest(_ context.Context, key string) (*scd.Version, error) {
	v, ok := s[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}
