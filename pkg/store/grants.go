// pkg/store/grants.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/masking"
	"github.com/David-Botos/data-cleansing/pkg/model"
)

const grantColumns = `user_email, user_group, access_level, granted_by, granted_at,
	expires_at, is_active, reason, approval_ticket_id`

// GrantStore reads and writes the access grant table. It implements
// masking.GrantSource and never caches: every lookup hits the table.
type GrantStore struct {
	db     *sqlx.DB
	schema string
	table  string
	logger *zap.Logger
}

var _ masking.GrantSource = (*GrantStore)(nil)

// NewGrantStore creates a grant store over schema.table
func NewGrantStore(db *sqlx.DB, schema, table string, logger *zap.Logger) *GrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrantStore{
		db:     db,
		schema: schema,
		table:  table,
		logger: logger.Named("grant-store"),
	}
}

func (s *GrantStore) name() string {
	return qualified(s.schema, s.table)
}

// EnsureTable creates the grant table if it doesn't exist
func (s *GrantStore) EnsureTable(ctx context.Context) error {
	if s.schema != "" {
		if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+qualified("", s.schema)); err != nil {
			return fmt.Errorf("failed to create schema %s: %w", s.schema, err)
		}
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_email TEXT NOT NULL,
			user_group TEXT NOT NULL,
			access_level TEXT NOT NULL CHECK (access_level IN ('full_access', 'partial_access', 'masked_only')),
			granted_by TEXT NOT NULL,
			granted_at TIMESTAMP WITH TIME ZONE NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE,
			is_active BOOLEAN NOT NULL,
			reason TEXT,
			approval_ticket_id TEXT
		)`, s.name()))
	if err != nil {
		return fmt.Errorf("failed to create grant table %s: %w", s.name(), err)
	}

	s.logger.Debug("Ensured grant table", zap.String("table", s.name()))
	return nil
}

// GrantsFor returns every grant recorded for userEmail, effective or not
func (s *GrantStore) GrantsFor(ctx context.Context, userEmail string) ([]model.AccessGrant, error) {
	var grants []model.AccessGrant
	err := s.db.SelectContext(ctx, &grants, fmt.Sprintf(
		"SELECT %s FROM %s WHERE user_email = $1 ORDER BY granted_at DESC",
		grantColumns, s.name()), userEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to load grants for %s: %w", userEmail, err)
	}
	return grants, nil
}

// Insert adds grants in one transaction
func (s *GrantStore) Insert(ctx context.Context, grants ...model.AccessGrant) (err error) {
	if len(grants) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	insertSQL := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (
		:user_email, :user_group, :access_level, :granted_by, :granted_at,
		:expires_at, :is_active, :reason, :approval_ticket_id)`, s.name(), grantColumns)

	for _, g := range grants {
		if _, err = tx.NamedExecContext(ctx, insertSQL, g); err != nil {
			return fmt.Errorf("failed to insert grant for %s: %w", g.UserEmail, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Inserted access grants", zap.Int("count", len(grants)))
	return nil
}

// Revoke deactivates every active grant of level for userEmail and returns
// the number of grants changed
func (s *GrantStore) Revoke(ctx context.Context, userEmail string, level model.AccessLevel) (int64, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET is_active = FALSE WHERE user_email = $1 AND access_level = $2 AND is_active",
		s.name()), userEmail, string(level))
	if err != nil {
		return 0, fmt.Errorf("failed to revoke grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read revoked count: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("revoke %s for %s: %w", level, userEmail, ErrNotFound)
	}
	return n, nil
}

// SeedDefaults inserts the default group grants when the table is empty.
// Returns whether anything was inserted.
func (s *GrantStore) SeedDefaults(ctx context.Context, now time.Time) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM "+s.name()); err != nil {
		return false, fmt.Errorf("failed to count grants: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if err := s.Insert(ctx, masking.DefaultGrants(now)...); err != nil {
		return false, err
	}
	return true, nil
}
