// pkg/cleaner/cleaner.go
package cleaner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/converter"
	"github.com/David-Botos/data-cleansing/pkg/model"
)

// TableName is the audit table every value rewrite is recorded to
const TableName = "cleaned_on_ingress"

// OperationRecorder persists the cleaning operations of one refresh run
type OperationRecorder interface {
	RecordCleaningOperations(ctx context.Context, runID uuid.UUID, operations []model.CleaningOperation) error
}

// Recorder writes cleaning operations to the cleaned_on_ingress table
type Recorder struct {
	db     *sql.DB
	schema string
	logger *zap.Logger
}

var _ OperationRecorder = (*Recorder)(nil)

// NewRecorder creates a Recorder and ensures the tracking table exists
func NewRecorder(ctx context.Context, db *sql.DB, schema string, logger *zap.Logger) (*Recorder, error) {
	if db == nil {
		return nil, errors.New("database connection cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if schema == "" {
		schema = "public"
	}

	recorder := &Recorder{
		db:     db,
		schema: schema,
		logger: logger.Named("cleaner"),
	}

	if err := recorder.setupCleaningTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup cleaning table: %w", err)
	}

	return recorder, nil
}

func (r *Recorder) tableName() string {
	return converter.QuoteIdentifier(r.schema) + "." + converter.QuoteIdentifier(TableName)
}

// setupCleaningTable ensures the cleaned_on_ingress tracking table exists
func (r *Recorder) setupCleaningTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+converter.QuoteIdentifier(r.schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", r.schema, err)
	}

	createTableSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			run_id UUID NOT NULL,
			schema_name TEXT NOT NULL,
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			original_value TEXT,
			new_value TEXT,
			row_identifier TEXT NOT NULL,
			cleaning_operation TEXT NOT NULL,
			cleaning_reason TEXT NOT NULL,
			cleaned_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)
	`, r.tableName())
	if _, err := r.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create tracking table: %w", err)
	}

	r.logger.Info("Ensured cleaned_on_ingress table exists", zap.String("schema", r.schema))
	return nil
}

// RecordCleaningOperations batch inserts cleaning operations into the tracking table
func (r *Recorder) RecordCleaningOperations(ctx context.Context, runID uuid.UUID, operations []model.CleaningOperation) (err error) {
	if len(operations) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("Failed to rollback transaction",
					zap.Error(rbErr),
					zap.NamedError("cause", err))
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
		(run_id, schema_name, table_name, column_name, original_value, new_value,
		 row_identifier, cleaning_operation, cleaning_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.tableName()))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, op := range operations {
		_, err = stmt.ExecContext(ctx,
			runID.String(),
			op.SchemaName,
			op.TableName,
			op.ColumnName,
			model.ToNullableString(op.OriginalValue),
			model.ToNullableString(op.NewValue),
			op.RowIdentifier,
			op.CleaningOperation,
			op.CleaningReason,
		)
		if err != nil {
			return fmt.Errorf("failed to insert cleaning operation: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Recorded cleaning operations",
		zap.String("runId", runID.String()),
		zap.Int("count", len(operations)))
	return nil
}

// MemoryRecorder keeps recorded operations in memory, keyed by run
type MemoryRecorder struct {
	mu   sync.Mutex
	runs map[uuid.UUID][]model.CleaningOperation
}

var _ OperationRecorder = (*MemoryRecorder)(nil)

// NewMemoryRecorder creates an empty in-memory recorder
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{runs: make(map[uuid.UUID][]model.CleaningOperation)}
}

// RecordCleaningOperations appends operations to the run
func (m *MemoryRecorder) RecordCleaningOperations(_ context.Context, runID uuid.UUID, operations []model.CleaningOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID] = append(m.runs[runID], operations...)
	return nil
}

// Operations returns a copy of the operations recorded for a run
func (m *MemoryRecorder) Operations(runID uuid.UUID) []model.CleaningOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.CleaningOperation(nil), m.runs[runID]...)
}
