// pkg/connector/connector.go
package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/config"
	"github.com/David-Botos/data-cleansing/pkg/converter"
)

const (
	defaultBatchSize = 1000
	ddlTimeout       = 60 * time.Second
	insertTimeout    = 30 * time.Second
)

// DatabaseConnector is a warehouse connection the sink and state stores write through
type DatabaseConnector interface {
	DB() *sql.DB
	Dialect() converter.Dialect

	// Validate checks that the session can do the work the pipeline needs
	Validate(ctx context.Context) error
	Close() error

	ExecWithTimeout(ctx context.Context, query string, timeout time.Duration, args ...interface{}) (sql.Result, error)
	EnsureSchema(ctx context.Context, schema string) error
	CreateTableIfNotExists(ctx context.Context, schema, table string, columnDefs []string, primaryKey string) error

	// BatchInsert writes rows in multi-row INSERTs of at most batchSize rows
	BatchInsert(ctx context.Context, schema, table string, columns []string, valueRows [][]interface{}, batchSize int) (int64, error)

	// ReplaceRows empties the table and inserts rows in one transaction
	ReplaceRows(ctx context.Context, schema, table string, columns []string, valueRows [][]interface{}, batchSize int) (int64, error)

	// TableColumns maps column name to SQL type. It is empty when the table
	// does not exist.
	TableColumns(ctx context.Context, schema, table string) (map[string]string, error)

	// AddColumns adds nullable columns to an existing table
	AddColumns(ctx context.Context, schema, table string, columnDefs []string) error
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// session is the dialect-independent half of a connector
type session struct {
	db      *sql.DB
	dialect converter.Dialect
	name    string
	logger  *zap.Logger
}

// openSession opens a pool, bounds it and waits for the first successful ping
func openSession(
	ctx context.Context,
	driver, dsn string,
	dialect converter.Dialect,
	name string,
	pool config.PoolConfig,
	pingTimeout time.Duration,
	logger *zap.Logger,
) (*session, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s pool: %w", driver, err)
	}
	applyPool(db, pool)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach %s within %v: %w", name, pingTimeout, err)
	}

	s := &session{db: db, dialect: dialect, name: name, logger: logger}
	s.logPool()
	return s, nil
}

func applyPool(db *sql.DB, pool config.PoolConfig) {
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
}

func (s *session) logPool() {
	stats := s.db.Stats()
	s.logger.Debug("Connection pool stats",
		zap.String("database", s.name),
		zap.Int("openConnections", stats.OpenConnections),
		zap.Int("inUse", stats.InUse),
		zap.Int("idle", stats.Idle),
		zap.Int64("waitCount", stats.WaitCount),
		zap.Duration("waitDuration", stats.WaitDuration))
}

// DB returns the underlying pool
func (s *session) DB() *sql.DB {
	return s.db
}

// Dialect reports which SQL dialect the pool speaks
func (s *session) Dialect() converter.Dialect {
	return s.dialect
}

// Close releases the pool
func (s *session) Close() error {
	s.logPool()
	s.logger.Info("Closing connection", zap.String("database", s.name))
	return s.db.Close()
}

// ExecWithTimeout runs one statement bounded by timeout
func (s *session) ExecWithTimeout(ctx context.Context, query string, timeout time.Duration, args ...interface{}) (sql.Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.db.ExecContext(execCtx, query, args...)
}

// EnsureSchema creates schema when it is missing
func (s *session) EnsureSchema(ctx context.Context, schema string) error {
	stmt := "CREATE SCHEMA IF NOT EXISTS " + converter.QuoteIdentifier(schema)
	if _, err := s.ExecWithTimeout(ctx, stmt, ddlTimeout); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}

// CreateTableIfNotExists creates schema.table from column definitions
func (s *session) CreateTableIfNotExists(ctx context.Context, schema, table string, columnDefs []string, primaryKey string) error {
	if _, err := s.ExecWithTimeout(ctx, createTableSQL(schema, table, columnDefs, primaryKey), ddlTimeout); err != nil {
		return fmt.Errorf("failed to create table %s: %w", QualifiedName(schema, table), err)
	}
	s.logger.Debug("Ensured table", zap.String("table", QualifiedName(schema, table)))
	return nil
}

// BatchInsert writes valueRows in chunks and returns the rows written
func (s *session) BatchInsert(ctx context.Context, schema, table string, columns []string, valueRows [][]interface{}, batchSize int) (int64, error) {
	return s.insertBatches(ctx, s.db, schema, table, columns, valueRows, batchSize)
}

// ReplaceRows deletes every row of schema.table and inserts valueRows. Readers
// see either the old rows or the new ones.
func (s *session) ReplaceRows(ctx context.Context, schema, table string, columns []string, valueRows [][]interface{}, batchSize int) (n int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("Failed to rollback replace",
					zap.String("table", QualifiedName(schema, table)),
					zap.Error(rbErr))
			}
		}
	}()

	clearCtx, cancel := context.WithTimeout(ctx, ddlTimeout)
	_, err = tx.ExecContext(clearCtx, "DELETE FROM "+QualifiedName(schema, table))
	cancel()
	if err != nil {
		return 0, fmt.Errorf("failed to clear table %s: %w", QualifiedName(schema, table), err)
	}

	n, err = s.insertBatches(ctx, tx, schema, table, columns, valueRows, batchSize)
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit replace of %s: %w", QualifiedName(schema, table), err)
	}
	return n, nil
}

func (s *session) insertBatches(ctx context.Context, ex execer, schema, table string, columns []string, valueRows [][]interface{}, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var written int64
	for len(valueRows) > 0 {
		n := min(batchSize, len(valueRows))
		chunk := valueRows[:n]
		valueRows = valueRows[n:]

		query, args, err := buildInsert(s.dialect, schema, table, columns, chunk)
		if err != nil {
			return written, fmt.Errorf("failed to build batch insert: %w", err)
		}

		execCtx, cancel := context.WithTimeout(ctx, insertTimeout)
		res, err := ex.ExecContext(execCtx, query, args...)
		cancel()
		if err != nil {
			return written, fmt.Errorf("batch insert into %s failed after %d rows: %w", QualifiedName(schema, table), written, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			s.logger.Warn("Driver did not report rows affected", zap.Error(err))
			affected = int64(n)
		}
		written += affected
	}
	return written, nil
}

// TableColumns reads the columns of schema.table from information_schema.
// An empty schema means the session's current schema.
func (s *session) TableColumns(ctx context.Context, schema, table string) (map[string]string, error) {
	query := columnsQuery(s.dialect)
	rows, err := s.db.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", QualifiedName(schema, table), err)
	}
	defer rows.Close()

	columns := make(map[string]string)
	for rows.Next() {
		var (
			name, dataType string
			scale          int64
		)
		if err := rows.Scan(&name, &dataType, &scale); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", QualifiedName(schema, table), err)
		}
		columns[strings.ToLower(name)] = columnType(dataType, scale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", QualifiedName(schema, table), err)
	}
	return columns, nil
}

// AddColumns runs one ALTER TABLE ... ADD COLUMN IF NOT EXISTS per definition
func (s *session) AddColumns(ctx context.Context, schema, table string, columnDefs []string) error {
	for _, def := range columnDefs {
		stmt := "ALTER TABLE " + QualifiedName(schema, table) + " ADD COLUMN IF NOT EXISTS " + def
		if _, err := s.ExecWithTimeout(ctx, stmt, ddlTimeout); err != nil {
			return fmt.Errorf("failed to add column to %s: %w", QualifiedName(schema, table), err)
		}
		s.logger.Info("Added column", zap.String("table", QualifiedName(schema, table)), zap.String("column", def))
	}
	return nil
}

func columnsQuery(dialect converter.Dialect) string {
	p1, p2 := "$1", "$2"
	current := "current_schema()"
	if dialect == converter.DialectSnowflake {
		p1, p2 = "?", "?"
		current = "CURRENT_SCHEMA()"
	}
	return "SELECT column_name, data_type, COALESCE(numeric_scale, -1) FROM information_schema.columns " +
		"WHERE table_schema = COALESCE(NULLIF(" + p1 + ", ''), " + current + ") AND table_name = " + p2
}

// columnType restores the integer form of Snowflake NUMBER columns, which
// information_schema reports without precision
func columnType(dataType string, scale int64) string {
	if strings.EqualFold(dataType, "NUMBER") && scale == 0 {
		return "NUMBER(38,0)"
	}
	return dataType
}

// QualifiedName returns the quoted schema.table name
func QualifiedName(schema, table string) string {
	if schema == "" {
		return converter.QuoteIdentifier(table)
	}
	return converter.QuoteIdentifier(schema) + "." + converter.QuoteIdentifier(table)
}

// buildInsert renders a multi-row INSERT. Postgres numbers its placeholders,
// Snowflake binds positionally with '?'.
func buildInsert(dialect converter.Dialect, schema, table string, columns []string, rows [][]interface{}) (string, []interface{}, error) {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = converter.QuoteIdentifier(col)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(QualifiedName(schema, table))
	b.WriteString(" (" + strings.Join(quoted, ", ") + ") VALUES ")

	args := make([]interface{}, 0, len(rows)*len(columns))
	for r, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("row %d has %d values for %d columns", r, len(row), len(columns))
		}
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range row {
			if c > 0 {
				b.WriteString(", ")
			}
			if dialect == converter.DialectPostgres {
				b.WriteString("$" + strconv.Itoa(len(args)+c+1))
			} else {
				b.WriteByte('?')
			}
		}
		b.WriteByte(')')
		args = append(args, row...)
	}
	return b.String(), args, nil
}

// createTableSQL renders a CREATE TABLE IF NOT EXISTS statement
func createTableSQL(schema, table string, columnDefs []string, primaryKey string) string {
	defs := columnDefs
	if primaryKey != "" {
		defs = append(append([]string(nil), columnDefs...), "PRIMARY KEY ("+primaryKey+")")
	}
	return "CREATE TABLE IF NOT EXISTS " + QualifiedName(schema, table) + " (\n\t" + strings.Join(defs, ",\n\t") + "\n)"
}
