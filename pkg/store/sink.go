// pkg/store/sink.go
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/connector"
	"github.com/David-Botos/data-cleansing/pkg/converter"
	"github.com/David-Botos/data-cleansing/pkg/model"
)

// TableSink materializes layer records into tables on a database connector
type TableSink struct {
	conn      connector.DatabaseConnector
	converter *converter.TypeConverter
	schema    string
	batchSize int
	logger    *zap.Logger
}

// NewTableSink creates a sink writing into schema
func NewTableSink(conn connector.DatabaseConnector, conv *converter.TypeConverter, schema string, batchSize int, logger *zap.Logger) *TableSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if conv == nil {
		conv = converter.NewTypeConverter(logger)
	}
	return &TableSink{
		conn:      conn,
		converter: conv,
		schema:    schema,
		batchSize: batchSize,
		logger:    logger.Named("table-sink"),
	}
}

// Append creates the table if needed, adds columns the table lacks and
// inserts records. Values are converted to the table's existing column types.
func (s *TableSink) Append(ctx context.Context, table string, records []*model.Record, keys []string) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	metadata := converter.MetadataFromRecords(s.schema, table, records, keys)
	sqlTypes, err := s.prepare(ctx, metadata)
	if err != nil {
		return 0, err
	}

	columns, rows, err := s.rows(metadata, sqlTypes, records)
	if err != nil {
		return 0, err
	}
	n, err := s.conn.BatchInsert(ctx, s.schema, table, columns, rows, s.batchSize)
	if err != nil {
		return n, fmt.Errorf("failed to write %s: %w", metadata.FullName(), err)
	}
	s.logger.Info("Appended to table", zap.String("table", metadata.FullName()), zap.Int64("rows", n))
	return n, nil
}

// Replace swaps the table contents for records in one transaction
func (s *TableSink) Replace(ctx context.Context, table string, records []*model.Record, keys []string) (int64, error) {
	if len(records) == 0 {
		// Nothing to describe the table with; clear it if it exists
		clearSQL := "DELETE FROM " + connector.QualifiedName(s.schema, table)
		if _, err := s.conn.ExecWithTimeout(ctx, clearSQL, 60*time.Second); err != nil {
			s.logger.Debug("Skipped clearing table", zap.String("table", table), zap.Error(err))
		}
		return 0, nil
	}

	metadata := converter.MetadataFromRecords(s.schema, table, records, keys)
	sqlTypes, err := s.prepare(ctx, metadata)
	if err != nil {
		return 0, err
	}

	columns, rows, err := s.rows(metadata, sqlTypes, records)
	if err != nil {
		return 0, err
	}
	n, err := s.conn.ReplaceRows(ctx, s.schema, table, columns, rows, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to replace %s: %w", metadata.FullName(), err)
	}
	s.logger.Info("Replaced table", zap.String("table", metadata.FullName()), zap.Int64("rows", n))
	return n, nil
}

// prepare makes sure the table exists with every column of metadata and
// returns the SQL type each column is written as
func (s *TableSink) prepare(ctx context.Context, metadata *model.TableMetadata) ([]string, error) {
	existing, err := s.conn.TableColumns(ctx, s.schema, metadata.Table)
	if err != nil {
		return nil, err
	}

	if len(existing) == 0 {
		if err := s.create(ctx, metadata); err != nil {
			return nil, err
		}
	} else if err := s.addMissing(ctx, metadata, existing); err != nil {
		return nil, err
	}

	sqlTypes := make([]string, len(metadata.Columns))
	for i, col := range metadata.Columns {
		if sqlType, ok := existing[strings.ToLower(col.Name)]; ok {
			sqlTypes[i] = sqlType
			continue
		}
		sqlType, err := s.converter.MapType(col.DataType, s.conn.Dialect())
		if err != nil {
			return nil, fmt.Errorf("failed to map type for %s: %w", col.Name, err)
		}
		sqlTypes[i] = sqlType
	}
	return sqlTypes, nil
}

func (s *TableSink) create(ctx context.Context, metadata *model.TableMetadata) error {
	if s.schema != "" {
		if err := s.conn.EnsureSchema(ctx, s.schema); err != nil {
			return err
		}
	}

	defs, err := s.converter.GenerateColumnDefinitions(metadata, s.conn.Dialect())
	if err != nil {
		return fmt.Errorf("failed to generate column definitions: %w", err)
	}

	quotedKeys := make([]string, len(metadata.PrimaryKeys))
	for i, key := range metadata.PrimaryKeys {
		quotedKeys[i] = converter.QuoteIdentifier(key)
	}
	return s.conn.CreateTableIfNotExists(ctx, s.schema, metadata.Table, defs, strings.Join(quotedKeys, ", "))
}

// addMissing adds the columns of metadata the table does not have yet. New
// columns are nullable since existing rows have no value for them.
func (s *TableSink) addMissing(ctx context.Context, metadata *model.TableMetadata, existing map[string]string) error {
	missing := &model.TableMetadata{Schema: metadata.Schema, Table: metadata.Table}
	for _, col := range metadata.Columns {
		if _, ok := existing[strings.ToLower(col.Name)]; ok {
			continue
		}
		col.Nullable = true
		col.IsPrimaryKey = false
		missing.Columns = append(missing.Columns, col)
	}
	if len(missing.Columns) == 0 {
		return nil
	}

	defs, err := s.converter.GenerateColumnDefinitions(missing, s.conn.Dialect())
	if err != nil {
		return fmt.Errorf("failed to generate column definitions: %w", err)
	}
	return s.conn.AddColumns(ctx, s.schema, metadata.Table, defs)
}

func (s *TableSink) rows(metadata *model.TableMetadata, sqlTypes []string, records []*model.Record) ([]string, [][]interface{}, error) {
	columns := metadata.ColumnNames()
	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		row := make([]interface{}, len(columns))
		for i, col := range columns {
			value, err := s.converter.ConvertValue(rec.Value(col), sqlTypes[i], col)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to convert %s.%s: %w", metadata.Table, col, err)
			}
			row[i] = value
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}
