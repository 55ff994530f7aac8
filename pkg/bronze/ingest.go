// Package bronze lands raw delimited files as records with ingestion metadata.
package bronze

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/converter"
	"github.com/David-Botos/data-cleansing/pkg/model"
)

// Ingestion metadata columns appended to every bronze record
const (
	IngestedFileColumn = "ingested_file"
	IngestionTSColumn  = "ingestion_ts"
)

// Batch is the bronze output for one source file
type Batch struct {
	File     string
	Encoding string
	Metadata *model.TableMetadata
	Records  []*model.Record
	Warnings []ParseWarning
}

// Ingester reads source files into bronze batches
type Ingester struct {
	converter  *converter.TypeConverter
	logger     *zap.Logger
	now        func() time.Time
	schema     string
	table      string
	inferTypes bool
}

// NewIngester creates an ingester writing to schema.table
func NewIngester(conv *converter.TypeConverter, schema, table string, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if conv == nil {
		conv = converter.NewTypeConverter(logger)
	}
	return &Ingester{
		converter:  conv,
		logger:     logger.Named("bronze"),
		now:        time.Now,
		schema:     schema,
		table:      table,
		inferTypes: conv.Config().InferTypes,
	}
}

// WithClock overrides the ingestion timestamp source
func (i *Ingester) WithClock(now func() time.Time) *Ingester {
	i.now = now
	return i
}

// WithTypeInference toggles column type inference. When disabled every column
// is landed as text.
func (i *Ingester) WithTypeInference(enabled bool) *Ingester {
	i.inferTypes = enabled
	return i
}

// IngestFile reads and ingests the file at path
func (i *Ingester) IngestFile(ctx context.Context, path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file %s: %w", path, err)
	}
	return i.Ingest(ctx, path, data)
}

// Ingest turns raw file contents into a bronze batch. Every record carries the
// source path and one shared ingestion timestamp.
func (i *Ingester) Ingest(ctx context.Context, source string, data []byte) (*Batch, error) {
	parsed, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", source, err)
	}

	metadata := i.metadata(parsed)
	ingestedAt := i.now().UTC()

	records := make([]*model.Record, 0, len(parsed.Rows))
	for rowIdx, row := range parsed.Rows {
		if rowIdx%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		rec := model.NewRecord()
		for colIdx, col := range metadata.Columns {
			value, convErr := i.converter.ConvertCSVValue(row[colIdx], col.DataType)
			if convErr != nil {
				// Keep the raw text; bronze never drops data
				i.logger.Debug("Value did not match inferred type",
					zap.String("file", source),
					zap.String("column", col.Name),
					zap.Int("row", rowIdx+2),
					zap.Error(convErr))
			}
			rec.Set(col.Name, value)
		}
		rec.Set(IngestedFileColumn, source)
		rec.Set(IngestionTSColumn, ingestedAt)
		records = append(records, rec)
	}

	metadata.Columns = append(metadata.Columns,
		model.Column{Name: IngestedFileColumn, DataType: converter.TypeText, Nullable: false},
		model.Column{Name: IngestionTSColumn, DataType: converter.TypeTimestamp, Nullable: false},
	)

	for _, w := range parsed.Warnings {
		i.logger.Warn("Row warning",
			zap.String("file", source),
			zap.Int("row", w.Row),
			zap.String("message", w.Message))
	}

	i.logger.Info("Ingested file",
		zap.String("file", source),
		zap.String("encoding", parsed.Encoding),
		zap.Int("records", len(records)),
		zap.Int("warnings", len(parsed.Warnings)))

	return &Batch{
		File:     source,
		Encoding: parsed.Encoding,
		Metadata: metadata,
		Records:  records,
		Warnings: parsed.Warnings,
	}, nil
}

func (i *Ingester) metadata(parsed *ParsedFile) *model.TableMetadata {
	if i.inferTypes {
		return i.converter.InferMetadata(i.schema, i.table, parsed.Header, parsed.Rows)
	}
	metadata := &model.TableMetadata{Schema: i.schema, Table: i.table}
	for _, name := range parsed.Header {
		metadata.Columns = append(metadata.Columns, model.Column{
			Name:     name,
			DataType: converter.TypeText,
			Nullable: true,
		})
	}
	return metadata
}

// Discover lists files in dir matching a glob pattern, sorted by name
func Discover(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*.csv"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list source files: %w", err)
	}

	files := matches[:0]
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}
