// pkg/silver/builder.go
package silver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/David-Botos/data-cleansing/pkg/model"
	"github.com/David-Botos/data-cleansing/pkg/quality"
	"github.com/David-Botos/data-cleansing/pkg/transform"
	"github.com/David-Botos/data-cleansing/pkg/validate"
)

// Result is one shaped silver record plus what changed while shaping it
type Result struct {
	Record     *model.Record
	Operations []model.CleaningOperation
	Assessment quality.Assessment
	Scored     bool // False when no configured rule applied to the record
}

// Builder shapes bronze records into silver records according to a TableConfig
type Builder struct {
	config      *TableConfig
	logger      *zap.Logger
	now         func() time.Time
	concurrency int
}

// NewBuilder creates a builder for the given table config
func NewBuilder(config *TableConfig, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		config:      config,
		logger:      logger.Named("silver").With(zap.String("table", config.Table)),
		now:         time.Now,
		concurrency: 8,
	}
}

// WithClock overrides the clock used for processed and cleaned timestamps
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithConcurrency sets how many records BuildBatch shapes at once
func (b *Builder) WithConcurrency(n int) *Builder {
	if n > 0 {
		b.concurrency = n
	}
	return b
}

// Config returns the table config the builder was created with
func (b *Builder) Config() *TableConfig {
	return b.config
}

// Build shapes a single record. The input record is not modified.
func (b *Builder) Build(in *model.Record) Result {
	cfg := b.config
	rec := in.Clone()
	now := b.now()

	// Prefix first so every later step sees final column names
	if cfg.SourcePrefix != "" {
		for _, col := range rec.Columns() {
			if !strings.HasPrefix(col, cfg.SourcePrefix) {
				rec.Rename(col, cfg.SourcePrefix+col)
			}
		}
	}

	ctx := model.CleaningContext{
		SchemaName: cfg.Schema,
		TableName:  cfg.Table,
	}
	if cfg.KeyColumn != "" {
		ctx.RowIdentifier = model.ToString(rec.Value(cfg.KeyColumn))
	}

	var ops []model.CleaningOperation
	rewrite := func(column string, fn transform.Func, kind, reason string) {
		before, ok := rec.Get(column)
		if !ok {
			return
		}
		after := fn(before)
		rec.Set(column, after)
		if changed(before, after) {
			op := ctx.NewOperation(column, before, after, kind, reason)
			op.CleanedAt = now
			ops = append(ops, op)
		}
	}

	for _, t := range cfg.transformations {
		rewrite(t.Column, t.Fn, model.OperationTransformation, t.Name)
	}
	for _, col := range cfg.uppercase {
		rewrite(col, transform.UpperTrim, model.OperationUppercase, "upper_trim")
	}
	for _, col := range cfg.fillNulls {
		rewrite(col, transform.FillNone, model.OperationNullFill, "fill_null_with_none_string")
	}

	// Only rules whose column survived the transforms take part in scoring
	var rules quality.Rules
	for _, v := range cfg.validations {
		if rec.Has(v.Column) {
			rules = append(rules, quality.Rule{Name: v.Name, Column: v.Column, Check: v.Check})
		}
	}

	res := Result{Record: rec}
	if len(rules) > 0 {
		res.Assessment = quality.Evaluate(rec, rules)
		res.Scored = true
		if cfg.AddQualityFlags {
			rec.Set(quality.FlagsColumn, res.Assessment.Flags())
		}
		if cfg.AddQualityScore {
			rec.Set(quality.ScoreColumn, res.Assessment.Score())
		}
	}

	if step := cfg.PostalCode; step != nil && rec.Has(step.AddressColumn) {
		before := rec.Value(step.PostalColumn)
		postal := transform.StandardizePostalCode(transform.ExtractPostalCode(rec.Value(step.AddressColumn)))
		rec.Set(step.PostalColumn, postal)
		rec.Set(step.ValidColumn, validate.SingaporePostalCode(postal))
		if changed(before, postal) {
			op := ctx.NewOperation(step.PostalColumn, before, postal, model.OperationPostalExtraction, "extract_postal_code_from_address")
			op.CleanedAt = now
			ops = append(ops, op)
		}
	}

	if cfg.ProcessedColumn != "" {
		rec.Set(cfg.ProcessedColumn, now)
	}

	res.Operations = ops
	return res
}

// BuildBatch shapes records concurrently, keeping input order in the output
func (b *Builder) BuildBatch(ctx context.Context, records []*model.Record) ([]Result, error) {
	results := make([]Result, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = b.Build(rec)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to build silver batch: %w", err)
	}

	var flagged, ops int
	for _, r := range results {
		if r.Assessment.HasFlags() {
			flagged++
		}
		ops += len(r.Operations)
	}
	b.logger.Debug("Built silver batch",
		zap.Int("records", len(records)),
		zap.Int("flagged", flagged),
		zap.Int("cleaningOperations", ops))

	return results, nil
}

// Records extracts the shaped records from a batch of results
func Records(results []Result) []*model.Record {
	out := make([]*model.Record, len(results))
	for i, r := range results {
		out[i] = r.Record
	}
	return out
}

// Operations flattens the cleaning operations of a batch of results
func Operations(results []Result) []model.CleaningOperation {
	var out []model.CleaningOperation
	for _, r := range results {
		out = append(out, r.Operations...)
	}
	return out
}

func changed(before, after interface{}) bool {
	if before == nil || after == nil {
		return before != after
	}
	return model.ToString(before) != model.ToString(after)
}
