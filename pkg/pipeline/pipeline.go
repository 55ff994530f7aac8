// Package pipeline orchestrates bronze ingestion, silver shaping, SCD merging
// and the masked gold projection as one refresh.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/bronze"
	"github.com/David-Botos/data-cleansing/pkg/cleaner"
	"github.com/David-Botos/data-cleansing/pkg/gold"
	"github.com/David-Botos/data-cleansing/pkg/model"
	"github.com/David-Botos/data-cleansing/pkg/quality"
	"github.com/David-Botos/data-cleansing/pkg/scd"
	"github.com/David-Botos/data-cleansing/pkg/silver"
)

// ErrRefreshInProgress is returned when a refresh starts while another runs
var ErrRefreshInProgress = errors.New("refresh already in progress")

// RunContext carries the caller identity and run timing through a refresh.
// Every layer reads identity and time from here rather than from ambient state.
type RunContext struct {
	RunID       uuid.UUID
	Identity    string
	RefreshTime time.Time
}

// NewRunContext creates a run for identity at t
func NewRunContext(identity string, t time.Time) RunContext {
	return RunContext{
		RunID:       uuid.New(),
		Identity:    identity,
		RefreshTime: t,
	}
}

// Sink writes layer records to an external table
type Sink interface {
	Append(ctx context.Context, table string, records []*model.Record, keys []string) (int64, error)
	Replace(ctx context.Context, table string, records []*model.Record, keys []string) (int64, error)
}

// Snapshotter loads the latest versions of many keys at once
type Snapshotter interface {
	Snapshot(ctx context.Context, keys []string) (scd.State, error)
}

// Dependencies are the collaborators a pipeline runs against
type Dependencies struct {
	Ingester     FileIngester
	Checkpoint   *bronze.Checkpoint
	SilverConfig *silver.TableConfig
	Merger       *scd.Merger
	Versions     scd.Store
	Gold         *gold.Builder
	Recorder     cleaner.OperationRecorder // Optional
	Sink         Sink                      // Optional; nil keeps layers in the version store only
	Metrics      *Metrics                  // Optional
}

// Options tune a pipeline
type Options struct {
	SourceDir     string
	SourcePattern string
	RawTable      string
	SilverTable   string
	GoldTable     string
	Workers       int
	MaxRetries    int
	RetryDelay    time.Duration
}

// Pipeline runs refreshes from source files through to the gold layer
type Pipeline struct {
	deps         Dependencies
	opts         Options
	errorHandler *ErrorHandler
	logger       *zap.Logger
	running      sync.Mutex
}

// NewPipeline validates deps and creates a pipeline
func NewPipeline(deps Dependencies, opts Options, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	switch {
	case deps.Ingester == nil:
		return nil, errors.New("ingester is required")
	case deps.SilverConfig == nil:
		return nil, errors.New("silver config is required")
	case deps.Merger == nil:
		return nil, errors.New("merger is required")
	case deps.Versions == nil:
		return nil, errors.New("version store is required")
	case deps.Gold == nil:
		return nil, errors.New("gold builder is required")
	}

	if deps.Checkpoint == nil {
		checkpoint, err := bronze.LoadCheckpoint("")
		if err != nil {
			return nil, err
		}
		deps.Checkpoint = checkpoint
	}
	if opts.Workers <= 0 {
		opts.Workers = calculateWorkerCount()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	logger = logger.Named("pipeline")
	return &Pipeline{
		deps:         deps,
		opts:         opts,
		errorHandler: NewErrorHandler(logger).WithMaxRetries(opts.MaxRetries),
		logger:       logger,
	}, nil
}

// Errors returns the error handler of the pipeline
func (p *Pipeline) Errors() *ErrorHandler {
	return p.errorHandler
}

// Refresh ingests pending source files and rebuilds the silver and gold
// layers for run.Identity. Files are sequenced in name order, so a later
// file's rows version after an earlier file's rows.
func (p *Pipeline) Refresh(ctx context.Context, run RunContext) (*RefreshResult, error) {
	if !p.running.TryLock() {
		return nil, ErrRefreshInProgress
	}
	defer p.running.Unlock()

	p.errorHandler.Reset()
	result := NewRefreshResult(run)
	logger := p.logger.With(zap.String("runID", run.RunID.String()))

	err := p.refresh(ctx, run, result, logger)

	result.ErrorCategories = p.errorHandler.GetErrorSummary()
	result.Complete()
	p.deps.Metrics.ObserveRefresh(result, err == nil)

	if err != nil {
		logger.Error("Refresh failed", zap.Error(err), zap.Duration("duration", result.Duration))
		return result, err
	}

	logger.Info("Refresh completed",
		zap.Int("filesIngested", result.FilesIngested),
		zap.Int("silverRows", result.SilverRows),
		zap.Int("inserted", result.Inserted),
		zap.Int("closed", result.Closed),
		zap.Int("goldRows", result.GoldRows),
		zap.String("accessLevel", string(result.AccessLevel)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (p *Pipeline) refresh(ctx context.Context, run RunContext, result *RefreshResult, logger *zap.Logger) error {
	checkpointed := p.deps.Checkpoint.Len()
	files, err := p.discover(result)
	if err != nil {
		return p.fail(result, "bronze", err)
	}

	batches := p.ingest(ctx, files, result, logger)
	if err := ctx.Err(); err != nil {
		return p.fail(result, "bronze", err)
	}
	if p.errorHandler.thresholdExceeded(ErrorCategoryIngestion) {
		return p.fail(result, "bronze", fmt.Errorf("too many unreadable files: %d", result.FilesFailed))
	}

	batches, err = p.writeBronze(ctx, batches, result, logger)
	if err != nil {
		return err
	}

	changes, err := p.buildSilver(ctx, run, batches, result)
	if err != nil {
		return err
	}

	if err := p.merge(ctx, changes, result, logger); err != nil {
		return err
	}

	current, err := p.publish(ctx, run, result, checkpointed, logger)
	if err != nil {
		return err
	}
	result.CurrentRows = len(current)

	for _, batch := range batches {
		p.deps.Checkpoint.MarkProcessed(batch.File, run.RefreshTime)
	}
	if err := p.deps.Checkpoint.Save(); err != nil {
		return p.fail(result, "bronze", err)
	}
	return nil
}

// discover lists source files not yet ingested by an earlier refresh
func (p *Pipeline) discover(result *RefreshResult) ([]string, error) {
	if p.opts.SourceDir == "" {
		return nil, nil
	}
	files, err := bronze.Discover(p.opts.SourceDir, p.opts.SourcePattern)
	if err != nil {
		return nil, err
	}
	pending := p.deps.Checkpoint.Pending(files)
	result.FilesSkipped = len(files) - len(pending)
	for i := 0; i < result.FilesSkipped; i++ {
		p.deps.Metrics.ObserveFile("skipped")
	}
	return pending, nil
}

// ingest reads files concurrently and returns the successful batches in file order
func (p *Pipeline) ingest(ctx context.Context, files []string, result *RefreshResult, logger *zap.Logger) []*bronze.Batch {
	if len(files) == 0 {
		return nil
	}

	jobs := make([]IngestJob, len(files))
	for i, file := range files {
		jobs[i] = NewIngestJob(file, i).WithMaxRetries(p.opts.MaxRetries)
	}

	results := runWorkerPool(ctx, jobs, p.opts.Workers, func(id int) *Worker {
		return NewWorker(id, p.deps.Ingester, p.errorHandler, logger).WithRetryDelay(p.opts.RetryDelay)
	})

	var batches []*bronze.Batch
	for _, fr := range results {
		if fr == nil {
			continue
		}
		result.Files = append(result.Files, fr)
		if !fr.Success {
			result.FilesFailed++
			p.deps.Metrics.ObserveFile("failed")
			for _, rec := range fr.Errors {
				p.deps.Metrics.ObserveError(rec.Category)
			}
			continue
		}
		result.FilesIngested++
		result.BronzeRows += fr.Rows()
		p.deps.Metrics.ObserveFile("ingested")
		batches = append(batches, fr.Batch)
	}
	return batches
}

// writeBronze appends raw records to the bronze table and returns the batches
// it wrote. A file the table rejects is failed and left pending; transient
// sink errors abort the refresh.
func (p *Pipeline) writeBronze(ctx context.Context, batches []*bronze.Batch, result *RefreshResult, logger *zap.Logger) ([]*bronze.Batch, error) {
	if p.deps.Sink == nil || p.opts.RawTable == "" {
		return batches, nil
	}

	written := make([]*bronze.Batch, 0, len(batches))
	for _, batch := range batches {
		if len(batch.Records) == 0 {
			written = append(written, batch)
			continue
		}
		err := p.withRetry(ctx, "bronze", batch.File, func() error {
			_, err := p.deps.Sink.Append(ctx, p.opts.RawTable, batch.Records, nil)
			return err
		})
		if err == nil {
			written = append(written, batch)
			continue
		}
		if ctx.Err() != nil || IsRetryableError(err) {
			return nil, err
		}

		p.rejectFile(result, batch, err)
		logger.Warn("Bronze table rejected file",
			zap.String("file", batch.File),
			zap.Error(err))
		if p.errorHandler.thresholdExceeded(ErrorCategoryIngestion) {
			return nil, p.fail(result, "bronze", fmt.Errorf("too many files rejected by %s: %d", p.opts.RawTable, result.FilesFailed))
		}
	}
	return written, nil
}

// rejectFile moves an ingested file over to the failed files of result
func (p *Pipeline) rejectFile(result *RefreshResult, batch *bronze.Batch, err error) {
	record := NewErrorRecord(err, ErrorCategoryIngestion).WithStage("bronze").WithFile(batch.File)
	p.errorHandler.RecordError(record)
	p.deps.Metrics.ObserveError(record.Category)

	for _, fr := range result.Files {
		if fr.File == batch.File {
			fr.Success = false
			fr.AddError(record)
		}
	}
	result.FilesIngested--
	result.FilesFailed++
	result.BronzeRows -= len(batch.Records)
}

// buildSilver shapes each batch with a clock one microsecond past the
// previous batch, records cleaning operations and summarizes quality
func (p *Pipeline) buildSilver(ctx context.Context, run RunContext, batches []*bronze.Batch, result *RefreshResult) ([]*model.Record, error) {
	var (
		changes    []*model.Record
		operations []model.CleaningOperation
	)

	for i, batch := range batches {
		processedAt := run.RefreshTime.Add(time.Duration(i) * time.Microsecond)
		builder := silver.NewBuilder(p.deps.SilverConfig, p.logger).
			WithClock(func() time.Time { return processedAt }).
			WithConcurrency(p.opts.Workers)

		built, err := builder.BuildBatch(ctx, batch.Records)
		if err != nil {
			return nil, p.fail(result, "silver", fmt.Errorf("failed to build silver for %s: %w", batch.File, err))
		}
		changes = append(changes, silver.Records(built)...)
		operations = append(operations, silver.Operations(built)...)
	}

	result.SilverRows = len(changes)
	result.CleaningOps = len(operations)
	result.Quality = quality.Summarize(changes, p.deps.SilverConfig.Rules())

	if p.deps.Recorder != nil && len(operations) > 0 {
		err := p.withRetry(ctx, "silver", "", func() error {
			return p.deps.Recorder.RecordCleaningOperations(ctx, run.RunID, operations)
		})
		if err != nil {
			return nil, err
		}
	}
	return changes, nil
}

// merge plans the changes against the latest stored versions, applies the
// plan and verifies the history of every touched key
func (p *Pipeline) merge(ctx context.Context, changes []*model.Record, result *RefreshResult, logger *zap.Logger) error {
	if len(changes) == 0 {
		return nil
	}

	var state scd.State = p.deps.Versions
	if snapshotter, ok := p.deps.Versions.(Snapshotter); ok {
		snapshot, err := snapshotter.Snapshot(ctx, p.keysOf(changes))
		if err != nil {
			return p.fail(result, "scd", fmt.Errorf("failed to load latest versions: %w", err))
		}
		state = snapshot
	}

	plan, err := p.deps.Merger.Plan(ctx, state, changes)
	if err != nil {
		return p.fail(result, "scd", err)
	}

	err = p.withRetry(ctx, "scd", "", func() error {
		return p.deps.Versions.Apply(ctx, plan)
	})
	if err != nil {
		return err
	}

	result.Inserted = plan.Inserted
	result.Closed = plan.Closed
	result.Deleted = plan.Deleted
	result.Unchanged = plan.Unchanged
	result.Late = plan.Late
	result.Rejected = len(plan.Rejected)

	for _, rejection := range plan.Rejected {
		p.errorHandler.RecordError(NewErrorRecord(rejection.Err, ErrorCategoryWarning).
			WithStage("scd").
			WithKey(fmt.Sprintf("row %d", rejection.Index)))
	}

	touched := make(map[string]bool)
	for _, mutation := range plan.Mutations {
		touched[mutation.Version.Key] = true
	}
	for key := range touched {
		history, err := p.deps.Versions.History(ctx, key)
		if err != nil {
			return p.fail(result, "scd", fmt.Errorf("failed to read history for verification: %w", err))
		}
		for _, issue := range scd.VerifyHistory(key, history) {
			result.IntegrityIssues++
			p.errorHandler.RecordError(NewErrorRecord(errors.New(issue.Description), ErrorCategoryWarning).
				WithStage("scd").
				WithKey(issue.Key))
		}
	}

	logger.Info("Merged silver changes",
		zap.Int("changes", len(changes)),
		zap.Int("inserted", plan.Inserted),
		zap.Int("closed", plan.Closed),
		zap.Int("deleted", plan.Deleted),
		zap.Int("unchanged", plan.Unchanged),
		zap.Int("late", plan.Late),
		zap.Int("rejected", len(plan.Rejected)),
		zap.Int("integrityIssues", result.IntegrityIssues))
	return nil
}

// publish writes the current silver versions and the masked gold projection.
// An empty version store behind a non-empty checkpoint means the history was
// lost, so the published tables are left as they are.
func (p *Pipeline) publish(ctx context.Context, run RunContext, result *RefreshResult, checkpointed int, logger *zap.Logger) ([]scd.Version, error) {
	current, err := p.deps.Versions.Current(ctx)
	if err != nil {
		return nil, p.fail(result, "scd", fmt.Errorf("failed to read current versions: %w", err))
	}

	write := p.deps.Sink != nil
	if write && len(current) == 0 && checkpointed > 0 {
		write = false
		result.PublishSkipped = true
		p.errorHandler.RecordError(NewErrorRecord(
			fmt.Errorf("version store is empty but %d files are checkpointed", checkpointed), ErrorCategoryWarning).
			WithStage("sink"))
		logger.Warn("Skipped publishing over existing tables",
			zap.Int("checkpointedFiles", checkpointed),
			zap.String("silverTable", p.opts.SilverTable),
			zap.String("goldTable", p.opts.GoldTable))
	}

	keys := p.deps.Merger.Config().Keys
	records := make([]*model.Record, len(current))
	rows := make([]*model.Record, len(current))
	for i, v := range current {
		records[i] = v.Record
		rows[i] = v.Row()
	}

	if write && p.opts.SilverTable != "" {
		silverKeys := append(append([]string(nil), keys...), scd.StartColumn)
		err := p.withRetry(ctx, "sink", "", func() error {
			_, err := p.deps.Sink.Replace(ctx, p.opts.SilverTable, rows, silverKeys)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	goldResult := p.deps.Gold.Build(ctx, run.Identity, records)
	result.GoldRows = len(goldResult.Records)
	result.AccessLevel = goldResult.Resolution.Level
	result.Fallback = goldResult.Resolution.Fallback
	if goldResult.Resolution.Fallback {
		p.errorHandler.RecordError(NewErrorRecord(errors.New("access grant lookup failed"), ErrorCategoryWarning).
			WithStage("gold").
			WithKey(run.Identity))
	}

	if write && p.opts.GoldTable != "" {
		err := p.withRetry(ctx, "sink", "", func() error {
			_, err := p.deps.Sink.Replace(ctx, p.opts.GoldTable, goldResult.Records, keys)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func (p *Pipeline) keysOf(records []*model.Record) []string {
	config := p.deps.Merger.Config()
	seen := make(map[string]bool, len(records))
	keys := make([]string, 0, len(records))
	for _, rec := range records {
		key, err := config.KeyOf(rec)
		if err != nil || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

// withRetry runs fn, retrying while the error handler asks for a retry
func (p *Pipeline) withRetry(ctx context.Context, stage, file string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		record := NewErrorRecord(err, p.errorHandler.CategorizeError(err)).
			WithStage(stage).
			WithFile(file).
			WithRetry(attempt)
		p.deps.Metrics.ObserveError(record.Category)

		if p.errorHandler.HandleError(record) != ActionRetry || !sleepContext(ctx, p.opts.RetryDelay) {
			return fmt.Errorf("%s stage failed: %w", stage, err)
		}
	}
}

// fail records a non-retryable error and wraps it with the stage name
func (p *Pipeline) fail(result *RefreshResult, stage string, err error) error {
	record := NewErrorRecord(err, p.errorHandler.CategorizeError(err)).WithStage(stage)
	p.errorHandler.RecordError(record)
	p.deps.Metrics.ObserveError(record.Category)
	return fmt.Errorf("%s stage failed: %w", stage, err)
}

// calculateWorkerCount sizes the ingestion pool from the available CPUs.
// Each worker holds one decoded file in memory, so the pool stays small.
func calculateWorkerCount() int {
	workerCount := int(math.Ceil(float64(runtime.NumCPU()) * 0.75))

	if workerCount < 2 {
		workerCount = 2
	} else if workerCount > 8 {
		workerCount = 8
	}
	return workerCount
}
