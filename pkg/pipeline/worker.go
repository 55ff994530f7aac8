package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/bronze"
)

// WorkerState represents the current state of a worker
type WorkerState string

const (
	WorkerStateIdle      WorkerState = "idle"
	WorkerStateWorking   WorkerState = "working"
	WorkerStateRetrying  WorkerState = "retrying"
	WorkerStateCompleted WorkerState = "completed"
	WorkerStateError     WorkerState = "error"
)

// FileIngester reads one source file into a bronze batch
type FileIngester interface {
	IngestFile(ctx context.Context, path string) (*bronze.Batch, error)
}

// Worker ingests source files handed to it over a channel
type Worker struct {
	ID           int
	ingester     FileIngester
	errorHandler *ErrorHandler
	logger       *zap.Logger
	retryDelay   time.Duration
	state        WorkerState
	currentJob   *IngestJob
	stateLock    sync.RWMutex
}

// NewWorker creates a new worker
func NewWorker(id int, ingester FileIngester, errorHandler *ErrorHandler, logger *zap.Logger) *Worker {
	return &Worker{
		ID:           id,
		ingester:     ingester,
		errorHandler: errorHandler,
		logger:       logger.With(zap.Int("workerID", id)),
		retryDelay:   time.Second,
		state:        WorkerStateIdle,
	}
}

// WithRetryDelay sets the pause between attempts on the same file
func (w *Worker) WithRetryDelay(delay time.Duration) *Worker {
	w.retryDelay = delay
	return w
}

// GetState returns the current state of the worker
func (w *Worker) GetState() WorkerState {
	w.stateLock.RLock()
	defer w.stateLock.RUnlock()
	return w.state
}

// setState updates the worker state
func (w *Worker) setState(state WorkerState) {
	w.stateLock.Lock()
	defer w.stateLock.Unlock()

	prevState := w.state
	w.state = state

	if prevState != state {
		w.logger.Debug("Worker state changed",
			zap.String("from", string(prevState)),
			zap.String("to", string(state)))
	}
}

// GetCurrentJob returns the job currently being processed
func (w *Worker) GetCurrentJob() *IngestJob {
	w.stateLock.RLock()
	defer w.stateLock.RUnlock()
	return w.currentJob
}

func (w *Worker) setCurrentJob(job *IngestJob) {
	w.stateLock.Lock()
	defer w.stateLock.Unlock()
	w.currentJob = job
}

// Start begins the worker processing loop
func (w *Worker) Start(ctx context.Context, jobs <-chan IngestJob, results chan<- *FileResult) {
	w.setState(WorkerStateWorking)

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Worker stopping due to context cancellation")
			w.setState(WorkerStateCompleted)
			return

		case job, ok := <-jobs:
			if !ok {
				w.setState(WorkerStateCompleted)
				return
			}

			result := w.ProcessJob(ctx, job)

			select {
			case results <- result:
			case <-ctx.Done():
				w.logger.Warn("Context cancelled while sending result",
					zap.String("file", job.File))
				w.setState(WorkerStateCompleted)
				return
			}
		}
	}
}

// ProcessJob ingests one file, retrying recoverable failures
func (w *Worker) ProcessJob(ctx context.Context, job IngestJob) *FileResult {
	w.setCurrentJob(&job)
	defer w.setCurrentJob(nil)

	result := NewFileResult(job, w.ID)

	for {
		w.setState(WorkerStateWorking)
		batch, err := w.ingester.IngestFile(ctx, job.File)
		if err == nil {
			result.Batch = batch
			result.RetryCount = job.RetryCount
			if n := len(batch.Warnings); n > 0 {
				warning := NewErrorRecord(fmt.Errorf("%d malformed rows padded or truncated", n), ErrorCategoryWarning).
					WithStage("bronze").
					WithFile(job.File)
				w.errorHandler.RecordError(warning)
				result.AddError(warning)
			}
			result.Complete(true)

			w.logger.Debug("File job completed",
				zap.String("file", job.Name()),
				zap.String("encoding", batch.Encoding),
				zap.Int("rows", len(batch.Records)),
				zap.Int("warnings", len(batch.Warnings)),
				zap.Duration("duration", result.Duration))
			return result
		}

		record := NewErrorRecord(err, w.errorHandler.CategorizeError(err)).
			WithStage("bronze").
			WithFile(job.File).
			WithRetry(job.RetryCount)
		result.AddError(record)

		if w.errorHandler.HandleError(record) == ActionRetry && job.IsRetryable() {
			w.setState(WorkerStateRetrying)
			if !sleepContext(ctx, w.retryDelay) {
				break
			}
			job = job.Retry()
			result.RetryCount = job.RetryCount
			continue
		}
		break
	}

	w.setState(WorkerStateError)
	result.Complete(false)
	w.logger.Warn("File ingestion failed",
		zap.String("file", job.Name()),
		zap.Int("retryCount", job.RetryCount),
		zap.Int("errors", len(result.Errors)))
	return result
}

// sleepContext waits for d, returning false if ctx ends first
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runWorkerPool ingests jobs with workerCount workers and returns every
// result, in job index order
func runWorkerPool(
	ctx context.Context,
	jobs []IngestJob,
	workerCount int,
	newWorker func(id int) *Worker,
) []*FileResult {
	if workerCount <= 0 {
		workerCount = 1
	}
	if workerCount > len(jobs) {
		workerCount = len(jobs)
	}

	jobCh := make(chan IngestJob)
	resultCh := make(chan *FileResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		worker := newWorker(i + 1)
		go func() {
			defer wg.Done()
			worker.Start(ctx, jobCh, resultCh)
		}()
	}

	go func() {
		defer close(jobCh)
		for _, job := range jobs {
			select {
			case jobCh <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(resultCh)

	results := make([]*FileResult, len(jobs))
	for result := range resultCh {
		results[result.Index] = result
	}
	return results
}
