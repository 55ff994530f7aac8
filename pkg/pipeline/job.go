package pipeline

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/David-Botos/data-cleansing/pkg/bronze"
	"github.com/David-Botos/data-cleansing/pkg/model"
	"github.com/David-Botos/data-cleansing/pkg/quality"
)

// IngestJob represents the ingestion of a single source file
type IngestJob struct {
	ID         string
	File       string
	Index      int // Position of the file in the refresh, in name order
	CreatedAt  time.Time
	RetryCount int
	MaxRetries int
}

// NewIngestJob creates a new ingestion job
func NewIngestJob(file string, index int) IngestJob {
	return IngestJob{
		ID:         uuid.New().String(),
		File:       file,
		Index:      index,
		CreatedAt:  time.Now(),
		MaxRetries: 3,
	}
}

// WithMaxRetries sets the maximum retry count
func (j IngestJob) WithMaxRetries(maxRetries int) IngestJob {
	j.MaxRetries = maxRetries
	return j
}

// Name returns the base name of the source file
func (j IngestJob) Name() string {
	return filepath.Base(j.File)
}

// IsRetryable checks if the job can be retried
func (j IngestJob) IsRetryable() bool {
	return j.RetryCount < j.MaxRetries
}

// Retry creates a new job for retry
func (j IngestJob) Retry() IngestJob {
	retry := j
	retry.RetryCount++
	return retry
}

// FileResult contains the outcome of ingesting one source file
type FileResult struct {
	JobID      string
	File       string
	Index      int
	Success    bool
	Batch      *bronze.Batch
	Errors     []ErrorRecord
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	WorkerID   int
	RetryCount int
}

// NewFileResult creates a new file result from a job
func NewFileResult(job IngestJob, workerID int) *FileResult {
	return &FileResult{
		JobID:      job.ID,
		File:       job.File,
		Index:      job.Index,
		StartTime:  time.Now(),
		WorkerID:   workerID,
		RetryCount: job.RetryCount,
	}
}

// Complete marks the result as complete
func (r *FileResult) Complete(success bool) {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
	r.Success = success
}

// AddError adds an error to the result
func (r *FileResult) AddError(err ErrorRecord) {
	r.Errors = append(r.Errors, err)
}

// Rows returns the number of bronze rows read from the file
func (r *FileResult) Rows() int {
	if r.Batch == nil {
		return 0
	}
	return len(r.Batch.Records)
}

// RefreshResult summarizes one refresh across all layers
type RefreshResult struct {
	RunID     uuid.UUID
	Identity  string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	FilesIngested int
	FilesFailed   int
	FilesSkipped  int // Already processed in an earlier refresh
	Files         []*FileResult

	BronzeRows  int
	SilverRows  int
	CleaningOps int
	Quality     quality.Summary

	Inserted  int
	Closed    int
	Deleted   int
	Unchanged int
	Late      int
	Rejected  int

	IntegrityIssues int
	CurrentRows     int

	GoldRows       int
	AccessLevel    model.AccessLevel
	Fallback       bool
	PublishSkipped bool // Version store was empty while files were checkpointed

	ErrorCategories map[ErrorCategory]int
}

// NewRefreshResult creates a new refresh result
func NewRefreshResult(run RunContext) *RefreshResult {
	return &RefreshResult{
		RunID:           run.RunID,
		Identity:        run.Identity,
		StartTime:       time.Now(),
		AccessLevel:     model.AccessMaskedOnly,
		ErrorCategories: make(map[ErrorCategory]int),
	}
}

// Complete finalizes the refresh timing
func (r *RefreshResult) Complete() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// Changed reports whether the refresh altered the versioned table
func (r *RefreshResult) Changed() bool {
	return r.Inserted > 0 || r.Closed > 0
}
