package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/bronze"
	"github.com/David-Botos/data-cleansing/pkg/scd"
	"github.com/David-Botos/data-cleansing/pkg/silver"
)

// Action defines the recommended action after an error
type Action int

const (
	// ActionContinue indicates processing should continue despite the error
	ActionContinue Action = iota
	// ActionRetry indicates the operation should be retried
	ActionRetry
	// ActionSkipFile indicates the current source file should be skipped
	ActionSkipFile
	// ActionAbort indicates the refresh should be aborted
	ActionAbort
)

// String returns a string representation of the action
func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "Continue"
	case ActionRetry:
		return "Retry"
	case ActionSkipFile:
		return "SkipFile"
	case ActionAbort:
		return "Abort"
	default:
		return fmt.Sprintf("Unknown(%d)", a)
	}
}

// ErrorCategory groups refresh errors by severity. Categories up to
// ErrorCategoryStorage are recoverable.
type ErrorCategory int

const (
	ErrorCategoryNone ErrorCategory = iota
	ErrorCategoryWarning
	ErrorCategoryIngestion
	ErrorCategoryStorage
	ErrorCategoryTransformation
	ErrorCategoryMerge
	ErrorCategoryMasking
	ErrorCategoryCritical
)

var categoryNames = [...]string{
	ErrorCategoryNone:           "None",
	ErrorCategoryWarning:        "Warning",
	ErrorCategoryIngestion:      "Ingestion",
	ErrorCategoryStorage:        "Storage",
	ErrorCategoryTransformation: "Transformation",
	ErrorCategoryMerge:          "Merge",
	ErrorCategoryMasking:        "Masking",
	ErrorCategoryCritical:       "Critical",
}

func (ec ErrorCategory) String() string {
	if ec >= 0 && int(ec) < len(categoryNames) {
		return categoryNames[ec]
	}
	return fmt.Sprintf("Unknown(%d)", int(ec))
}

// ErrorRecord represents a single error during a refresh
type ErrorRecord struct {
	Category    ErrorCategory
	Stage       string // bronze, silver, scd, gold, sink
	File        string
	Key         string
	Error       error
	Message     string // Derived from Error but stored for serialization
	Timestamp   time.Time
	RetryCount  int
	Recoverable bool
}

// NewErrorRecord creates a new error record with current timestamp
func NewErrorRecord(err error, category ErrorCategory) ErrorRecord {
	record := ErrorRecord{
		Category:    category,
		Error:       err,
		Timestamp:   time.Now(),
		Recoverable: category <= ErrorCategoryStorage,
	}

	if err != nil {
		record.Message = err.Error()
	}

	return record
}

// WithStage adds the pipeline stage to the error record
func (r ErrorRecord) WithStage(stage string) ErrorRecord {
	r.Stage = stage
	return r
}

// WithFile adds source file information to the error record
func (r ErrorRecord) WithFile(file string) ErrorRecord {
	r.File = file
	return r
}

// WithKey adds the business key of the affected row
func (r ErrorRecord) WithKey(key string) ErrorRecord {
	r.Key = key
	return r
}

// WithRetry sets retry information
func (r ErrorRecord) WithRetry(retryCount int) ErrorRecord {
	r.RetryCount = retryCount
	r.Recoverable = r.Category <= ErrorCategoryStorage && retryCount < 3
	return r
}

// String renders the record as "[Category] Stage: .. File: .. Key: .. Error: .."
func (r ErrorRecord) String() string {
	parts := []string{"[" + r.Category.String() + "]"}
	for _, field := range [][2]string{{"Stage", r.Stage}, {"File", r.File}, {"Key", r.Key}} {
		if field[1] != "" {
			parts = append(parts, field[0]+": "+field[1])
		}
	}

	msg := r.Message
	if r.Error != nil {
		msg = r.Error.Error()
	}
	if msg != "" {
		parts = append(parts, "Error: "+msg)
	}

	out := strings.Join(parts, " ")
	if r.RetryCount > 0 {
		out += fmt.Sprintf(" (Retry: %d)", r.RetryCount)
	}
	return out
}

// categoryStats tracks one category during a refresh
type categoryStats struct {
	count     int
	threshold int
	limited   bool
	samples   []ErrorRecord
}

func (s *categoryStats) exceeded() bool {
	return s.limited && s.count > s.threshold
}

// defaultThresholds is how many errors of each category a refresh tolerates.
// Dirty files produce many row warnings and the odd unreadable file.
var defaultThresholds = map[ErrorCategory]int{
	ErrorCategoryWarning:        1000,
	ErrorCategoryIngestion:      10,
	ErrorCategoryStorage:        0,
	ErrorCategoryTransformation: 0,
	ErrorCategoryMerge:          0,
	ErrorCategoryMasking:        0,
	ErrorCategoryCritical:       0,
}

// ErrorHandler counts, samples and triages the errors of one refresh
type ErrorHandler struct {
	logger     *zap.Logger
	mu         sync.Mutex
	stats      map[ErrorCategory]*categoryStats
	byFile     map[string]int
	sampleSize int
	maxRetries int
}

// NewErrorHandler creates a handler with the default thresholds, keeping five
// samples per category and retrying recoverable errors three times
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	eh := &ErrorHandler{
		logger:     logger,
		sampleSize: 5,
		maxRetries: 3,
	}
	eh.resetLocked()
	for category, threshold := range defaultThresholds {
		eh.stats[category].threshold = threshold
		eh.stats[category].limited = true
	}
	return eh
}

func (eh *ErrorHandler) resetLocked() {
	old := eh.stats
	eh.stats = make(map[ErrorCategory]*categoryStats, len(categoryNames))
	for i := range categoryNames {
		category := ErrorCategory(i)
		fresh := &categoryStats{}
		if prev, ok := old[category]; ok {
			fresh.threshold, fresh.limited = prev.threshold, prev.limited
		}
		eh.stats[category] = fresh
	}
	eh.byFile = make(map[string]int)
}

func (eh *ErrorHandler) statsFor(category ErrorCategory) *categoryStats {
	s, ok := eh.stats[category]
	if !ok {
		s = &categoryStats{}
		eh.stats[category] = s
	}
	return s
}

// WithMaxRetries sets how many times a recoverable error is retried
func (eh *ErrorHandler) WithMaxRetries(maxRetries int) *ErrorHandler {
	eh.maxRetries = maxRetries
	return eh
}

// WithThreshold overrides the tolerated count for a category
func (eh *ErrorHandler) WithThreshold(category ErrorCategory, threshold int) *ErrorHandler {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	s := eh.statsFor(category)
	s.threshold, s.limited = threshold, true
	return eh
}

// messageCategories maps error text fragments to a category, checked in order
var messageCategories = []struct {
	category  ErrorCategory
	fragments []string
}{
	{ErrorCategoryStorage, []string{"connection", "timeout", "permission"}},
	{ErrorCategoryIngestion, []string{"parse", "decode", "read"}},
	{ErrorCategoryCritical, []string{"fatal", "panic"}},
}

// CategorizeError classifies err by sentinel first and by message second.
// Anything unrecognized is treated as a storage error.
func (eh *ErrorHandler) CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}

	category := categorizeSentinel(err)
	if category == ErrorCategoryNone {
		category = ErrorCategoryStorage
		msg := err.Error()
	match:
		for _, mc := range messageCategories {
			for _, fragment := range mc.fragments {
				if strings.Contains(msg, fragment) {
					category = mc.category
					break match
				}
			}
		}
	}

	if eh.logger != nil {
		eh.logger.Debug("Categorized error",
			zap.Error(err),
			zap.Stringer("category", category))
	}
	return category
}

func categorizeSentinel(err error) ErrorCategory {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryCritical
	case errors.Is(err, bronze.ErrEmptyFile):
		return ErrorCategoryIngestion
	case errors.Is(err, silver.ErrInvalidConfig), errors.Is(err, silver.ErrUnknownFunction):
		return ErrorCategoryTransformation
	case errors.Is(err, scd.ErrMissingKey), errors.Is(err, scd.ErrMissingSequence),
		errors.Is(err, scd.ErrVersionNotFound), errors.Is(err, scd.ErrInvalidConfig):
		return ErrorCategoryMerge
	default:
		return ErrorCategoryNone
	}
}

// HandleError records an error and decides what the caller does next
func (eh *ErrorHandler) HandleError(record ErrorRecord) Action {
	eh.RecordError(record)

	switch record.Category {
	case ErrorCategoryNone, ErrorCategoryWarning:
		return ActionContinue

	case ErrorCategoryIngestion:
		switch {
		case eh.ShouldRetry(record):
			return ActionRetry
		case eh.thresholdExceeded(ErrorCategoryIngestion):
			return ActionAbort
		default:
			return ActionSkipFile
		}

	case ErrorCategoryStorage:
		if !eh.ShouldRetry(record) {
			return ActionAbort
		}
		if eh.logger != nil {
			eh.logger.Warn("Retrying after storage error",
				zap.String("stage", record.Stage),
				zap.Int("attempt", record.RetryCount+1),
				zap.String("error", record.Message))
		}
		return ActionRetry

	default:
		if eh.logger != nil {
			eh.logger.Error("Refresh cannot continue",
				zap.Stringer("category", record.Category),
				zap.String("stage", record.Stage),
				zap.String("error", record.Message))
		}
		return ActionAbort
	}
}

// ShouldRetry reports whether the failed operation is worth another attempt
func (eh *ErrorHandler) ShouldRetry(record ErrorRecord) bool {
	if record.RetryCount >= eh.maxRetries {
		return false
	}
	if record.Category == ErrorCategoryStorage {
		return IsRetryableError(record.Error)
	}
	return record.Category == ErrorCategoryIngestion &&
		record.Recoverable &&
		!errors.Is(record.Error, bronze.ErrEmptyFile)
}

// RecordError counts the record, keeps it as a sample while there is room
// and logs it at a level matching its category
func (eh *ErrorHandler) RecordError(record ErrorRecord) {
	eh.mu.Lock()
	s := eh.statsFor(record.Category)
	s.count++
	if len(s.samples) < eh.sampleSize {
		s.samples = append(s.samples, record)
	}
	if record.File != "" {
		eh.byFile[record.File]++
	}
	eh.mu.Unlock()

	if eh.logger == nil {
		return
	}
	level := zap.ErrorLevel
	switch record.Category {
	case ErrorCategoryNone:
		level = zap.InfoLevel
	case ErrorCategoryWarning, ErrorCategoryIngestion:
		level = zap.WarnLevel
	}
	eh.logger.Log(level, "Refresh error",
		zap.Stringer("category", record.Category),
		zap.String("stage", record.Stage),
		zap.String("file", record.File),
		zap.String("key", record.Key),
		zap.String("error", record.Message),
		zap.Bool("recoverable", record.Recoverable),
		zap.Int("retryCount", record.RetryCount))
}

func (eh *ErrorHandler) thresholdExceeded(category ErrorCategory) bool {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	return eh.statsFor(category).exceeded()
}

// GetErrorSummary returns the non-zero error counts by category
func (eh *ErrorHandler) GetErrorSummary() map[ErrorCategory]int {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	summary := make(map[ErrorCategory]int)
	for category, s := range eh.stats {
		if s.count > 0 {
			summary[category] = s.count
		}
	}
	return summary
}

// GetErrorSamples returns a copy of the sampled records per category
func (eh *ErrorHandler) GetErrorSamples() map[ErrorCategory][]ErrorRecord {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	samples := make(map[ErrorCategory][]ErrorRecord)
	for category, s := range eh.stats {
		if len(s.samples) > 0 {
			samples[category] = append([]ErrorRecord(nil), s.samples...)
		}
	}
	return samples
}

// GetFileErrorCounts returns error counts by source file
func (eh *ErrorHandler) GetFileErrorCounts() map[string]int {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	counts := make(map[string]int, len(eh.byFile))
	for file, n := range eh.byFile {
		counts[file] = n
	}
	return counts
}

// IsErrorThresholdExceeded reports whether any category went over its threshold
func (eh *ErrorHandler) IsErrorThresholdExceeded() bool {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	for _, s := range eh.stats {
		if s.exceeded() {
			return true
		}
	}
	return false
}

// Reset clears counts and samples between scheduled refreshes. Thresholds
// are kept.
func (eh *ErrorHandler) Reset() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.resetLocked()
}

// retryableFragments mark transient driver and network failures
var retryableFragments = []string{"connection", "timeout", "temporary", "try again"}

// IsRetryableError reports whether err looks transient. Cancellation never is.
func IsRetryableError(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
