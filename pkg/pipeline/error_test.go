package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/David-Botos/data-cleansing/pkg/bronze"
	"github.com/David-Botos/data-cleansing/pkg/scd"
	"github.com/David-Botos/data-cleansing/pkg/silver"
)

func TestCategorizeError(t *testing.T) {
	eh := NewErrorHandler(zaptest.NewLogger(t))

	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrorCategoryNone},
		{"empty file", fmt.Errorf("failed to parse a.csv: %w", bronze.ErrEmptyFile), ErrorCategoryIngestion},
		{"unreadable file", errors.New("failed to read source file a.csv"), ErrorCategoryIngestion},
		{"unknown transformation", fmt.Errorf("step 2: %w", silver.ErrUnknownFunction), ErrorCategoryTransformation},
		{"missing key", fmt.Errorf("row 3: %w", scd.ErrMissingKey), ErrorCategoryMerge},
		{"lost version", fmt.Errorf("close C001: %w", scd.ErrVersionNotFound), ErrorCategoryMerge},
		{"connection", errors.New("connection refused"), ErrorCategoryStorage},
		{"cancelled", fmt.Errorf("insert: %w", context.Canceled), ErrorCategoryCritical},
		{"panic", errors.New("worker panic"), ErrorCategoryCritical},
		{"unknown", errors.New("relation does not exist"), ErrorCategoryStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eh.CategorizeError(tt.err))
		})
	}
}

func TestHandleErrorActions(t *testing.T) {
	eh := NewErrorHandler(zaptest.NewLogger(t)).WithMaxRetries(2)

	warning := NewErrorRecord(errors.New("row padded"), ErrorCategoryWarning)
	assert.Equal(t, ActionContinue, eh.HandleError(warning))

	transient := NewErrorRecord(errors.New("connection reset"), ErrorCategoryStorage)
	assert.Equal(t, ActionRetry, eh.HandleError(transient))
	assert.Equal(t, ActionAbort, eh.HandleError(transient.WithRetry(2)))

	empty := NewErrorRecord(bronze.ErrEmptyFile, ErrorCategoryIngestion).WithFile("a.csv")
	assert.Equal(t, ActionSkipFile, eh.HandleError(empty))

	unreadable := NewErrorRecord(errors.New("failed to read"), ErrorCategoryIngestion)
	assert.Equal(t, ActionRetry, eh.HandleError(unreadable))

	merge := NewErrorRecord(scd.ErrVersionNotFound, ErrorCategoryMerge)
	assert.Equal(t, ActionAbort, eh.HandleError(merge))

	summary := eh.GetErrorSummary()
	assert.Equal(t, 1, summary[ErrorCategoryWarning])
	assert.Equal(t, 2, summary[ErrorCategoryStorage])
	assert.Equal(t, 2, summary[ErrorCategoryIngestion])
	assert.Equal(t, 1, summary[ErrorCategoryMerge])
	assert.Equal(t, 1, eh.GetFileErrorCounts()["a.csv"])
	assert.True(t, eh.IsErrorThresholdExceeded())

	eh.Reset()
	assert.Empty(t, eh.GetErrorSummary())
	assert.False(t, eh.IsErrorThresholdExceeded())
}

func TestIngestionThresholdAborts(t *testing.T) {
	eh := NewErrorHandler(zaptest.NewLogger(t)).WithThreshold(ErrorCategoryIngestion, 1)
	empty := NewErrorRecord(bronze.ErrEmptyFile, ErrorCategoryIngestion)

	assert.Equal(t, ActionSkipFile, eh.HandleError(empty))
	assert.Equal(t, ActionAbort, eh.HandleError(empty))
}

func TestErrorSamplesAreCapped(t *testing.T) {
	eh := NewErrorHandler(nil)
	for i := 0; i < 10; i++ {
		eh.RecordError(NewErrorRecord(fmt.Errorf("warning %d", i), ErrorCategoryWarning))
	}

	samples := eh.GetErrorSamples()[ErrorCategoryWarning]
	assert.Len(t, samples, 5)
	assert.Equal(t, "warning 0", samples[0].Message)
}

func TestErrorRecordString(t *testing.T) {
	record := NewErrorRecord(errors.New("boom"), ErrorCategoryStorage).
		WithStage("sink").
		WithFile("a.csv").
		WithKey("C001").
		WithRetry(1)

	assert.Equal(t, "[Storage] Stage: sink File: a.csv Key: C001 Error: boom (Retry: 1)", record.String())
	assert.True(t, record.Recoverable)
	assert.False(t, NewErrorRecord(errors.New("x"), ErrorCategoryMerge).Recoverable)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.True(t, IsRetryableError(errors.New("Connection reset by peer")))
	assert.True(t, IsRetryableError(errors.New("resource temporarily unavailable, try again")))
	assert.False(t, IsRetryableError(errors.New("syntax error at or near")))
}

func TestCategoryAndActionStrings(t *testing.T) {
	assert.Equal(t, "Merge", ErrorCategoryMerge.String())
	assert.Equal(t, "Unknown(42)", ErrorCategory(42).String())
	assert.Equal(t, "SkipFile", ActionSkipFile.String())
	assert.Equal(t, "Unknown(9)", Action(9).String())
}
