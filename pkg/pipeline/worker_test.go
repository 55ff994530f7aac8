package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/David-Botos/data-cleansing/pkg/bronze"
	"github.com/David-Botos/data-cleansing/pkg/model"
)

// scriptedIngester fails each file a set number of times before succeeding
type scriptedIngester struct {
	mu       sync.Mutex
	failures map[string]int
	err      error
	attempts map[string]int
}

func newScriptedIngester(err error) *scriptedIngester {
	return &scriptedIngester{
		failures: make(map[string]int),
		attempts: make(map[string]int),
		err:      err,
	}
}

func (s *scriptedIngester) IngestFile(_ context.Context, path string) (*bronze.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[path]++
	if s.failures[path] > 0 {
		s.failures[path]--
		return nil, s.err
	}
	return &bronze.Batch{
		File:     path,
		Encoding: bronze.EncodingUTF8,
		Records:  []*model.Record{model.RecordFromPairs("customer_id", path)},
		Warnings: []bronze.ParseWarning{{Row: 3, Message: "row padded"}},
	}, nil
}

func TestWorkerRetriesTransientFailures(t *testing.T) {
	ingester := newScriptedIngester(errors.New("temporary read failure"))
	ingester.failures["a.csv"] = 2

	worker := NewWorker(1, ingester, NewErrorHandler(zaptest.NewLogger(t)), zaptest.NewLogger(t)).
		WithRetryDelay(0)

	result := worker.ProcessJob(context.Background(), NewIngestJob("a.csv", 0))

	require.True(t, result.Success)
	assert.Equal(t, 2, result.RetryCount)
	assert.Equal(t, 3, ingester.attempts["a.csv"])
	assert.Equal(t, 1, result.Rows())
	// Two failed attempts plus the malformed row warning
	assert.Len(t, result.Errors, 3)
	assert.Equal(t, ErrorCategoryWarning, result.Errors[2].Category)
	assert.Equal(t, WorkerStateWorking, worker.GetState())
	assert.Nil(t, worker.GetCurrentJob())
}

func TestWorkerGivesUpAfterMaxRetries(t *testing.T) {
	ingester := newScriptedIngester(errors.New("temporary read failure"))
	ingester.failures["a.csv"] = 10

	worker := NewWorker(1, ingester, NewErrorHandler(zaptest.NewLogger(t)), zaptest.NewLogger(t)).
		WithRetryDelay(0)

	result := worker.ProcessJob(context.Background(), NewIngestJob("a.csv", 0).WithMaxRetries(1))

	assert.False(t, result.Success)
	assert.Equal(t, 2, ingester.attempts["a.csv"])
	assert.Equal(t, WorkerStateError, worker.GetState())
}

func TestWorkerDoesNotRetryEmptyFiles(t *testing.T) {
	ingester := newScriptedIngester(fmt.Errorf("failed to parse a.csv: %w", bronze.ErrEmptyFile))
	ingester.failures["a.csv"] = 1

	worker := NewWorker(1, ingester, NewErrorHandler(zaptest.NewLogger(t)), zaptest.NewLogger(t))
	result := worker.ProcessJob(context.Background(), NewIngestJob("a.csv", 0))

	assert.False(t, result.Success)
	assert.Equal(t, 1, ingester.attempts["a.csv"])
	require.Len(t, result.Errors, 1)
	assert.Equal(t, ErrorCategoryIngestion, result.Errors[0].Category)
}

func TestRunWorkerPoolKeepsJobOrder(t *testing.T) {
	ingester := newScriptedIngester(errors.New("temporary read failure"))
	handler := NewErrorHandler(zaptest.NewLogger(t))
	logger := zaptest.NewLogger(t)

	files := []string{"a.csv", "b.csv", "c.csv", "d.csv", "e.csv"}
	jobs := make([]IngestJob, len(files))
	for i, f := range files {
		jobs[i] = NewIngestJob(f, i)
	}

	results := runWorkerPool(context.Background(), jobs, 3, func(id int) *Worker {
		return NewWorker(id, ingester, handler, logger).WithRetryDelay(0)
	})

	require.Len(t, results, len(files))
	for i, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, files[i], r.File)
		assert.True(t, r.Success)
	}
}

func TestSleepContext(t *testing.T) {
	assert.True(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepContext(ctx, time.Hour))
	assert.False(t, sleepContext(ctx, 0))
}

func TestIngestJobRetry(t *testing.T) {
	job := NewIngestJob("/data/in/customers_1.csv", 4).WithMaxRetries(1)

	assert.Equal(t, "customers_1.csv", job.Name())
	assert.True(t, job.IsRetryable())

	retry := job.Retry()
	assert.Equal(t, job.ID, retry.ID)
	assert.Equal(t, 1, retry.RetryCount)
	assert.False(t, retry.IsRetryable())
	assert.Equal(t, 0, job.RetryCount)
}
