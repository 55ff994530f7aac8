package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingRefresher struct {
	mu   sync.Mutex
	runs []RunContext
	err  error
}

func (r *recordingRefresher) Refresh(_ context.Context, run RunContext) (*RefreshResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	if r.err != nil {
		return nil, r.err
	}
	result := NewRefreshResult(run)
	result.Complete()
	return result, nil
}

func (r *recordingRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func TestSchedulerRunOnce(t *testing.T) {
	refresher := &recordingRefresher{}
	at := time.Date(2024, 6, 1, 16, 0, 0, 0, time.FixedZone("SGT", 8*3600))

	s := NewScheduler(refresher, "analyst@company.com", time.Minute, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return at })

	result, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, refresher.runs, 1)
	assert.Equal(t, "analyst@company.com", refresher.runs[0].Identity)
	assert.Equal(t, at.UTC(), refresher.runs[0].RefreshTime)
	assert.Equal(t, time.UTC, refresher.runs[0].RefreshTime.Location())

	last, lastErr := s.LastResult()
	assert.Same(t, result, last)
	assert.NoError(t, lastErr)
	assert.Equal(t, 1, s.Runs())
}

func TestSchedulerRunOnceKeepsError(t *testing.T) {
	refresher := &recordingRefresher{err: errors.New("sink down")}
	s := NewScheduler(refresher, "analyst@company.com", time.Minute, nil)

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)

	_, lastErr := s.LastResult()
	assert.EqualError(t, lastErr, "sink down")
}

func TestSchedulerRejectsInvalidInterval(t *testing.T) {
	s := NewScheduler(&recordingRefresher{}, "analyst@company.com", 0, nil)
	assert.Error(t, s.Start(context.Background()))
}

func TestSchedulerStartRunsUntilCancelled(t *testing.T) {
	refresher := &recordingRefresher{}
	s := NewScheduler(refresher, "analyst@company.com", time.Hour, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	// The first refresh runs as soon as the scheduler starts
	require.Eventually(t, func() bool { return refresher.count() >= 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}
