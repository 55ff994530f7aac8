package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Refresher runs one refresh for a run context
type Refresher interface {
	Refresh(ctx context.Context, run RunContext) (*RefreshResult, error)
}

// Scheduler runs refreshes for one identity on a fixed interval
type Scheduler struct {
	refresher Refresher
	identity  string
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.Mutex
	lastResult *RefreshResult
	lastErr    error
	runs       int
}

// NewScheduler creates a scheduler refreshing as identity every interval
func NewScheduler(refresher Refresher, identity string, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		refresher: refresher,
		identity:  identity,
		interval:  interval,
		logger:    logger.Named("scheduler"),
		now:       time.Now,
	}
}

// WithClock overrides the clock used to stamp each run
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// RunOnce performs a single refresh stamped with the current time
func (s *Scheduler) RunOnce(ctx context.Context) (*RefreshResult, error) {
	run := NewRunContext(s.identity, s.now().UTC())
	result, err := s.refresher.Refresh(ctx, run)

	s.mu.Lock()
	s.lastResult = result
	s.lastErr = err
	s.runs++
	s.mu.Unlock()

	return result, err
}

// LastResult returns the outcome of the most recent refresh
func (s *Scheduler) LastResult() (*RefreshResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult, s.lastErr
}

// Runs returns how many refreshes have been attempted
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Start runs a refresh immediately and then every interval until ctx is done.
// Overlapping ticks are skipped while a refresh is still running.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid refresh interval: %s", s.interval)
	}

	scheduler := gocron.NewScheduler(time.UTC)

	s.logger.Info("Starting refresh scheduler",
		zap.Duration("interval", s.interval),
		zap.String("identity", s.identity))

	_, err := scheduler.Every(s.interval).SingletonMode().Do(func() {
		result, err := s.RunOnce(ctx)
		switch {
		case errors.Is(err, ErrRefreshInProgress):
			s.logger.Warn("Skipping scheduled refresh, previous refresh still running")
		case err != nil:
			s.logger.Error("Scheduled refresh failed", zap.Error(err))
		default:
			s.logger.Info("Scheduled refresh finished",
				zap.String("runID", result.RunID.String()),
				zap.Duration("duration", result.Duration))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}

	scheduler.StartAsync()

	<-ctx.Done()

	scheduler.Stop()
	s.logger.Info("Refresh scheduler stopped", zap.Int("runs", s.Runs()))
	return nil
}
