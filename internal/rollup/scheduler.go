package rollup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/listenlab/artistrank/pkg/metrics"
)

// Runner is anything that can execute one rollup cycle. The Aggregator is
// the production implementation.
type Runner interface {
	RunCycle(ctx context.Context) (*CycleResult, error)
}

// SnapshotSink records completed cycle results for audit. Implementations
// must tolerate being called with failed cycles (result nil, err non-nil).
type SnapshotSink interface {
	Save(ctx context.Context, result *CycleResult, runErr error) error
}

// multiSink fans one cycle outcome out to several sinks. Every sink sees the
// outcome even when an earlier one fails.
type multiSink []SnapshotSink

func (s multiSink) Save(ctx context.Context, result *CycleResult, runErr error) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Save(ctx, result, runErr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sinks combines sinks into one SnapshotSink. Nil entries are dropped.
func Sinks(sinks ...SnapshotSink) SnapshotSink {
	var combined multiSink
	for _, sink := range sinks {
		if sink != nil {
			combined = append(combined, sink)
		}
	}
	if len(combined) == 1 {
		return combined[0]
	}
	return combined
}

// Scheduler fires rollup cycles on a fixed interval. A tick that arrives
// while a cycle is still running is skipped, never queued.
type Scheduler struct {
	runner   Runner
	sink     SnapshotSink
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a Scheduler. sink and m may be nil.
func NewScheduler(runner Runner, sink SnapshotSink, interval time.Duration, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		runner:   runner,
		sink:     sink,
		interval: interval,
		metrics:  m,
		logger:   slog.Default().With("component", "rollup-scheduler"),
	}
}

// Run blocks until ctx is cancelled, firing a cycle every interval. The
// first cycle fires after one full interval so the opening bucket has a
// chance to close.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("rollup scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rollup scheduler stopping")
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

// fire runs one cycle unless another is already in flight.
func (s *Scheduler) fire(ctx context.Context) {
	if !s.tryAcquire() {
		s.logger.Warn("skipping rollup tick, previous cycle still running")
		if s.metrics != nil {
			s.metrics.RollupCyclesTotal.WithLabelValues("skipped").Inc()
		}
		return
	}
	defer s.release()

	result, err := s.runner.RunCycle(ctx)
	if err != nil {
		s.logger.Error("rollup cycle failed", "error", err)
	}
	if s.sink != nil {
		if saveErr := s.sink.Save(ctx, result, err); saveErr != nil {
			s.logger.Error("saving rollup snapshot failed", "error", saveErr)
		}
	}
}

func (s *Scheduler) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
