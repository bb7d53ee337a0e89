// Package scheduler runs the auto-destroy timer: a coarse polling loop
// that tears the deployment down once its persisted deadline elapses. The
// deadline survives restarts because it lives in the deployment record,
// not in the process.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wgforge/wgforge/pkg/orchestrator"
	"github.com/wgforge/wgforge/pkg/state"
	"github.com/wgforge/wgforge/pkg/telemetry"
)

// DefaultInterval is the evaluation period. Sub-minute precision is not a
// goal; the deadline is hours out.
const DefaultInterval = 30 * time.Second

// Destroyer is the subset of the orchestrator the scheduler drives.
type Destroyer interface {
	Get() (*state.Record, error)
	Destroy(ctx context.Context) error
}

// Config configures the scheduler.
type Config struct {
	// Orchestrator performs the teardown. Required.
	Orchestrator Destroyer

	// Interval between evaluations; DefaultInterval when zero.
	Interval time.Duration

	// Logger for scheduler logging.
	Logger zerolog.Logger

	// Metrics records auto-destroy firings. Optional.
	Metrics *telemetry.Metrics
}

// Scheduler polls the deployment record and invokes Destroy when the
// auto-destroy deadline has passed. If another operation holds the record
// at that moment the scheduler defers and re-checks on the next tick; the
// orchestrator's own exclusion guarantees the destroy fires at most once.
type Scheduler struct {
	orch     Destroyer
	interval time.Duration
	logger   zerolog.Logger
	metrics  *telemetry.Metrics

	// now is replaceable in tests.
	now func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New creates a scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		orch:     cfg.Orchestrator,
		interval: interval,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}, nil
}

// Start launches the polling loop. It returns immediately; Stop shuts the
// loop down. Starting an already started scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})

	go s.run(runCtx)
}

// EvaluateNow runs a single evaluation immediately, outside the polling
// loop. Commands call it at startup so a deadline that elapsed while no
// process was alive still fires instead of waiting for a long-lived loop.
func (s *Scheduler) EvaluateNow(ctx context.Context) {
	s.evaluate(ctx)
}

// Stop halts the polling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-stopped
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluate(ctx)
		}
	}
}

// evaluate fires the destroy if the deadline has passed and the record is
// in a state the destroy can proceed from. A conflict means a manual
// operation is in flight; the next tick re-checks.
func (s *Scheduler) evaluate(ctx context.Context) {
	rec, err := s.orch.Get()
	if err != nil {
		s.logger.Error().Err(err).Msg("auto-destroy check failed to load state")
		return
	}

	if rec.AutoDestroyAt == nil || rec.Status != state.StatusDeployed {
		return
	}
	if s.now().Before(*rec.AutoDestroyAt) {
		return
	}

	s.logger.Info().Time("deadline", *rec.AutoDestroyAt).
		Msg("auto-destroy deadline reached, destroying deployment")

	if err := s.orch.Destroy(ctx); err != nil {
		if orchestrator.IsConflict(err) {
			s.logger.Info().Msg("another operation is in flight, deferring auto-destroy")
			s.metrics.RecordAutoDestroy("deferred")
			return
		}
		s.logger.Error().Err(err).Msg("auto-destroy failed")
		s.metrics.RecordAutoDestroy("failed")
		return
	}
	s.metrics.RecordAutoDestroy("success")
}
