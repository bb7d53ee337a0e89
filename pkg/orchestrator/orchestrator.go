package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/wgforge/wgforge/pkg/events"
	"github.com/wgforge/wgforge/pkg/provider"
	"github.com/wgforge/wgforge/pkg/state"
	"github.com/wgforge/wgforge/pkg/telemetry"
)

// DefaultStepTimeout bounds a single pipeline step. Instance boot plus
// cloud-init can take several minutes; anything past this is treated as a
// hung provider call.
const DefaultStepTimeout = 10 * time.Minute

// Config configures the orchestrator.
type Config struct {
	// Store persists the deployment record. Required.
	Store state.Store

	// Bus receives progress events. Required.
	Bus *events.Bus

	// Providers maps a provider name to its backend. Required.
	Providers map[state.Provider]provider.Provider

	// StepTimeout bounds each pipeline step; DefaultStepTimeout when zero.
	StepTimeout time.Duration

	// Logger for operation logging. A zerolog.Nop() is used when unset.
	Logger *zerolog.Logger

	// Metrics records operation and step counters. Optional.
	Metrics *telemetry.Metrics

	// Tracer wraps operations and steps in spans. Optional.
	Tracer *telemetry.Tracer
}

// Orchestrator serializes deploy and destroy operations over the single
// deployment record. A mutex serializes operations within the process and
// the persisted status doubles as the cross-restart exclusion flag: an
// operation only starts from a non-active status and moves it to
// deploying/destroying before the first step runs.
type Orchestrator struct {
	store       state.Store
	bus         *events.Bus
	providers   map[state.Provider]provider.Provider
	stepTimeout time.Duration
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer
	validate    *validator.Validate

	mu sync.Mutex

	// now is replaceable in tests.
	now func() time.Time
}

// New creates an orchestrator from the given config.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	timeout := cfg.StepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Orchestrator{
		store:       cfg.Store,
		bus:         cfg.Bus,
		providers:   cfg.Providers,
		stepTimeout: timeout,
		logger:      logger,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		validate:    validator.New(),
		now:         time.Now,
	}, nil
}

// Subscribe registers a progress observer for subsequent operations.
func (o *Orchestrator) Subscribe() (<-chan events.Event, func()) {
	return o.bus.Subscribe()
}

// Get returns a copy of the current deployment record. A corrupt store
// degrades to the not-deployed record and reports a state error alongside
// it.
func (o *Orchestrator) Get() (*state.Record, error) {
	rec, err := o.store.Load()
	if err != nil {
		return rec.Clone(), NewStateError("failed to load deployment state", err)
	}
	return rec.Clone(), nil
}

// Deploy provisions a VPN server with the requested provider. It runs the
// provider's step pipeline in order, persisting the record after every step
// and publishing running/done events per step. On a step failure the record
// keeps every handle written so far and moves to failed; a subsequent Deploy
// with the same provider resumes over the retained handles.
func (o *Orchestrator) Deploy(ctx context.Context, req provider.Request) (err error) {
	if err := o.validate.Struct(req); err != nil {
		return NewValidationError("invalid deploy request", err)
	}
	if !req.Provider.Valid() {
		return NewValidationError(fmt.Sprintf("unknown provider %q", req.Provider), nil)
	}
	backend, ok := o.providers[req.Provider]
	if !ok {
		return NewValidationError(fmt.Sprintf("provider %q is not configured", req.Provider), nil)
	}

	ctx, span := o.tracer.StartDeploySpan(ctx, string(req.Provider), req.Region)
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	o.mu.Lock()
	defer o.mu.Unlock()

	rec, err := o.store.Load()
	if err != nil {
		return NewStateError("failed to load deployment state", err)
	}

	switch {
	case rec.Status.Active():
		return NewConflictError(fmt.Sprintf("a %s operation is already in progress", rec.Status))
	case rec.Status == state.StatusDeployed:
		return NewConflictError("a deployment already exists; destroy it first")
	case rec.Status == state.StatusFailed && rec.HasResources() && rec.Provider != req.Provider:
		return NewConflictError(fmt.Sprintf(
			"a failed %s deployment still holds resources; destroy it before deploying with %s",
			rec.Provider, req.Provider))
	case rec.Status == state.StatusFailed && rec.HasResources() && rec.Region != req.Region:
		// Resuming in another region would liveness-check the retained
		// handles against the wrong API, clear them, and orphan the old
		// region's resources.
		return NewConflictError(fmt.Sprintf(
			"a failed deployment still holds resources in %s; destroy it before deploying to %s",
			rec.Region, req.Region))
	}

	// Claim the record. Handles from a failed attempt with the same
	// provider stay in place so the steps can resume over them. The claim
	// is conditional on the status another process may have changed since
	// the load above.
	prev := rec.Status
	rec.Status = state.StatusDeploying
	rec.Provider = req.Provider
	rec.Region = req.Region
	rec.ErrorMessage = ""
	if err := o.store.Claim(rec, prev); err != nil {
		if errors.Is(err, state.ErrClaimConflict) {
			return NewConflictError("another process started an operation")
		}
		return NewStateError("failed to persist deployment start", err)
	}

	steps, err := backend.Steps(req)
	if err != nil {
		rec.Status = state.StatusFailed
		rec.ErrorMessage = err.Error()
		if saveErr := o.store.Save(rec); saveErr != nil {
			o.logger.Error().Err(saveErr).Msg("failed to persist failure state")
		}
		return NewValidationError("failed to build deployment pipeline", err)
	}

	o.logger.Info().
		Str("provider", string(req.Provider)).
		Str("region", req.Region).
		Int("steps", len(steps)).
		Msg("starting deployment")
	o.metrics.RecordDeployStarted(string(req.Provider))

	timer := telemetry.NewTimer()
	if err := o.runSteps(ctx, steps, rec); err != nil {
		o.metrics.RecordDeployCompleted(string(req.Provider), "failed", timer.Duration())
		return err
	}
	o.metrics.RecordDeployCompleted(string(req.Provider), "success", timer.Duration())

	now := o.now().UTC()
	rec.Status = state.StatusDeployed
	rec.DeployedAt = &now
	if req.AutoDestroyHours > 0 {
		deadline := now.Add(time.Duration(req.AutoDestroyHours) * time.Hour)
		rec.AutoDestroyAt = &deadline
	}
	if err := o.store.Save(rec); err != nil {
		return NewStateError("failed to persist deployed state", err)
	}

	o.logger.Info().
		Str("provider", string(req.Provider)).
		Str("public_ip", rec.PublicIP).
		Msg("deployment complete")
	return nil
}

// Destroy tears down the current deployment by walking the provider's
// teardown pipeline, which removes resources in reverse creation order and
// tolerates handles whose resources are already gone. On full success the
// record is reset to not-deployed; on a step failure it moves to failed
// with the surviving handles intact so Destroy can be retried.
func (o *Orchestrator) Destroy(ctx context.Context) (err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, err := o.store.Load()
	if err != nil {
		return NewStateError("failed to load deployment state", err)
	}

	if rec.Status.Active() {
		return NewConflictError(fmt.Sprintf("a %s operation is already in progress", rec.Status))
	}
	if rec.Status == state.StatusNotDeployed {
		return NewValidationError("nothing to destroy", nil)
	}
	backend, ok := o.providers[rec.Provider]
	if !ok {
		return NewStateError(fmt.Sprintf("record references unconfigured provider %q", rec.Provider), nil)
	}

	ctx, span := o.tracer.StartTeardownSpan(ctx, string(rec.Provider))
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	prev := rec.Status
	rec.Status = state.StatusDestroying
	rec.ErrorMessage = ""
	if err := o.store.Claim(rec, prev); err != nil {
		if errors.Is(err, state.ErrClaimConflict) {
			return NewConflictError("another process started an operation")
		}
		return NewStateError("failed to persist destroy start", err)
	}

	steps := backend.TeardownSteps()
	o.logger.Info().
		Str("provider", string(rec.Provider)).
		Int("steps", len(steps)).
		Msg("starting teardown")
	o.metrics.RecordTeardownStarted(string(rec.Provider))

	if err := o.runSteps(ctx, steps, rec); err != nil {
		o.metrics.RecordTeardownCompleted(string(rec.Provider), "failed")
		return err
	}
	o.metrics.RecordTeardownCompleted(string(rec.Provider), "success")

	if err := o.store.Reset(); err != nil {
		return NewStateError("failed to reset deployment state", err)
	}
	o.logger.Info().Str("provider", string(rec.Provider)).Msg("teardown complete")
	return nil
}

// Reset discards a failed record. It refuses when the record still holds
// resource handles: those must go through Destroy so infrastructure is not
// orphaned.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, err := o.store.Load()
	if err != nil {
		return NewStateError("failed to load deployment state", err)
	}

	if rec.Status != state.StatusFailed {
		return NewConflictError(fmt.Sprintf("cannot reset a %s deployment", rec.Status))
	}
	if rec.HasResources() {
		return NewConflictError("the failed deployment still holds resources; destroy it instead")
	}
	if err := o.store.Reset(); err != nil {
		return NewStateError("failed to reset deployment state", err)
	}
	return nil
}

// runSteps executes the pipeline one step at a time. The record is saved
// after every step so a crash never loses a confirmed resource handle. Each
// step gets its own timeout; step failures move the record to failed and
// keep everything written so far.
func (o *Orchestrator) runSteps(ctx context.Context, steps []provider.Step, rec *state.Record) error {
	total := len(steps)
	for i, step := range steps {
		num := i + 1
		o.bus.Publish(events.Event{
			Step:       num,
			TotalSteps: total,
			Message:    step.Message,
			Status:     events.StatusRunning,
		})
		o.logger.Debug().
			Int("step", num).
			Int("total", total).
			Str("name", step.Name).
			Msg("running pipeline step")

		stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
		stepCtx, span := o.tracer.StartStepSpan(stepCtx, step.Name)
		start := o.now()
		err := step.Run(stepCtx, rec)
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
		cancel()

		if err != nil {
			o.metrics.RecordStep(step.Name, "failed", o.now().Sub(start))
			rec.Status = state.StatusFailed
			rec.ErrorMessage = fmt.Sprintf("%s: %v", step.Name, err)
			if saveErr := o.store.Save(rec); saveErr != nil {
				o.logger.Error().Err(saveErr).Msg("failed to persist failure state")
			}
			o.bus.Publish(events.Event{
				Step:       num,
				TotalSteps: total,
				Message:    fmt.Sprintf("%s failed: %v", step.Message, err),
				Status:     events.StatusError,
			})
			o.logger.Error().
				Err(err).
				Int("step", num).
				Str("name", step.Name).
				Msg("pipeline step failed")
			return NewPartialFailure(step.Name, err)
		}

		if err := o.store.Save(rec); err != nil {
			return NewStateError(fmt.Sprintf("failed to persist state after step %s", step.Name), err)
		}
		o.metrics.RecordStep(step.Name, "success", o.now().Sub(start))
		o.bus.Publish(events.Event{
			Step:       num,
			TotalSteps: total,
			Message:    step.Message,
			Status:     events.StatusDone,
		})
		o.logger.Debug().
			Int("step", num).
			Str("name", step.Name).
			Dur("duration", o.now().Sub(start)).
			Msg("pipeline step complete")
	}
	return nil
}
