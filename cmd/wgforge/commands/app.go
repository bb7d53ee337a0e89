package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wgforge/wgforge/pkg/credentials"
	"github.com/wgforge/wgforge/pkg/events"
	"github.com/wgforge/wgforge/pkg/orchestrator"
	"github.com/wgforge/wgforge/pkg/provider"
	"github.com/wgforge/wgforge/pkg/providers/aws"
	"github.com/wgforge/wgforge/pkg/providers/byo"
	"github.com/wgforge/wgforge/pkg/providers/digitalocean"
	"github.com/wgforge/wgforge/pkg/scheduler"
	"github.com/wgforge/wgforge/pkg/settings"
	"github.com/wgforge/wgforge/pkg/state"
	"github.com/wgforge/wgforge/pkg/telemetry"
)

// app bundles the wired-up components every command needs.
type app struct {
	dataDir  string
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	store    state.Store
	bus      *events.Bus
	orch     *orchestrator.Orchestrator
	settings *settings.Store
	creds    *credentials.Store
}

// newApp builds the component graph from the persistent flags and runs
// startup crash recovery on the state store.
func newApp(ctx context.Context) (*app, error) {
	dir := dataDir
	if dir == "" {
		var err error
		dir, err = state.DefaultDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data directory: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	tel, err := newTelemetry()
	if err != nil {
		return nil, err
	}
	logger := tel.Logger.Zerolog()

	store, err := state.NewSQLiteStore(ctx, state.Config{
		Path: filepath.Join(dir, "state.db"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	if result, err := state.Recover(store); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to recover state: %w", err)
	} else if result.Changed {
		logger.Warn().Str("note", result.Note).Msg("Recovered interrupted operation")
	}

	settingsStore, err := settings.NewStore(dir, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	credsStore, err := credentials.OpenDefault(dir)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := events.NewBus()

	awsProvider, err := aws.New(aws.Config{
		NewAPI: awsFactory(credsStore),
		Logger: logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	doProvider, err := digitalocean.New(digitalocean.Config{
		NewAPI: doFactory(credsStore),
		Logger: logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Store:     store,
		Bus:       bus,
		Providers: map[state.Provider]provider.Provider{
			state.ProviderAWS:          awsProvider,
			state.ProviderDigitalOcean: doProvider,
			state.ProviderBYO:          byo.New(byo.Config{Logger: logger}),
		},
		Logger:  &logger,
		Metrics: tel.Metrics,
		Tracer:  tel.Tracer,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if metricsAddr != "" {
		if err := tel.Metrics.StartMetricsServer(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start metrics server")
		}
	}

	a := &app{
		dataDir:  dir,
		tel:      tel,
		logger:   logger,
		store:    store,
		bus:      bus,
		orch:     orch,
		settings: settingsStore,
		creds:    credsStore,
	}

	// The auto-destroy deadline lives in the record, not in a process; a
	// deadline that elapsed while nothing was running is settled here
	// before the command proceeds.
	if err := a.settleAutoDestroy(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// settleAutoDestroy runs one scheduler evaluation, firing the destroy when
// the persisted deadline has already passed.
func (a *app) settleAutoDestroy(ctx context.Context) error {
	sched, err := scheduler.New(scheduler.Config{
		Orchestrator: a.orch,
		Logger:       a.logger,
		Metrics:      a.tel.Metrics,
	})
	if err != nil {
		return err
	}

	rec, err := a.orch.Get()
	if err != nil || rec.AutoDestroyAt == nil {
		return nil
	}

	stop := a.streamProgress()
	defer stop()
	sched.EvaluateNow(ctx)
	return nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close state store")
	}
	_ = a.tel.Shutdown(context.Background())
}

// newTelemetry maps the persistent flags onto a telemetry configuration.
func newTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsAddr
	}
	return telemetry.NewTelemetry(cfg)
}

// awsFactory builds region-bound EC2 clients from the stored credentials.
func awsFactory(creds *credentials.Store) aws.Factory {
	return func(ctx context.Context, region string) (aws.API, error) {
		stored, err := creds.LoadAWS()
		if err != nil {
			if errors.Is(err, credentials.ErrNotFound) {
				return nil, errors.New("no AWS credentials stored; run 'wgforge credentials set aws'")
			}
			return nil, err
		}
		return aws.NewSDKFactory(stored.AccessKeyID, stored.SecretAccessKey)(ctx, region)
	}
}

// doFactory builds DigitalOcean clients from the stored API token.
func doFactory(creds *credentials.Store) func(ctx context.Context) (digitalocean.API, error) {
	return func(ctx context.Context) (digitalocean.API, error) {
		stored, err := creds.LoadDigitalOcean()
		if err != nil {
			if errors.Is(err, credentials.ErrNotFound) {
				return nil, errors.New("no DigitalOcean credentials stored; run 'wgforge credentials set digitalocean'")
			}
			return nil, err
		}
		return digitalocean.NewClient(stored.APIToken), nil
	}
}

// streamProgress prints pipeline events until the returned stop function
// is called.
func (a *app) streamProgress() func() {
	ch, unsubscribe := a.bus.Subscribe()
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer close(done)
		for ev := range ch {
			printEvent(ev)
		}
	}()

	return func() {
		once.Do(func() {
			unsubscribe()
			<-done
		})
	}
}

func printEvent(ev events.Event) {
	if jsonOutput {
		fmt.Printf(`{"step":%d,"total_steps":%d,"message":%q,"status":%q}`+"\n",
			ev.Step, ev.TotalSteps, ev.Message, ev.Status)
		return
	}
	switch ev.Status {
	case events.StatusRunning:
		fmt.Printf("[%d/%d] %s\n", ev.Step, ev.TotalSteps, ev.Message)
	case events.StatusDone:
		fmt.Printf("[%d/%d] %s done\n", ev.Step, ev.TotalSteps, ev.Message)
	case events.StatusError:
		fmt.Printf("[%d/%d] %s FAILED\n", ev.Step, ev.TotalSteps, ev.Message)
	}
}
