package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wgforge/wgforge/pkg/provider"
	"github.com/wgforge/wgforge/pkg/state"
	"github.com/wgforge/wgforge/pkg/wireguard"
)

const (
	// SSHUser is the login user on Ubuntu AMIs.
	SSHUser = "ubuntu"

	DefaultInstanceType = "t2.micro"

	// sgDeleteRetries covers the window where the security group is still
	// referenced by a terminating instance's ENI.
	sgDeleteRetries = 10
)

var sgDeleteRetryInterval = 5 * time.Second

// Config configures the AWS provider.
type Config struct {
	// NewAPI builds a region-bound EC2 client. Required.
	NewAPI Factory

	// Dial establishes SSH sessions; provider.DialSSH when unset.
	Dial provider.Dialer

	// Logger for pipeline logging.
	Logger zerolog.Logger
}

// Provider deploys on EC2.
type Provider struct {
	newAPI Factory
	dial   provider.Dialer
	logger zerolog.Logger
}

// New creates the AWS provider.
func New(cfg Config) (*Provider, error) {
	if cfg.NewAPI == nil {
		return nil, fmt.Errorf("API factory is required")
	}
	dial := cfg.Dial
	if dial == nil {
		dial = provider.DialSSH
	}
	return &Provider{
		newAPI: cfg.NewAPI,
		dial:   dial,
		logger: cfg.Logger,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() state.Provider {
	return state.ProviderAWS
}

// pipeline holds per-operation state shared between steps: the lazily
// constructed region-bound client.
type pipeline struct {
	p   *Provider
	api API
}

func (pl *pipeline) ensureAPI(ctx context.Context, region string) (API, error) {
	if pl.api != nil {
		return pl.api, nil
	}
	api, err := pl.p.newAPI(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to create EC2 client: %w", err)
	}
	pl.api = api
	return api, nil
}

// reuseOrClear reports whether an existing handle still refers to a live
// resource. A stale handle is cleared so the step recreates the resource.
func reuseOrClear(ctx context.Context, api API, kind ResourceKind, handle *string) (bool, error) {
	if *handle == "" {
		return false, nil
	}
	ok, err := api.ResourceExists(ctx, kind, *handle)
	if err != nil {
		return false, fmt.Errorf("failed to check %s %s: %w", kind, *handle, err)
	}
	if !ok {
		*handle = ""
	}
	return ok, nil
}

func (p *Provider) wireguardPort(req provider.Request) int {
	if req.WireGuardPort > 0 {
		return req.WireGuardPort
	}
	return wireguard.DefaultListenPort
}

func (p *Provider) instanceType(req provider.Request) string {
	if req.InstanceType != "" {
		return req.InstanceType
	}
	return DefaultInstanceType
}
