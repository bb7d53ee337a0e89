package digitalocean

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wgforge/wgforge/pkg/provider"
	"github.com/wgforge/wgforge/pkg/state"
	sshx "github.com/wgforge/wgforge/pkg/transports/ssh"
	"github.com/wgforge/wgforge/pkg/wireguard"
)

const (
	// SSHUser is the login user on DigitalOcean Ubuntu images.
	SSHUser = "root"

	DefaultDropletSize = "s-1vcpu-1gb"

	dropletName  = "wgforge-server"
	sshKeyName   = "wgforge-key"
	firewallName = "wgforge-firewall"

	// activeWaitAttempts polls droplet status every activeWaitInterval
	// until it is active with a public address.
	activeWaitAttempts = 60
)

var activeWaitInterval = 5 * time.Second

// Config configures the DigitalOcean provider.
type Config struct {
	// NewAPI builds an API client from the stored token. Required.
	NewAPI func(ctx context.Context) (API, error)

	// Dial establishes SSH sessions; provider.DialSSH when unset.
	Dial provider.Dialer

	// Logger for pipeline logging.
	Logger zerolog.Logger
}

// Provider deploys on DigitalOcean droplets.
type Provider struct {
	newAPI func(ctx context.Context) (API, error)
	dial   provider.Dialer
	logger zerolog.Logger
}

// New creates the DigitalOcean provider.
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
	return state.ProviderDigitalOcean
}

type pipeline struct {
	p   *Provider
	api API
}

func (pl *pipeline) ensureAPI(ctx context.Context) (API, error) {
	if pl.api != nil {
		return pl.api, nil
	}
	api, err := pl.p.newAPI(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create DigitalOcean client: %w", err)
	}
	pl.api = api
	return api, nil
}

func (p *Provider) dropletSize(req provider.Request) string {
	if req.InstanceType != "" {
		return req.InstanceType
	}
	return DefaultDropletSize
}

// Steps returns the seven-step droplet pipeline. Steps reuse handles that
// still refer to live resources so a resumed deploy does not duplicate
// anything.
func (p *Provider) Steps(req provider.Request) ([]provider.Step, error) {
	pl := &pipeline{p: p}
	wgPort := wireguard.DefaultListenPort
	if req.WireGuardPort > 0 {
		wgPort = req.WireGuardPort
	}

	return []provider.Step{
		{
			StepSpec: provider.StepSpec{Name: "validate-token", Message: "Connecting to DigitalOcean..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx)
				if err != nil {
					return err
				}
				if err := api.ValidateToken(ctx); err != nil {
					return err
				}
				rec.SSHUser = SSHUser
				rec.SSHPort = 22
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "upload-ssh-key", Message: "Generating SSH keys..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx)
				if err != nil {
					return err
				}
				if rec.SSHKeyID != 0 && rec.SSHPrivateKey != "" {
					ok, err := api.SSHKeyExists(ctx, rec.SSHKeyID)
					if err != nil {
						return fmt.Errorf("failed to check SSH key %d: %w", rec.SSHKeyID, err)
					}
					if ok {
						return nil
					}
				}
				rec.SSHKeyID = 0
				keys, err := sshx.GenerateKeyPair(sshKeyName)
				if err != nil {
					return err
				}
				id, err := api.UploadSSHKey(ctx, sshKeyName, keys.PublicKey)
				if err != nil {
					return err
				}
				rec.SSHKeyID = id
				rec.SSHPrivateKey = keys.PrivateKeyPEM
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "create-droplet", Message: "Creating Droplet..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx)
				if err != nil {
					return err
				}
				if rec.DropletID != 0 {
					if _, err := api.GetDroplet(ctx, rec.DropletID); err == nil {
						return nil
					} else if !errors.Is(err, ErrNotFound) {
						return fmt.Errorf("failed to check droplet %d: %w", rec.DropletID, err)
					}
					rec.DropletID = 0
				}
				id, err := api.CreateDroplet(ctx, dropletName, req.Region, p.dropletSize(req), rec.SSHKeyID)
				if err != nil {
					return err
				}
				rec.DropletID = id
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "create-firewall", Message: "Creating firewall rules..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx)
				if err != nil {
					return err
				}
				if rec.FirewallID != "" {
					ok, err := api.FirewallExists(ctx, rec.FirewallID)
					if err != nil {
						return fmt.Errorf("failed to check firewall %s: %w", rec.FirewallID, err)
					}
					if ok {
						return nil
					}
					rec.FirewallID = ""
				}
				id, err := api.CreateFirewall(ctx, firewallName, rec.DropletID, wgPort)
				if err != nil {
					return err
				}
				rec.FirewallID = id
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "wait-droplet-active", Message: "Waiting for server to start..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx)
				if err != nil {
					return err
				}
				ip, err := waitForActive(ctx, api, rec.DropletID)
				if err != nil {
					return err
				}
				rec.PublicIP = ip
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "configure-wireguard", Message: "Configuring WireGuard (this may take a minute)..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				return provider.InstallTunnel(ctx, p.dial, rec, wgPort)
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "render-client-config", Message: "Generating client config..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				return provider.RenderClientConfig(rec, wgPort)
			},
		},
	}, nil
}

// waitForActive polls until the droplet is active and has a public IPv4.
func waitForActive(ctx context.Context, api API, dropletID uint64) (string, error) {
	for attempt := 0; attempt < activeWaitAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(activeWaitInterval):
		}

		d, err := api.GetDroplet(ctx, dropletID)
		if err != nil {
			return "", fmt.Errorf("failed to poll droplet: %w", err)
		}
		if d.Status == "active" && d.PublicIP != "" {
			return d.PublicIP, nil
		}
	}
	return "", fmt.Errorf("droplet %d did not become active in time", dropletID)
}

// TeardownSteps removes the firewall, then the droplet, then the uploaded
// SSH key. Resources that are already gone are treated as deleted.
func (p *Provider) TeardownSteps() []provider.Step {
	pl := &pipeline{p: p}

	return []provider.Step{
		{
			StepSpec: provider.StepSpec{Name: "delete-firewall", Message: "Deleting firewall..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				if rec.FirewallID == "" {
					return nil
				}
				api, err := pl.ensureAPI(ctx)
				if err != nil {
					return err
				}
				if err := api.DeleteFirewall(ctx, rec.FirewallID); err != nil && !errors.Is(err, ErrNotFound) {
					return fmt.Errorf("failed to delete firewall: %w", err)
				}
				rec.FirewallID = ""
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "delete-droplet", Message: "Destroying server..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				if rec.DropletID == 0 {
					return nil
				}
				api, err := pl.ensureAPI(ctx)
				if err != nil {
					return err
				}
				if err := api.DeleteDroplet(ctx, rec.DropletID); err != nil && !errors.Is(err, ErrNotFound) {
					return fmt.Errorf("failed to delete droplet: %w", err)
				}
				rec.DropletID = 0
				rec.PublicIP = ""
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "delete-ssh-key", Message: "Removing SSH key..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				if rec.SSHKeyID == 0 {
					return nil
				}
				api, err := pl.ensureAPI(ctx)
				if err != nil {
					return err
				}
				if err := api.DeleteSSHKey(ctx, rec.SSHKeyID); err != nil && !errors.Is(err, ErrNotFound) {
					return fmt.Errorf("failed to delete SSH key: %w", err)
				}
				rec.SSHKeyID = 0
				rec.SSHPrivateKey = ""
				return nil
			},
		},
	}
}
