// Package byo deploys the VPN onto a server the user already owns: any
// Ubuntu host reachable over SSH. No cloud resources are created, so
// teardown only uninstalls the tunnel from the host.
package byo

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wgforge/wgforge/pkg/provider"
	"github.com/wgforge/wgforge/pkg/state"
	sshx "github.com/wgforge/wgforge/pkg/transports/ssh"
	"github.com/wgforge/wgforge/pkg/wireguard"
)

// Config configures the bring-your-own-server provider.
type Config struct {
	// Dial establishes SSH sessions; provider.DialSSH when unset.
	Dial provider.Dialer

	// Logger for pipeline logging.
	Logger zerolog.Logger
}

// Provider installs the tunnel on a user-supplied host.
type Provider struct {
	dial   provider.Dialer
	logger zerolog.Logger
}

// New creates the BYO provider.
func New(cfg Config) *Provider {
	dial := cfg.Dial
	if dial == nil {
		dial = provider.DialSSH
	}
	return &Provider{dial: dial, logger: cfg.Logger}
}

// Name returns the provider identifier.
func (p *Provider) Name() state.Provider {
	return state.ProviderBYO
}

// Steps returns the four-step pipeline: record the target, verify SSH
// reachability, install the tunnel, render the client configuration.
func (p *Provider) Steps(req provider.Request) ([]provider.Step, error) {
	if req.Host == "" || req.SSHUser == "" || req.SSHPrivateKey == "" {
		return nil, fmt.Errorf("host, SSH user, and SSH private key are required")
	}
	wgPort := wireguard.DefaultListenPort
	if req.WireGuardPort > 0 {
		wgPort = req.WireGuardPort
	}
	sshPort := req.SSHPort
	if sshPort == 0 {
		sshPort = 22
	}

	return []provider.Step{
		{
			StepSpec: provider.StepSpec{Name: "record-target", Message: "Preparing server details..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				rec.PublicIP = req.Host
				rec.SSHUser = req.SSHUser
				rec.SSHPort = sshPort
				rec.SSHPrivateKey = req.SSHPrivateKey
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "verify-ssh", Message: "Connecting via SSH..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				cfg := sshx.DefaultConfig(rec.PublicIP, rec.SSHUser, rec.SSHPrivateKey)
				cfg.Port = rec.SSHPort
				session, err := p.dial(ctx, cfg)
				if err != nil {
					return fmt.Errorf("failed to reach %s: %w", rec.PublicIP, err)
				}
				defer session.Close()
				if _, err := session.Execute(ctx, "true"); err != nil {
					return fmt.Errorf("host %s rejected command execution: %w", rec.PublicIP, err)
				}
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "install-wireguard", Message: "Installing WireGuard (this may take a minute)..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				return provider.InstallTunnel(ctx, p.dial, rec, wgPort)
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "render-client-config", Message: "Saving client configuration..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				return provider.RenderClientConfig(rec, wgPort)
			},
		},
	}, nil
}

// TeardownSteps uninstalls the tunnel from the host. The server itself is
// the user's and is left running; a host that is already unreachable is
// not an obstacle to clearing local state.
func (p *Provider) TeardownSteps() []provider.Step {
	return []provider.Step{
		{
			StepSpec: provider.StepSpec{Name: "uninstall-wireguard", Message: "Removing WireGuard from server..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				if rec.PublicIP == "" || rec.SSHPrivateKey == "" {
					return nil
				}
				cfg := sshx.DefaultConfig(rec.PublicIP, rec.SSHUser, rec.SSHPrivateKey)
				if rec.SSHPort > 0 {
					cfg.Port = rec.SSHPort
				}
				session, err := p.dial(ctx, cfg)
				if err != nil {
					// The host may be gone entirely; that is fine.
					p.logger.Warn().Err(err).Str("host", rec.PublicIP).
						Msg("could not reach server to uninstall tunnel")
					return nil
				}
				defer session.Close()
				if err := wireguard.Deprovision(ctx, session); err != nil {
					p.logger.Warn().Err(err).Str("host", rec.PublicIP).
						Msg("tunnel uninstall failed, continuing")
				}
				return nil
			},
		},
	}
}
