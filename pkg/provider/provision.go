package provider

import (
	"context"
	"fmt"

	"github.com/wgforge/wgforge/pkg/state"
	sshx "github.com/wgforge/wgforge/pkg/transports/ssh"
	"github.com/wgforge/wgforge/pkg/wireguard"
)

// InstallTunnel connects to the host in the record and installs the tunnel:
// the client key pair is generated locally if missing, the server key pair
// is generated on the host, and only the server's public key comes back
// into the record. By the time this runs the record carries a reachable
// host and SSH credentials regardless of which backend created them.
func InstallTunnel(ctx context.Context, dial Dialer, rec *state.Record, wgPort int) error {
	if rec.ClientPrivateKey == "" {
		keys, err := wireguard.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("failed to generate client keys: %w", err)
		}
		rec.ClientPrivateKey = keys.PrivateKey
		rec.ClientPublicKey = keys.PublicKey
	}

	cfg := sshx.DefaultConfig(rec.PublicIP, rec.SSHUser, rec.SSHPrivateKey)
	if rec.SSHPort > 0 {
		cfg.Port = rec.SSHPort
	}
	session, err := dial(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", rec.PublicIP, err)
	}
	defer session.Close()

	serverPublicKey, err := wireguard.Provision(ctx, session, wgPort, rec.ClientPublicKey)
	if err != nil {
		return err
	}
	rec.ServerPublicKey = serverPublicKey
	return nil
}

// RenderClientConfig renders the local tunnel configuration from the
// record's key material and endpoint.
func RenderClientConfig(rec *state.Record, wgPort int) error {
	if rec.ClientPrivateKey == "" || rec.ServerPublicKey == "" || rec.PublicIP == "" {
		return fmt.Errorf("record is missing key material or endpoint")
	}
	rec.ClientConfig = wireguard.RenderClientConfig(
		rec.ClientPrivateKey, rec.ServerPublicKey, rec.PublicIP, wgPort)
	return nil
}

// ProvisionTunnel installs the tunnel and renders the client configuration
// in one go, for pipelines that fold both into a single step.
func ProvisionTunnel(ctx context.Context, dial Dialer, rec *state.Record, wgPort int) error {
	if err := InstallTunnel(ctx, dial, rec, wgPort); err != nil {
		return err
	}
	return RenderClientConfig(rec, wgPort)
}
