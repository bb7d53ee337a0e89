package provider

import (
	"context"

	sshx "github.com/wgforge/wgforge/pkg/transports/ssh"
)

// Session is an established connection to the VPN host. It carries the
// command and upload surface the provisioning steps need.
type Session interface {
	Execute(ctx context.Context, command string) (string, error)
	Upload(ctx context.Context, remotePath string, content []byte) error
	Close() error
}

// Dialer establishes a Session to a host. Pipelines take a Dialer so tests
// can substitute an in-memory host.
type Dialer func(ctx context.Context, cfg *sshx.Config) (Session, error)

// DialSSH is the production Dialer, backed by the SSH transport.
func DialSSH(ctx context.Context, cfg *sshx.Config) (Session, error) {
	return sshx.Dial(ctx, cfg)
}
