// Package digitalocean deploys the VPN server on a DigitalOcean Droplet:
// an uploaded SSH key, one Ubuntu droplet, and a cloud firewall restricting
// inbound traffic to SSH and the tunnel port.
package digitalocean

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an API call targets a resource that no
// longer exists. Teardown treats it as success.
var ErrNotFound = errors.New("resource not found")

// Droplet is the subset of droplet state the pipeline cares about.
type Droplet struct {
	ID       uint64
	Status   string
	PublicIP string
}

// API is the DigitalOcean surface the pipeline needs.
type API interface {
	// ValidateToken checks the API token against the account endpoint.
	ValidateToken(ctx context.Context) error

	// UploadSSHKey registers a public key and returns its numeric ID.
	UploadSSHKey(ctx context.Context, name, publicKey string) (uint64, error)
	DeleteSSHKey(ctx context.Context, id uint64) error
	SSHKeyExists(ctx context.Context, id uint64) (bool, error)

	// CreateDroplet launches an Ubuntu droplet with the given SSH key and
	// returns its ID.
	CreateDroplet(ctx context.Context, name, region, size string, sshKeyID uint64) (uint64, error)
	GetDroplet(ctx context.Context, id uint64) (*Droplet, error)
	DeleteDroplet(ctx context.Context, id uint64) error

	// CreateFirewall creates a firewall allowing SSH and the tunnel port
	// inbound, everything outbound, attached to the droplet.
	CreateFirewall(ctx context.Context, name string, dropletID uint64, wireguardPort int) (string, error)
	DeleteFirewall(ctx context.Context, id string) error
	FirewallExists(ctx context.Context, id string) (bool, error)
}
