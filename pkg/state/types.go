// Package state persists the single deployment record that describes the
// current (or absent) VPN infrastructure. Every resource handle is written
// to the record as soon as the resource is confirmed created, which is what
// makes teardown possible after a crash.
package state

import (
	"time"
)

// Status is the lifecycle state of the deployment record.
type Status string

const (
	StatusNotDeployed Status = "not_deployed"
	StatusDeploying   Status = "deploying"
	StatusDeployed    Status = "deployed"
	StatusDestroying  Status = "destroying"
	StatusFailed      Status = "failed"
)

// Active reports whether an operation currently holds the record. A new
// deploy or destroy must be rejected while the status is active.
func (s Status) Active() bool {
	return s == StatusDeploying || s == StatusDestroying
}

// Provider identifies which backend owns the deployed resources.
type Provider string

const (
	ProviderAWS          Provider = "aws"
	ProviderDigitalOcean Provider = "digitalocean"
	ProviderBYO          Provider = "byo"
)

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAWS, ProviderDigitalOcean, ProviderBYO:
		return true
	}
	return false
}

// Record is the single source of truth for the current deployment. One
// record exists at a time; it is mutated field-by-field during deploy and
// destroy, and reset only on successful teardown.
//
// Each resource handle field is set immediately after the provider confirms
// the resource exists (write-after-confirm), and cleared immediately after
// the resource is confirmed deleted.
type Record struct {
	Status   Status   `json:"status"`
	Provider Provider `json:"provider,omitempty"`
	Region   string   `json:"region,omitempty"`

	// AWS resource handles, in creation order.
	VPCID             string `json:"vpc_id,omitempty"`
	SubnetID          string `json:"subnet_id,omitempty"`
	InternetGatewayID string `json:"igw_id,omitempty"`
	RouteTableID      string `json:"route_table_id,omitempty"`
	SecurityGroupID   string `json:"security_group_id,omitempty"`
	KeyPairName       string `json:"key_pair_name,omitempty"`
	InstanceID        string `json:"instance_id,omitempty"`
	AllocationID      string `json:"allocation_id,omitempty"`
	AssociationID     string `json:"association_id,omitempty"`

	// DigitalOcean resource handles.
	SSHKeyID   uint64 `json:"do_ssh_key_id,omitempty"`
	DropletID  uint64 `json:"droplet_id,omitempty"`
	FirewallID string `json:"do_firewall_id,omitempty"`

	// Shared connection material.
	PublicIP      string `json:"public_ip,omitempty"`
	SSHUser       string `json:"ssh_user,omitempty"`
	SSHPrivateKey string `json:"ssh_private_key,omitempty"`
	SSHPort       int    `json:"ssh_port,omitempty"`

	// WireGuard key material. The server's private key is generated on the
	// remote host and never appears here.
	ServerPublicKey  string `json:"server_public_key,omitempty"`
	ClientPrivateKey string `json:"client_private_key,omitempty"`
	ClientPublicKey  string `json:"client_public_key,omitempty"`

	// ClientConfig is the fully rendered tunnel configuration for the
	// local client.
	ClientConfig string `json:"client_config,omitempty"`

	DeployedAt    *time.Time `json:"deployed_at,omitempty"`
	AutoDestroyAt *time.Time `json:"auto_destroy_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// NewRecord returns the empty not-deployed record.
func NewRecord() *Record {
	return &Record{Status: StatusNotDeployed}
}

// Empty reports whether the record is equal to the initial not-deployed
// record, i.e. no handles, key material, or metadata remain.
func (r *Record) Empty() bool {
	return r.Status == StatusNotDeployed &&
		r.Provider == "" &&
		r.Region == "" &&
		!r.HasResources() &&
		r.ClientConfig == "" &&
		r.ServerPublicKey == "" &&
		r.ClientPrivateKey == "" &&
		r.ClientPublicKey == "" &&
		r.DeployedAt == nil &&
		r.AutoDestroyAt == nil &&
		r.ErrorMessage == ""
}

// HasResources reports whether any provider resource handle is still set.
// A failed record with no resources left can be discarded with Reset; one
// with resources must go through Destroy.
func (r *Record) HasResources() bool {
	return r.VPCID != "" ||
		r.SubnetID != "" ||
		r.InternetGatewayID != "" ||
		r.RouteTableID != "" ||
		r.SecurityGroupID != "" ||
		r.KeyPairName != "" ||
		r.InstanceID != "" ||
		r.AllocationID != "" ||
		r.AssociationID != "" ||
		r.SSHKeyID != 0 ||
		r.DropletID != 0 ||
		r.FirewallID != ""
}

// Clone returns a deep copy of the record. Time pointers are duplicated so
// callers cannot mutate the stored record through a returned copy.
func (r *Record) Clone() *Record {
	out := *r
	if r.DeployedAt != nil {
		t := *r.DeployedAt
		out.DeployedAt = &t
	}
	if r.AutoDestroyAt != nil {
		t := *r.AutoDestroyAt
		out.AutoDestroyAt = &t
	}
	return &out
}
