// Package aws deploys the VPN server on EC2: a dedicated VPC with a public
// subnet, an internet gateway and default route, a locked-down security
// group, an EC2-generated key pair, one instance, and an Elastic IP. The
// EC2 API surface is expressed as a narrow interface so the pipeline can
// be driven by any client implementation.
package aws

import (
	"context"
	"errors"
)

// ErrNotFound is returned by API calls that target a resource which no
// longer exists. Teardown steps treat it as success: the goal state is
// "gone" either way.
var ErrNotFound = errors.New("resource not found")

// ResourceKind identifies an EC2 resource type for existence checks.
type ResourceKind string

const (
	ResourceVPC             ResourceKind = "vpc"
	ResourceSubnet          ResourceKind = "subnet"
	ResourceInternetGateway ResourceKind = "internet-gateway"
	ResourceRouteTable      ResourceKind = "route-table"
	ResourceSecurityGroup   ResourceKind = "security-group"
	ResourceKeyPair         ResourceKind = "key-pair"
	ResourceInstance        ResourceKind = "instance"
	ResourceAddress         ResourceKind = "address"
)

// LaunchInput carries the parameters for launching the VPN instance.
type LaunchInput struct {
	AMIID           string
	InstanceType    string
	SubnetID        string
	SecurityGroupID string
	KeyPairName     string
}

// EIP is the result of allocating and attaching an Elastic IP.
type EIP struct {
	AllocationID  string
	AssociationID string
	PublicIP      string
}

// API is the EC2 surface the pipeline needs. Create calls return the new
// resource's handle; delete calls return ErrNotFound (possibly wrapped)
// when the resource is already gone. WaitInstanceRunning and
// TerminateInstance block until the instance reaches its target state.
type API interface {
	CreateVPC(ctx context.Context) (string, error)
	CreateSubnet(ctx context.Context, vpcID string) (string, error)
	CreateInternetGateway(ctx context.Context, vpcID string) (string, error)
	CreateRouteTable(ctx context.Context, vpcID, igwID, subnetID string) (string, error)
	CreateSecurityGroup(ctx context.Context, vpcID string, wireguardPort int) (string, error)

	// CreateKeyPair generates the pair EC2-side and returns the name plus
	// the one-time private key material.
	CreateKeyPair(ctx context.Context) (name, privateKeyPEM string, err error)

	// LookupUbuntuAMI resolves the current Ubuntu LTS image for the region.
	LookupUbuntuAMI(ctx context.Context) (string, error)

	LaunchInstance(ctx context.Context, in LaunchInput) (string, error)
	WaitInstanceRunning(ctx context.Context, instanceID string) error
	AllocateAndAssociateEIP(ctx context.Context, instanceID string) (EIP, error)

	// ResourceExists reports whether the handle still refers to a live
	// resource; used to make resumed deploys idempotent.
	ResourceExists(ctx context.Context, kind ResourceKind, id string) (bool, error)

	DisassociateAddress(ctx context.Context, associationID string) error
	ReleaseAddress(ctx context.Context, allocationID string) error
	TerminateInstance(ctx context.Context, instanceID string) error
	DeleteKeyPair(ctx context.Context, name string) error
	DeleteSecurityGroup(ctx context.Context, id string) error
	DeleteSubnet(ctx context.Context, id string) error
	DeleteRouteTable(ctx context.Context, id string) error
	DetachInternetGateway(ctx context.Context, igwID, vpcID string) error
	DeleteInternetGateway(ctx context.Context, igwID string) error
	DeleteVPC(ctx context.Context, id string) error
}

// Factory builds an API client bound to a region. Credentials come from
// the credential store at construction time.
type Factory func(ctx context.Context, region string) (API, error)
