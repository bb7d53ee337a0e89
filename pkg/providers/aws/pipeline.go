package aws

import (
	"context"
	"fmt"

	"github.com/wgforge/wgforge/pkg/provider"
	"github.com/wgforge/wgforge/pkg/state"
)

// Steps returns the nine-step EC2 provisioning pipeline. Every step is
// idempotent: when the record already carries a handle the step verifies
// the resource is still live and moves on, so a deploy resumed after a
// failure does not duplicate infrastructure.
func (p *Provider) Steps(req provider.Request) ([]provider.Step, error) {
	pl := &pipeline{p: p}
	region := req.Region
	wgPort := p.wireguardPort(req)

	return []provider.Step{
		{
			StepSpec: provider.StepSpec{Name: "create-vpc", Message: "Creating VPC..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx, region)
				if err != nil {
					return err
				}
				if ok, err := reuseOrClear(ctx, api, ResourceVPC, &rec.VPCID); err != nil || ok {
					return err
				}
				id, err := api.CreateVPC(ctx)
				if err != nil {
					return fmt.Errorf("failed to create VPC: %w", err)
				}
				rec.VPCID = id
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "create-subnet", Message: "Creating subnet..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx, region)
				if err != nil {
					return err
				}
				if ok, err := reuseOrClear(ctx, api, ResourceSubnet, &rec.SubnetID); err != nil || ok {
					return err
				}
				id, err := api.CreateSubnet(ctx, rec.VPCID)
				if err != nil {
					return fmt.Errorf("failed to create subnet: %w", err)
				}
				rec.SubnetID = id
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "create-internet-gateway", Message: "Creating internet gateway..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx, region)
				if err != nil {
					return err
				}
				if ok, err := reuseOrClear(ctx, api, ResourceInternetGateway, &rec.InternetGatewayID); err != nil || ok {
					return err
				}
				id, err := api.CreateInternetGateway(ctx, rec.VPCID)
				if err != nil {
					return fmt.Errorf("failed to create internet gateway: %w", err)
				}
				rec.InternetGatewayID = id
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "create-route-table", Message: "Configuring routing..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx, region)
				if err != nil {
					return err
				}
				if ok, err := reuseOrClear(ctx, api, ResourceRouteTable, &rec.RouteTableID); err != nil || ok {
					return err
				}
				id, err := api.CreateRouteTable(ctx, rec.VPCID, rec.InternetGatewayID, rec.SubnetID)
				if err != nil {
					return fmt.Errorf("failed to create route table: %w", err)
				}
				rec.RouteTableID = id
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "create-security-group", Message: "Creating security group..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx, region)
				if err != nil {
					return err
				}
				if ok, err := reuseOrClear(ctx, api, ResourceSecurityGroup, &rec.SecurityGroupID); err != nil || ok {
					return err
				}
				id, err := api.CreateSecurityGroup(ctx, rec.VPCID, wgPort)
				if err != nil {
					return fmt.Errorf("failed to create security group: %w", err)
				}
				rec.SecurityGroupID = id
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "create-key-pair", Message: "Generating SSH key pair..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx, region)
				if err != nil {
					return err
				}
				// The private key is only handed out at creation, so a
				// surviving key pair is reusable only if the key material
				// survived with it.
				if rec.KeyPairName != "" && rec.SSHPrivateKey != "" {
					ok, err := api.ResourceExists(ctx, ResourceKeyPair, rec.KeyPairName)
					if err != nil {
						return fmt.Errorf("failed to check key pair %s: %w", rec.KeyPairName, err)
					}
					if ok {
						return nil
					}
				}
				rec.KeyPairName = ""
				name, privateKey, err := api.CreateKeyPair(ctx)
				if err != nil {
					return fmt.Errorf("failed to create key pair: %w", err)
				}
				rec.KeyPairName = name
				rec.SSHPrivateKey = privateKey
				rec.SSHUser = SSHUser
				rec.SSHPort = 22
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "launch-instance", Message: "Launching server..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx, region)
				if err != nil {
					return err
				}
				if ok, err := reuseOrClear(ctx, api, ResourceInstance, &rec.InstanceID); err != nil || ok {
					return err
				}
				ami, err := api.LookupUbuntuAMI(ctx)
				if err != nil {
					return fmt.Errorf("failed to find Ubuntu AMI: %w", err)
				}
				id, err := api.LaunchInstance(ctx, LaunchInput{
					AMIID:           ami,
					InstanceType:    p.instanceType(req),
					SubnetID:        rec.SubnetID,
					SecurityGroupID: rec.SecurityGroupID,
					KeyPairName:     rec.KeyPairName,
				})
				if err != nil {
					return fmt.Errorf("failed to launch instance: %w", err)
				}
				rec.InstanceID = id
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "allocate-elastic-ip", Message: "Assigning public IP..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx, region)
				if err != nil {
					return err
				}
				if err := api.WaitInstanceRunning(ctx, rec.InstanceID); err != nil {
					return fmt.Errorf("instance never reached running state: %w", err)
				}
				if rec.AllocationID != "" && rec.PublicIP != "" {
					ok, err := api.ResourceExists(ctx, ResourceAddress, rec.AllocationID)
					if err != nil {
						return fmt.Errorf("failed to check address %s: %w", rec.AllocationID, err)
					}
					if ok {
						return nil
					}
					rec.AllocationID = ""
					rec.AssociationID = ""
					rec.PublicIP = ""
				}
				eip, err := api.AllocateAndAssociateEIP(ctx, rec.InstanceID)
				if err != nil {
					return fmt.Errorf("failed to attach elastic IP: %w", err)
				}
				rec.AllocationID = eip.AllocationID
				rec.AssociationID = eip.AssociationID
				rec.PublicIP = eip.PublicIP
				return nil
			},
		},
		{
			StepSpec: provider.StepSpec{Name: "provision-wireguard", Message: "Installing WireGuard..."},
			Run: func(ctx context.Context, rec *state.Record) error {
				return provider.ProvisionTunnel(ctx, p.dial, rec, wgPort)
			},
		},
	}, nil
}
