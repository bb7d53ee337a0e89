package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wgforge/wgforge/pkg/provider"
	"github.com/wgforge/wgforge/pkg/state"
)

// TeardownSteps returns the deletion pipeline: strict reverse of creation
// order, so nothing is deleted while something later-created still depends
// on it. Every step clears its handle only after the API confirms the
// resource is gone, and treats an already-missing resource as success.
func (p *Provider) TeardownSteps() []provider.Step {
	pl := &pipeline{p: p}

	teardown := func(name, message string, run func(ctx context.Context, api API, rec *state.Record) error) provider.Step {
		return provider.Step{
			StepSpec: provider.StepSpec{Name: name, Message: message},
			Run: func(ctx context.Context, rec *state.Record) error {
				api, err := pl.ensureAPI(ctx, rec.Region)
				if err != nil {
					return err
				}
				return run(ctx, api, rec)
			},
		}
	}

	return []provider.Step{
		teardown("disassociate-elastic-ip", "Detaching public IP...",
			func(ctx context.Context, api API, rec *state.Record) error {
				if rec.AssociationID == "" {
					return nil
				}
				if err := api.DisassociateAddress(ctx, rec.AssociationID); err != nil && !errors.Is(err, ErrNotFound) {
					return fmt.Errorf("failed to disassociate address: %w", err)
				}
				rec.AssociationID = ""
				return nil
			}),
		teardown("release-elastic-ip", "Releasing public IP...",
			func(ctx context.Context, api API, rec *state.Record) error {
				if rec.AllocationID == "" {
					return nil
				}
				if err := api.ReleaseAddress(ctx, rec.AllocationID); err != nil && !errors.Is(err, ErrNotFound) {
					return fmt.Errorf("failed to release address: %w", err)
				}
				rec.AllocationID = ""
				rec.PublicIP = ""
				return nil
			}),
		teardown("terminate-instance", "Terminating server...",
			func(ctx context.Context, api API, rec *state.Record) error {
				if rec.InstanceID == "" {
					return nil
				}
				if err := api.TerminateInstance(ctx, rec.InstanceID); err != nil && !errors.Is(err, ErrNotFound) {
					return fmt.Errorf("failed to terminate instance: %w", err)
				}
				rec.InstanceID = ""
				return nil
			}),
		teardown("delete-key-pair", "Deleting SSH key pair...",
			func(ctx context.Context, api API, rec *state.Record) error {
				if rec.KeyPairName == "" {
					return nil
				}
				if err := api.DeleteKeyPair(ctx, rec.KeyPairName); err != nil && !errors.Is(err, ErrNotFound) {
					return fmt.Errorf("failed to delete key pair: %w", err)
				}
				rec.KeyPairName = ""
				rec.SSHPrivateKey = ""
				return nil
			}),
		teardown("delete-security-group", "Deleting security group...",
			func(ctx context.Context, api API, rec *state.Record) error {
				if rec.SecurityGroupID == "" {
					return nil
				}
				// The group stays referenced until the terminated
				// instance's network interface is reaped, so retry.
				var lastErr error
				for attempt := 0; attempt < sgDeleteRetries; attempt++ {
					err := api.DeleteSecurityGroup(ctx, rec.SecurityGroupID)
					if err == nil || errors.Is(err, ErrNotFound) {
						rec.SecurityGroupID = ""
						return nil
					}
					lastErr = err
					p.logger.Debug().Err(err).Int("attempt", attempt+1).
						Msg("security group still in use, retrying")
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(sgDeleteRetryInterval):
					}
				}
				return fmt.Errorf("failed to delete security group: %w", lastErr)
			}),
		teardown("delete-subnet", "Deleting subnet...",
			func(ctx context.Context, api API, rec *state.Record) error {
				if rec.SubnetID == "" {
					return nil
				}
				if err := api.DeleteSubnet(ctx, rec.SubnetID); err != nil && !errors.Is(err, ErrNotFound) {
					return fmt.Errorf("failed to delete subnet: %w", err)
				}
				rec.SubnetID = ""
				return nil
			}),
		teardown("delete-route-table", "Deleting route table...",
			func(ctx context.Context, api API, rec *state.Record) error {
				if rec.RouteTableID == "" {
					return nil
				}
				if err := api.DeleteRouteTable(ctx, rec.RouteTableID); err != nil && !errors.Is(err, ErrNotFound) {
					return fmt.Errorf("failed to delete route table: %w", err)
				}
				rec.RouteTableID = ""
				return nil
			}),
		teardown("delete-internet-gateway", "Deleting internet gateway...",
			func(ctx context.Context, api API, rec *state.Record) error {
				if rec.InternetGatewayID == "" {
					return nil
				}
				if rec.VPCID != "" {
					if err := api.DetachInternetGateway(ctx, rec.InternetGatewayID, rec.VPCID); err != nil && !errors.Is(err, ErrNotFound) {
						return fmt.Errorf("failed to detach internet gateway: %w", err)
					}
				}
				if err := api.DeleteInternetGateway(ctx, rec.InternetGatewayID); err != nil && !errors.Is(err, ErrNotFound) {
					return fmt.Errorf("failed to delete internet gateway: %w", err)
				}
				rec.InternetGatewayID = ""
				return nil
			}),
		teardown("delete-vpc", "Deleting VPC...",
			func(ctx context.Context, api API, rec *state.Record) error {
				if rec.VPCID == "" {
					return nil
				}
				if err := api.DeleteVPC(ctx, rec.VPCID); err != nil && !errors.Is(err, ErrNotFound) {
					return fmt.Errorf("failed to delete VPC: %w", err)
				}
				rec.VPCID = ""
				return nil
			}),
	}
}
