package aws

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

const (
	vpcCIDR    = "10.0.0.0/16"
	subnetCIDR = "10.0.1.0/24"

	// Canonical's official AWS account ID, same in all regions.
	canonicalOwner = "099720109477"
	ubuntuSSMParam = "/aws/service/canonical/ubuntu/server/22.04/stable/current/amd64/hvm/ebs-gp2/ami-id"
	ubuntuNameGlob = "ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-*"

	instanceWaitTimeout = 5 * time.Minute
)

// userData enables IP forwarding at boot; WireGuard itself is installed
// over SSH once the instance is reachable.
const userData = `#!/bin/bash
set -e
exec > /var/log/user-data.log 2>&1
apt-get update -y
echo 'net.ipv4.ip_forward=1' > /etc/sysctl.d/99-vpn.conf
echo 'net.ipv6.conf.all.disable_ipv6=1' >> /etc/sysctl.d/99-vpn.conf
sysctl -p /etc/sysctl.d/99-vpn.conf
touch /tmp/user-data-complete
`

// EC2Client implements API on the AWS SDK.
type EC2Client struct {
	ec2    *ec2.Client
	ssm    *ssm.Client
	region string
}

// NewSDKFactory returns a Factory that builds region-bound EC2 clients
// using static credentials.
func NewSDKFactory(accessKeyID, secretAccessKey string) Factory {
	return func(ctx context.Context, region string) (API, error) {
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(
				awscreds.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build AWS config: %w", err)
		}
		return &EC2Client{
			ec2:    ec2.NewFromConfig(cfg),
			ssm:    ssm.NewFromConfig(cfg),
			region: region,
		}, nil
	}
}

// CreateVPC creates the dedicated VPC with DNS support enabled.
func (c *EC2Client) CreateVPC(ctx context.Context) (string, error) {
	out, err := c.ec2.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: awssdk.String(vpcCIDR),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create VPC: %w", err)
	}
	vpcID := awssdk.ToString(out.Vpc.VpcId)

	for _, in := range []*ec2.ModifyVpcAttributeInput{
		{VpcId: awssdk.String(vpcID), EnableDnsSupport: &ec2types.AttributeBooleanValue{Value: awssdk.Bool(true)}},
		{VpcId: awssdk.String(vpcID), EnableDnsHostnames: &ec2types.AttributeBooleanValue{Value: awssdk.Bool(true)}},
	} {
		if _, err := c.ec2.ModifyVpcAttribute(ctx, in); err != nil {
			return "", fmt.Errorf("failed to modify VPC attribute: %w", err)
		}
	}

	if err := c.tag(ctx, vpcID, "wgforge-vpc"); err != nil {
		return "", err
	}
	return vpcID, nil
}

// CreateSubnet creates the public subnet in the region's first AZ.
func (c *EC2Client) CreateSubnet(ctx context.Context, vpcID string) (string, error) {
	out, err := c.ec2.CreateSubnet(ctx, &ec2.CreateSubnetInput{
		VpcId:            awssdk.String(vpcID),
		CidrBlock:        awssdk.String(subnetCIDR),
		AvailabilityZone: awssdk.String(c.region + "a"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create subnet: %w", err)
	}
	subnetID := awssdk.ToString(out.Subnet.SubnetId)

	_, err = c.ec2.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
		SubnetId:            awssdk.String(subnetID),
		MapPublicIpOnLaunch: &ec2types.AttributeBooleanValue{Value: awssdk.Bool(true)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to enable public IP on subnet: %w", err)
	}

	if err := c.tag(ctx, subnetID, "wgforge-subnet"); err != nil {
		return "", err
	}
	return subnetID, nil
}

// CreateInternetGateway creates the gateway and attaches it to the VPC.
func (c *EC2Client) CreateInternetGateway(ctx context.Context, vpcID string) (string, error) {
	out, err := c.ec2.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{})
	if err != nil {
		return "", fmt.Errorf("failed to create internet gateway: %w", err)
	}
	igwID := awssdk.ToString(out.InternetGateway.InternetGatewayId)

	_, err = c.ec2.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: awssdk.String(igwID),
		VpcId:             awssdk.String(vpcID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to attach internet gateway: %w", err)
	}

	if err := c.tag(ctx, igwID, "wgforge-igw"); err != nil {
		return "", err
	}
	return igwID, nil
}

// CreateRouteTable creates the table, adds the default route through the
// gateway, and associates the subnet.
func (c *EC2Client) CreateRouteTable(ctx context.Context, vpcID, igwID, subnetID string) (string, error) {
	out, err := c.ec2.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
		VpcId: awssdk.String(vpcID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create route table: %w", err)
	}
	rtID := awssdk.ToString(out.RouteTable.RouteTableId)

	_, err = c.ec2.CreateRoute(ctx, &ec2.CreateRouteInput{
		RouteTableId:         awssdk.String(rtID),
		DestinationCidrBlock: awssdk.String("0.0.0.0/0"),
		GatewayId:            awssdk.String(igwID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create default route: %w", err)
	}

	_, err = c.ec2.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: awssdk.String(rtID),
		SubnetId:     awssdk.String(subnetID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to associate route table: %w", err)
	}

	if err := c.tag(ctx, rtID, "wgforge-rt"); err != nil {
		return "", err
	}
	return rtID, nil
}

// CreateSecurityGroup creates the group with SSH and WireGuard ingress.
func (c *EC2Client) CreateSecurityGroup(ctx context.Context, vpcID string, wireguardPort int) (string, error) {
	out, err := c.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   awssdk.String("wgforge-sg-" + shortID()),
		Description: awssdk.String("wgforge VPN server - SSH + WireGuard"),
		VpcId:       awssdk.String(vpcID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create security group: %w", err)
	}
	sgID := awssdk.ToString(out.GroupId)

	_, err = c.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: awssdk.String(sgID),
		IpPermissions: []ec2types.IpPermission{
			{
				IpProtocol: awssdk.String("tcp"),
				FromPort:   awssdk.Int32(22),
				ToPort:     awssdk.Int32(22),
				IpRanges: []ec2types.IpRange{
					{CidrIp: awssdk.String("0.0.0.0/0"), Description: awssdk.String("SSH access")},
				},
			},
			{
				IpProtocol: awssdk.String("udp"),
				FromPort:   awssdk.Int32(int32(wireguardPort)),
				ToPort:     awssdk.Int32(int32(wireguardPort)),
				IpRanges: []ec2types.IpRange{
					{CidrIp: awssdk.String("0.0.0.0/0"), Description: awssdk.String("WireGuard VPN")},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to add ingress rules: %w", err)
	}

	if err := c.tag(ctx, sgID, "wgforge-sg"); err != nil {
		return "", err
	}
	return sgID, nil
}

// CreateKeyPair generates the key EC2-side and returns the one-time
// private key material.
func (c *EC2Client) CreateKeyPair(ctx context.Context) (string, string, error) {
	name := "wgforge-key-" + shortID()
	out, err := c.ec2.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName: awssdk.String(name),
		KeyType: ec2types.KeyTypeRsa,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create key pair: %w", err)
	}
	material := awssdk.ToString(out.KeyMaterial)
	if material == "" {
		return "", "", errors.New("key pair created but no key material returned")
	}
	return name, material, nil
}

// LookupUbuntuAMI resolves the latest Ubuntu 22.04 LTS image, preferring
// the public SSM parameter and falling back to DescribeImages.
func (c *EC2Client) LookupUbuntuAMI(ctx context.Context) (string, error) {
	out, err := c.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name: awssdk.String(ubuntuSSMParam),
	})
	if err == nil && out.Parameter != nil && awssdk.ToString(out.Parameter.Value) != "" {
		return awssdk.ToString(out.Parameter.Value), nil
	}

	images, err := c.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{canonicalOwner},
		Filters: []ec2types.Filter{
			{Name: awssdk.String("name"), Values: []string{ubuntuNameGlob}},
			{Name: awssdk.String("state"), Values: []string{"available"}},
			{Name: awssdk.String("architecture"), Values: []string{"x86_64"}},
			{Name: awssdk.String("root-device-type"), Values: []string{"ebs"}},
			{Name: awssdk.String("virtualization-type"), Values: []string{"hvm"}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe Ubuntu images: %w", err)
	}
	if len(images.Images) == 0 {
		return "", errors.New("no Ubuntu 22.04 AMIs found in this region")
	}

	candidates := images.Images
	sort.Slice(candidates, func(i, j int) bool {
		return awssdk.ToString(candidates[i].CreationDate) > awssdk.ToString(candidates[j].CreationDate)
	})
	return awssdk.ToString(candidates[0].ImageId), nil
}

// LaunchInstance launches the VPN instance.
func (c *EC2Client) LaunchInstance(ctx context.Context, in LaunchInput) (string, error) {
	out, err := c.ec2.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:          awssdk.String(in.AMIID),
		InstanceType:     ec2types.InstanceType(in.InstanceType),
		MinCount:         awssdk.Int32(1),
		MaxCount:         awssdk.Int32(1),
		SubnetId:         awssdk.String(in.SubnetID),
		SecurityGroupIds: []string{in.SecurityGroupID},
		KeyName:          awssdk.String(in.KeyPairName),
		UserData:         awssdk.String(base64.StdEncoding.EncodeToString([]byte(userData))),
		BlockDeviceMappings: []ec2types.BlockDeviceMapping{
			{
				DeviceName: awssdk.String("/dev/sda1"),
				Ebs: &ec2types.EbsBlockDevice{
					VolumeType:          ec2types.VolumeTypeGp3,
					VolumeSize:          awssdk.Int32(20),
					DeleteOnTermination: awssdk.Bool(true),
					Encrypted:           awssdk.Bool(true),
				},
			},
		},
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags:         managedTags("wgforge-vpn-server"),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to launch instance: %w", err)
	}
	if len(out.Instances) == 0 {
		return "", errors.New("instance launched but no ID returned")
	}
	return awssdk.ToString(out.Instances[0].InstanceId), nil
}

// WaitInstanceRunning blocks until the instance reaches the running state.
func (c *EC2Client) WaitInstanceRunning(ctx context.Context, instanceID string) error {
	waiter := ec2.NewInstanceRunningWaiter(c.ec2)
	err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, instanceWaitTimeout)
	if err != nil {
		return fmt.Errorf("instance %s did not reach running state: %w", instanceID, err)
	}
	return nil
}

// AllocateAndAssociateEIP allocates an Elastic IP and attaches it.
func (c *EC2Client) AllocateAndAssociateEIP(ctx context.Context, instanceID string) (EIP, error) {
	alloc, err := c.ec2.AllocateAddress(ctx, &ec2.AllocateAddressInput{
		Domain: ec2types.DomainTypeVpc,
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeElasticIp,
				Tags:         managedTags("wgforge-eip"),
			},
		},
	})
	if err != nil {
		return EIP{}, fmt.Errorf("failed to allocate Elastic IP: %w", err)
	}

	assoc, err := c.ec2.AssociateAddress(ctx, &ec2.AssociateAddressInput{
		AllocationId: alloc.AllocationId,
		InstanceId:   awssdk.String(instanceID),
	})
	if err != nil {
		return EIP{}, fmt.Errorf("failed to associate Elastic IP: %w", err)
	}

	return EIP{
		AllocationID:  awssdk.ToString(alloc.AllocationId),
		AssociationID: awssdk.ToString(assoc.AssociationId),
		PublicIP:      awssdk.ToString(alloc.PublicIp),
	}, nil
}

// ResourceExists reports whether a handle still refers to a live resource.
func (c *EC2Client) ResourceExists(ctx context.Context, kind ResourceKind, id string) (bool, error) {
	var err error
	switch kind {
	case ResourceVPC:
		_, err = c.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{id}})
	case ResourceSubnet:
		_, err = c.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{id}})
	case ResourceInternetGateway:
		_, err = c.ec2.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{InternetGatewayIds: []string{id}})
	case ResourceRouteTable:
		_, err = c.ec2.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{RouteTableIds: []string{id}})
	case ResourceSecurityGroup:
		_, err = c.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{id}})
	case ResourceKeyPair:
		_, err = c.ec2.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{KeyNames: []string{id}})
	case ResourceInstance:
		return c.instanceLive(ctx, id)
	case ResourceAddress:
		_, err = c.ec2.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{AllocationIds: []string{id}})
	default:
		return false, fmt.Errorf("unknown resource kind %q", kind)
	}

	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to describe %s %s: %w", kind, id, err)
	}
	return true, nil
}

// instanceLive treats terminated and shutting-down instances as gone.
func (c *EC2Client) instanceLive(ctx context.Context, instanceID string) (bool, error) {
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if inst.State == nil {
				continue
			}
			switch inst.State.Name {
			case ec2types.InstanceStateNameTerminated, ec2types.InstanceStateNameShuttingDown:
			default:
				return true, nil
			}
		}
	}
	return false, nil
}

// DisassociateAddress detaches the Elastic IP.
func (c *EC2Client) DisassociateAddress(ctx context.Context, associationID string) error {
	_, err := c.ec2.DisassociateAddress(ctx, &ec2.DisassociateAddressInput{
		AssociationId: awssdk.String(associationID),
	})
	return wrapDelete("disassociate address", err)
}

// ReleaseAddress releases the Elastic IP allocation.
func (c *EC2Client) ReleaseAddress(ctx context.Context, allocationID string) error {
	_, err := c.ec2.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{
		AllocationId: awssdk.String(allocationID),
	})
	return wrapDelete("release address", err)
}

// TerminateInstance terminates the instance and waits until it is gone.
func (c *EC2Client) TerminateInstance(ctx context.Context, instanceID string) error {
	_, err := c.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return wrapDelete("terminate instance", err)
	}

	waiter := ec2.NewInstanceTerminatedWaiter(c.ec2)
	err = waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, instanceWaitTimeout)
	if err != nil {
		return fmt.Errorf("instance %s did not terminate: %w", instanceID, err)
	}
	return nil
}

// DeleteKeyPair removes the key pair.
func (c *EC2Client) DeleteKeyPair(ctx context.Context, name string) error {
	_, err := c.ec2.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
		KeyName: awssdk.String(name),
	})
	return wrapDelete("delete key pair", err)
}

// DeleteSecurityGroup removes the security group.
func (c *EC2Client) DeleteSecurityGroup(ctx context.Context, id string) error {
	_, err := c.ec2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: awssdk.String(id),
	})
	return wrapDelete("delete security group", err)
}

// DeleteSubnet removes the subnet.
func (c *EC2Client) DeleteSubnet(ctx context.Context, id string) error {
	_, err := c.ec2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{
		SubnetId: awssdk.String(id),
	})
	return wrapDelete("delete subnet", err)
}

// DeleteRouteTable removes the route table.
func (c *EC2Client) DeleteRouteTable(ctx context.Context, id string) error {
	_, err := c.ec2.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{
		RouteTableId: awssdk.String(id),
	})
	return wrapDelete("delete route table", err)
}

// DetachInternetGateway detaches the gateway from the VPC.
func (c *EC2Client) DetachInternetGateway(ctx context.Context, igwID, vpcID string) error {
	_, err := c.ec2.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
		InternetGatewayId: awssdk.String(igwID),
		VpcId:             awssdk.String(vpcID),
	})
	return wrapDelete("detach internet gateway", err)
}

// DeleteInternetGateway removes the gateway.
func (c *EC2Client) DeleteInternetGateway(ctx context.Context, igwID string) error {
	_, err := c.ec2.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{
		InternetGatewayId: awssdk.String(igwID),
	})
	return wrapDelete("delete internet gateway", err)
}

// DeleteVPC removes the VPC.
func (c *EC2Client) DeleteVPC(ctx context.Context, id string) error {
	_, err := c.ec2.DeleteVpc(ctx, &ec2.DeleteVpcInput{
		VpcId: awssdk.String(id),
	})
	return wrapDelete("delete VPC", err)
}

func (c *EC2Client) tag(ctx context.Context, resourceID, name string) error {
	_, err := c.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{resourceID},
		Tags:      managedTags(name),
	})
	if err != nil {
		return fmt.Errorf("failed to tag %s: %w", resourceID, err)
	}
	return nil
}

func managedTags(name string) []ec2types.Tag {
	return []ec2types.Tag{
		{Key: awssdk.String("Name"), Value: awssdk.String(name)},
		{Key: awssdk.String("ManagedBy"), Value: awssdk.String("wgforge")},
	}
}

func shortID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// wrapDelete maps the EC2 not-found error family onto ErrNotFound so
// teardown steps can treat already-gone resources as success.
func wrapDelete(op string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	return strings.Contains(code, "NotFound") || strings.Contains(code, ".Malformed")
}
