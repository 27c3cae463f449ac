package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// AWSProvider implements the Provider interface on top of EC2
type AWSProvider struct {
	client *ec2.Client
}

// NewAWSProvider creates a new instance of AWSProvider. When accessKey is
// empty the SDK's default credential chain is used.
func NewAWSProvider(ctx context.Context, region, accessKey, secretKey string) (*AWSProvider, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSProvider{client: ec2.NewFromConfig(cfg)}, nil
}

// FindSecurityBoundary looks up a security group by its group name.
func (p *AWSProvider) FindSecurityBoundary(ctx context.Context, name string) (BoundaryID, error) {
	out, err := p.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{
			{Name: aws.String("group-name"), Values: []string{name}},
		},
	})
	if err != nil {
		// A describe by name for a missing group is "absent", not a failure.
		if apiErrorCode(err) == "InvalidGroup.NotFound" {
			return "", nil
		}
		return "", wrapProviderErr("FindSecurityBoundary", err)
	}
	if len(out.SecurityGroups) == 0 {
		return "", nil
	}
	return BoundaryID(aws.ToString(out.SecurityGroups[0].GroupId)), nil
}

// CreateSecurityBoundary creates a security group and authorizes its
// ingress rules.
func (p *AWSProvider) CreateSecurityBoundary(ctx context.Context, name string, rules []SecurityRule) (BoundaryID, error) {
	created, err := p.client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String(fmt.Sprintf("cloudherd boundary %s", name)),
	})
	if err != nil {
		return "", wrapProviderErr("CreateSecurityBoundary", err)
	}

	groupID := aws.ToString(created.GroupId)
	if len(rules) > 0 {
		perms := make([]types.IpPermission, 0, len(rules))
		for _, r := range rules {
			perms = append(perms, types.IpPermission{
				IpProtocol: aws.String(r.Protocol),
				FromPort:   aws.Int32(r.FromPort),
				ToPort:     aws.Int32(r.ToPort),
				IpRanges: []types.IpRange{
					{CidrIp: aws.String(r.SourceCIDR)},
				},
			})
		}
		_, err = p.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: perms,
		})
		if err != nil {
			return "", wrapProviderErr("CreateSecurityBoundary", err)
		}
	}

	return BoundaryID(groupID), nil
}

// FindInstanceByTag resolves an instance through its Name tag. A live
// record is preferred over terminated leftovers of earlier launches.
func (p *AWSProvider) FindInstanceByTag(ctx context.Context, name string) (*InstanceRecord, error) {
	out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:Name"), Values: []string{name}},
		},
	})
	if err != nil {
		return nil, wrapProviderErr("FindInstanceByTag", err)
	}

	var terminated *InstanceRecord
	for _, res := range out.Reservations {
		for i := range res.Instances {
			rec := recordFromInstance(&res.Instances[i], name)
			if rec.Live() {
				return rec, nil
			}
			terminated = rec
		}
	}
	return terminated, nil
}

// LaunchInstance provisions a fresh instance. A client token makes the
// underlying RunInstances call safe against wire-level retries.
func (p *AWSProvider) LaunchInstance(ctx context.Context, spec InstanceSpec, boundary BoundaryID) (string, error) {
	input := &ec2.RunInstancesInput{
		ImageId:          aws.String(spec.ImageID),
		InstanceType:     types.InstanceType(spec.InstanceType),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		SecurityGroupIds: []string{string(boundary)},
		ClientToken:      aws.String(uuid.NewString()),
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String("Name"), Value: aws.String(spec.Name)},
				},
			},
		},
	}
	if spec.KeyName != "" {
		input.KeyName = aws.String(spec.KeyName)
	}
	if spec.UserData != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData)))
	}

	out, err := p.client.RunInstances(ctx, input)
	if err != nil {
		return "", wrapProviderErr("LaunchInstance", err)
	}
	if len(out.Instances) == 0 {
		return "", wrapProviderErr("LaunchInstance", errors.New("no instance in RunInstances response"))
	}
	return aws.ToString(out.Instances[0].InstanceId), nil
}

// DescribeInstance fetches the current record for a provider id.
func (p *AWSProvider) DescribeInstance(ctx context.Context, providerID string) (*InstanceRecord, error) {
	out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{providerID},
	})
	if err != nil {
		return nil, wrapProviderErr("DescribeInstance", err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return nil, wrapProviderErr("DescribeInstance",
			fmt.Errorf("instance %s not found", providerID))
	}

	inst := &out.Reservations[0].Instances[0]
	return recordFromInstance(inst, nameTag(inst)), nil
}

// ChangeInstanceState issues a power action and returns without waiting.
func (p *AWSProvider) ChangeInstanceState(ctx context.Context, providerID string, action PowerAction) error {
	ids := []string{providerID}

	var err error
	switch action {
	case ActionStart:
		_, err = p.client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: ids})
	case ActionStop:
		_, err = p.client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: ids})
	case ActionReboot:
		_, err = p.client.RebootInstances(ctx, &ec2.RebootInstancesInput{InstanceIds: ids})
	case ActionTerminate:
		_, err = p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids})
	default:
		return wrapProviderErr("ChangeInstanceState", fmt.Errorf("unknown action %q", action))
	}
	if err != nil {
		return wrapProviderErr("ChangeInstanceState", err)
	}
	return nil
}

func recordFromInstance(inst *types.Instance, name string) *InstanceRecord {
	return &InstanceRecord{
		ProviderID:     aws.ToString(inst.InstanceId),
		Name:           name,
		Status:         statusFromEC2(inst.State),
		PublicAddress:  aws.ToString(inst.PublicIpAddress),
		PrivateAddress: aws.ToString(inst.PrivateIpAddress),
	}
}

func nameTag(inst *types.Instance) string {
	for _, t := range inst.Tags {
		if aws.ToString(t.Key) == "Name" {
			return aws.ToString(t.Value)
		}
	}
	return ""
}

func statusFromEC2(state *types.InstanceState) InstanceStatus {
	if state == nil {
		return StatusPending
	}
	switch state.Name {
	case types.InstanceStateNamePending:
		return StatusPending
	case types.InstanceStateNameRunning:
		return StatusRunning
	case types.InstanceStateNameStopping:
		return StatusStopping
	case types.InstanceStateNameStopped:
		return StatusStopped
	case types.InstanceStateNameShuttingDown:
		return StatusShuttingDown
	case types.InstanceStateNameTerminated:
		return StatusTerminated
	}
	return StatusPending
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func wrapProviderErr(op string, err error) *ProviderError {
	return &ProviderError{Op: op, Code: apiErrorCode(err), Err: err}
}
