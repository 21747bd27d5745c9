package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/lapse/internal/plugin"
	"github.com/yairfalse/lapse/pkg/resource"
)

const errCodeInstanceNotFound = "InvalidInstanceID.NotFound"

// Describe returns every instance in a candidate state that carries at least
// one tag under the expiration prefix.
func (p *Plugin) Describe(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters:   p.describeFilters(),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				resources = append(resources, p.convertEC2Instance(instance))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	log.Debug().Int("count", len(resources)).Str("tag_key", p.keys.Wildcard()).Msg("described instances")
	return resources, nil
}

func (p *Plugin) describeFilters() []ec2types.Filter {
	return []ec2types.Filter{
		{
			Name:   aws.String("instance-state-name"),
			Values: resource.InScopeStates,
		},
		{
			Name:   aws.String("tag-key"),
			Values: []string{p.keys.Wildcard()},
		},
	}
}

// DescribeInstance fetches a single instance by ID with no state or tag
// filter, so a terminated or untagged instance is still returned as such.
func (p *Plugin) DescribeInstance(ctx context.Context, id string) (*resource.Resource, error) {
	output, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		if isAPIError(err, errCodeInstanceNotFound) {
			return nil, fmt.Errorf("%s: %w", id, plugin.ErrNotFound)
		}
		return nil, fmt.Errorf("describe instance %s: %w", id, err)
	}

	for _, reservation := range output.Reservations {
		for _, instance := range reservation.Instances {
			if aws.ToString(instance.InstanceId) == id {
				r := p.convertEC2Instance(instance)
				return &r, nil
			}
		}
	}
	return nil, fmt.Errorf("%s: %w", id, plugin.ErrNotFound)
}

// Stop stops the instance.
func (p *Plugin) Stop(ctx context.Context, id string) error {
	_, err := p.ec2Client.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return fmt.Errorf("stop instance %s: %w", id, err)
	}
	return nil
}

// Terminate terminates the instance.
func (p *Plugin) Terminate(ctx context.Context, id string) error {
	_, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return fmt.Errorf("terminate instance %s: %w", id, err)
	}
	return nil
}

func (p *Plugin) convertEC2Instance(instance ec2types.Instance) resource.Resource {
	r := resource.Resource{
		ID:        aws.ToString(instance.InstanceId),
		Type:      "ec2",
		Region:    p.region,
		Tags:      make(map[string]string, len(instance.Tags)),
		ScannedAt: p.now(),
	}
	if instance.State != nil {
		r.State = string(instance.State.Name)
	}
	if instance.LaunchTime != nil {
		r.LaunchedAt = instance.LaunchTime.UTC()
	}
	for _, tag := range instance.Tags {
		key := aws.ToString(tag.Key)
		r.Tags[key] = aws.ToString(tag.Value)
		if key == "Name" {
			r.Name = aws.ToString(tag.Value)
		}
	}
	return r
}

func isAPIError(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
