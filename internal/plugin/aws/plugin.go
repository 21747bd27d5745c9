// Package aws implements the EC2 expiration plugin and the AWS-backed
// schedule store and notification emitters.
package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/yairfalse/lapse/pkg/expiry"
)

// Plugin implements plugin.Plugin for EC2.
type Plugin struct {
	region string
	keys   expiry.TagKeys
	now    func() time.Time

	// AWS clients (interfaces for testability)
	ec2Client       EC2API
	ssmClient       SSMAPI
	schedulerClient SchedulerAPI
	eventsClient    EventBridgeAPI
	snsClient       SNSAPI
}

// Config holds AWS plugin configuration.
type Config struct {
	Region    string
	Profile   string
	TagPrefix string
}

// New creates a new AWS plugin using the default credential chain.
func New(ctx context.Context, cfg Config) (*Plugin, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Plugin{
		region:          awsCfg.Region,
		keys:            expiry.NewTagKeys(cfg.TagPrefix),
		now:             time.Now,
		ec2Client:       ec2.NewFromConfig(awsCfg),
		ssmClient:       ssm.NewFromConfig(awsCfg),
		schedulerClient: scheduler.NewFromConfig(awsCfg),
		eventsClient:    eventbridge.NewFromConfig(awsCfg),
		snsClient:       sns.NewFromConfig(awsCfg),
	}, nil
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "aws"
}

// Region returns the region the clients were built for.
func (p *Plugin) Region() string {
	return p.region
}

// ScheduleStore returns the store for the schedule whose ARN is held in the
// SSM parameter named parameter.
func (p *Plugin) ScheduleStore(parameter string) *ScheduleStore {
	return &ScheduleStore{
		parameter: parameter,
		ssm:       p.ssmClient,
		scheduler: p.schedulerClient,
	}
}

// EventBridgeEmitter returns an emitter publishing to bus with the given source.
func (p *Plugin) EventBridgeEmitter(bus, source string) *EventBridgeEmitter {
	return &EventBridgeEmitter{
		client: p.eventsClient,
		bus:    bus,
		source: source,
		now:    p.now,
	}
}

// SNSEmitter returns an emitter publishing to topicARN.
func (p *Plugin) SNSEmitter(topicARN string) *SNSEmitter {
	return &SNSEmitter{
		client:   p.snsClient,
		topicARN: topicARN,
	}
}
