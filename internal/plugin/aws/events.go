package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/yairfalse/lapse/internal/emitter"
)

// EventBridgeEmitter publishes action events to an EventBridge bus.
type EventBridgeEmitter struct {
	client EventBridgeAPI
	bus    string
	source string
	now    func() time.Time
}

// Emit implements emitter.Emitter.
func (e *EventBridgeEmitter) Emit(ctx context.Context, event emitter.Event) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event detail: %w", err)
	}

	at := event.Time
	if at.IsZero() {
		at = e.now()
	}

	out, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{
			{
				EventBusName: aws.String(e.bus),
				Source:       aws.String(e.source),
				DetailType:   aws.String(emitter.DetailType),
				Detail:       aws.String(string(detail)),
				Time:         aws.Time(at),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put events on %s: %w", e.bus, err)
	}
	if out.FailedEntryCount > 0 {
		for _, entry := range out.Entries {
			if entry.ErrorCode != nil {
				return fmt.Errorf("put events on %s: %s: %s",
					e.bus, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
		return fmt.Errorf("put events on %s: %d failed entries", e.bus, out.FailedEntryCount)
	}
	return nil
}

// Close implements emitter.Emitter.
func (e *EventBridgeEmitter) Close() error {
	return nil
}

// SNSEmitter publishes action events to an SNS topic.
type SNSEmitter struct {
	client   SNSAPI
	topicARN string
}

// Emit implements emitter.Emitter.
func (e *SNSEmitter) Emit(ctx context.Context, event emitter.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	_, err = e.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(e.topicARN),
		Subject:  aws.String(fmt.Sprintf("%s %s", event.Action.Past(), event.InstanceID)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"action": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Action.String()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", e.topicARN, err)
	}
	return nil
}

// Close implements emitter.Emitter.
func (e *SNSEmitter) Close() error {
	return nil
}
