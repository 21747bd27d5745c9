package handler

import (
	"encoding/json"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// TriggerKind says why an invocation ran. The pass itself does not depend on
// it.
type TriggerKind string

const (
	TriggerTagChange      TriggerKind = "tag_change"
	TriggerStateChange    TriggerKind = "state_change"
	TriggerNextSchedule   TriggerKind = "next_schedule"
	TriggerBackupSchedule TriggerKind = "backup_schedule"
	TriggerUnknown        TriggerKind = "unknown"
)

// EventBridge detail types delivered through the trigger queue.
const (
	detailTagChange      = "Tag Change on Resource"
	detailStateChange    = "EC2 Instance State-change Notification"
	detailScheduledEvent = "Scheduled Event"
)

// Trigger is one classified SQS record.
type Trigger struct {
	Kind      TriggerKind
	Resource  string
	MessageID string
	// Raw is the record body, kept for unknown triggers.
	Raw string
}

// Label returns the human readable trigger name used in logs.
func (t Trigger) Label() string {
	switch t.Kind {
	case TriggerTagChange:
		return "EC2 Instance Expiration Tag Change (" + t.Resource + ")"
	case TriggerStateChange:
		return "EC2 Instance State Change (" + t.Resource + ")"
	case TriggerNextSchedule:
		return "Next Schedule"
	case TriggerBackupSchedule:
		return "Backup Schedule"
	default:
		return "Unknown"
	}
}

// ClassifyTrigger classifies every record of an SQS batch. An empty batch
// yields a single unknown trigger.
func ClassifyTrigger(evt events.SQSEvent) []Trigger {
	if len(evt.Records) == 0 {
		return []Trigger{{Kind: TriggerUnknown}}
	}

	out := make([]Trigger, 0, len(evt.Records))
	for _, rec := range evt.Records {
		out = append(out, classifyRecord(rec))
	}
	return out
}

func classifyRecord(rec events.SQSMessage) Trigger {
	t := Trigger{Kind: TriggerUnknown, MessageID: rec.MessageId, Raw: rec.Body}

	var body events.CloudWatchEvent
	if err := json.Unmarshal([]byte(rec.Body), &body); err != nil || len(body.Resources) == 0 {
		return t
	}
	t.Resource = body.Resources[0]

	switch body.DetailType {
	case detailTagChange:
		t.Kind = TriggerTagChange
	case detailStateChange:
		t.Kind = TriggerStateChange
	case detailScheduledEvent:
		switch {
		case strings.Contains(t.Resource, "NextSchedule"):
			t.Kind = TriggerNextSchedule
		case strings.Contains(t.Resource, "RateSchedule"):
			t.Kind = TriggerBackupSchedule
		}
	}
	return t
}
