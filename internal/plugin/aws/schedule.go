package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	schedulertypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/yairfalse/lapse/internal/reschedule"
)

// AtLayout is the wall-clock layout inside a one-time "at(...)" expression.
const AtLayout = "2006-01-02T15:04:05"

// Schedule fields that UpdateSchedule rejects or that the service generates.
var readOnlyScheduleFields = []string{"Arn", "CreationDate", "LastModificationDate", "ResultMetadata"}

var atExpression = regexp.MustCompile(`^at\((.+)\)$`)

// ScheduleStore keeps the next-check record in an EventBridge Scheduler
// schedule whose ARN is stored in an SSM parameter.
//
// UpdateSchedule replaces the whole schedule definition, so Put writes back
// every field Get read, changing only the schedule expression.
type ScheduleStore struct {
	parameter string
	ssm       SSMAPI
	scheduler SchedulerAPI
}

// Get reads the schedule and returns it as a record.
func (s *ScheduleStore) Get(ctx context.Context) (*reschedule.Record, error) {
	param, err := s.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(s.parameter),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("parameter %s: %w", s.parameter, reschedule.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("get parameter %s: %w", s.parameter, err)
	}
	if param.Parameter == nil || aws.ToString(param.Parameter.Value) == "" {
		return nil, fmt.Errorf("parameter %s is empty: %w", s.parameter, reschedule.ErrRecordNotFound)
	}

	name, group := parseScheduleARN(aws.ToString(param.Parameter.Value))
	input := &scheduler.GetScheduleInput{Name: aws.String(name)}
	if group != "" {
		input.GroupName = aws.String(group)
	}

	out, err := s.scheduler.GetSchedule(ctx, input)
	if err != nil {
		var notFound *schedulertypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("schedule %s: %w", name, reschedule.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("get schedule %s: %w", name, err)
	}

	return recordFromSchedule(out)
}

// Put writes rec back as the complete schedule definition.
func (s *ScheduleStore) Put(ctx context.Context, rec *reschedule.Record) error {
	input, err := updateInputFromRecord(rec)
	if err != nil {
		return err
	}
	if _, err := s.scheduler.UpdateSchedule(ctx, input); err != nil {
		return fmt.Errorf("update schedule %s: %w", aws.ToString(input.Name), err)
	}
	return nil
}

func recordFromSchedule(out *scheduler.GetScheduleOutput) (*reschedule.Record, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode schedule: %w", err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}

	rec := &reschedule.Record{
		Name:     aws.ToString(out.Name),
		Timezone: aws.ToString(out.ScheduleExpressionTimezone),
		Fields:   fields,
	}
	if t, ok := parseAtExpression(aws.ToString(out.ScheduleExpression), rec.Location()); ok {
		rec.FireAt = t
	}
	return rec, nil
}

func updateInputFromRecord(rec *reschedule.Record) (*scheduler.UpdateScheduleInput, error) {
	fields := make(map[string]json.RawMessage, len(rec.Fields)+2)
	for k, v := range rec.Fields {
		fields[k] = v
	}
	for _, k := range readOnlyScheduleFields {
		delete(fields, k)
	}

	expr, err := json.Marshal(formatAtExpression(rec.FireAt, rec.Location()))
	if err != nil {
		return nil, fmt.Errorf("encode schedule expression: %w", err)
	}
	fields["ScheduleExpression"] = expr

	if _, ok := fields["Name"]; !ok && rec.Name != "" {
		name, err := json.Marshal(rec.Name)
		if err != nil {
			return nil, fmt.Errorf("encode schedule name: %w", err)
		}
		fields["Name"] = name
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode schedule: %w", err)
	}
	input := &scheduler.UpdateScheduleInput{}
	if err := json.Unmarshal(data, input); err != nil {
		return nil, fmt.Errorf("decode update input: %w", err)
	}
	return input, nil
}

// parseScheduleARN returns the schedule name and group from a schedule ARN
// ("arn:aws:scheduler:<region>:<account>:schedule/<group>/<name>"). A value
// that is not an ARN is split on "/" and its last segment used as the name.
func parseScheduleARN(value string) (name, group string) {
	resource := value
	if a, err := arn.Parse(value); err == nil {
		resource = a.Resource
	}
	parts := strings.Split(resource, "/")
	name = parts[len(parts)-1]
	if len(parts) == 3 && parts[0] == "schedule" {
		group = parts[1]
	}
	return name, group
}

func formatAtExpression(t time.Time, loc *time.Location) string {
	return "at(" + t.In(loc).Format(AtLayout) + ")"
}

func parseAtExpression(expr string, loc *time.Location) (time.Time, bool) {
	m := atExpression.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(AtLayout, m[1], loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
