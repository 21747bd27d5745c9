package executor

import (
	"context"
	"errors"
	"time"

	"github.com/yairfalse/lapse/pkg/expiry"
	"github.com/yairfalse/lapse/policy"
)

// ErrVerification is returned when the re-derived instance model does not
// confirm the action that was about to be taken.
var ErrVerification = errors.New("verification failed")

// Status is the outcome of acting on one instance.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusDryRun  Status = "dry_run"
)

// Result contains the outcome of acting on a single instance
type Result struct {
	InstanceID string        `json:"instance_id"`
	Action     expiry.Action `json:"action"`
	Status     Status        `json:"status"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	Checks     []Check       `json:"checks,omitempty"`
	Notified   bool          `json:"notified"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`

	// Err is the underlying error for StatusFailed.
	Err error `json:"-"`
}

// Acted reports whether the cloud call was issued (or, in dry-run mode,
// would have been).
func (r Result) Acted() bool {
	return r.Status == StatusSuccess || r.Status == StatusDryRun
}

// Config controls which actions the executor may take.
type Config struct {
	TagKeys          expiry.TagKeys
	StopEnabled      bool
	TerminateEnabled bool
	DryRun           bool
}

// Enabled reports whether the kill-switch for action is on.
func (c Config) Enabled(action expiry.Action) bool {
	switch action {
	case expiry.ActionStop:
		return c.StopEnabled
	case expiry.ActionTerminate:
		return c.TerminateEnabled
	default:
		return false
	}
}

// Guard can veto an action. policy.Guard implements it.
type Guard interface {
	Deny(ctx context.Context, in policy.Input) ([]string, error)
}
