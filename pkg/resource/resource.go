// Package resource defines the raw instance description handed to the expiry model.
package resource

import "time"

// EC2 lifecycle states as reported by DescribeInstances.
const (
	StatePending      = "pending"
	StateRunning      = "running"
	StateStopping     = "stopping"
	StateStopped      = "stopped"
	StateShuttingDown = "shutting-down"
	StateTerminated   = "terminated"
)

// InScopeStates are the lifecycle states the describe filter keeps.
// shutting-down and terminated instances are never candidates.
var InScopeStates = []string{StatePending, StateRunning, StateStopping, StateStopped}

// Resource is a compute instance as described by the cloud, before any
// expiration policy is derived from it.
type Resource struct {
	ID         string            `json:"id"`          // Instance ID (e.g., "i-abc123")
	Type       string            `json:"type"`        // Resource type (e.g., "ec2")
	Region     string            `json:"region"`      // Region (e.g., "us-east-1")
	Name       string            `json:"name"`        // Value of the Name tag, if any
	State      string            `json:"state"`       // Lifecycle state (e.g., "running")
	LaunchedAt time.Time         `json:"launched_at"` // Zero when the cloud did not report it
	Tags       map[string]string `json:"tags"`        // Raw tags, exact keys
	ScannedAt  time.Time         `json:"scanned_at"`  // When this was described
}

// Tag returns the value of the tag with the exact key, and whether it exists.
func (r Resource) Tag(key string) (string, bool) {
	if r.Tags == nil {
		return "", false
	}
	v, ok := r.Tags[key]
	return v, ok
}

// IsTerminal reports whether the instance is going away or already gone.
func (r Resource) IsTerminal() bool {
	return r.State == StateShuttingDown || r.State == StateTerminated
}

// IsRunning reports whether a stop request would change the instance state.
func (r Resource) IsRunning() bool {
	return r.State == StateRunning || r.State == StatePending
}
