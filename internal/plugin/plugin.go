// Package plugin defines the cloud capabilities the expiration engine needs.
package plugin

import (
	"context"
	"errors"

	"github.com/yairfalse/lapse/pkg/resource"
)

// ErrNotFound is returned by DescribeInstance when the instance no longer exists.
var ErrNotFound = errors.New("instance not found")

// Inventory lists instances.
type Inventory interface {
	// Describe returns every in-scope instance: lifecycle state pending,
	// running, stopping or stopped, carrying at least one expiration tag.
	Describe(ctx context.Context) ([]resource.Resource, error)

	// DescribeInstance fetches one instance fresh from the cloud, bypassing
	// any state held by the caller.
	DescribeInstance(ctx context.Context, id string) (*resource.Resource, error)
}

// Actuator changes instance state.
type Actuator interface {
	Stop(ctx context.Context, id string) error
	Terminate(ctx context.Context, id string) error
}

// Plugin is a cloud provider offering both capabilities.
type Plugin interface {
	// Name returns the plugin identifier (e.g., "aws")
	Name() string

	Inventory
	Actuator
}
