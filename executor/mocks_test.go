package executor

import (
	"context"
	"sync"

	"github.com/yairfalse/lapse/internal/emitter"
	"github.com/yairfalse/lapse/internal/plugin"
	"github.com/yairfalse/lapse/pkg/resource"
	"github.com/yairfalse/lapse/policy"
)

// mockCloud implements plugin.Inventory and plugin.Actuator for testing.
type mockCloud struct {
	mu          sync.Mutex
	resources   map[string]resource.Resource
	describeErr error
	actErr      error
	stopped     []string
	terminated  []string
	describes   int
}

func newMockCloud(rs ...resource.Resource) *mockCloud {
	m := &mockCloud{resources: make(map[string]resource.Resource)}
	for _, r := range rs {
		m.resources[r.ID] = r
	}
	return m
}

func (m *mockCloud) Describe(_ context.Context) ([]resource.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.describeErr != nil {
		return nil, m.describeErr
	}
	out := make([]resource.Resource, 0, len(m.resources))
	for _, r := range m.resources {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockCloud) DescribeInstance(_ context.Context, id string) (*resource.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.describes++
	if m.describeErr != nil {
		return nil, m.describeErr
	}
	r, ok := m.resources[id]
	if !ok {
		return nil, plugin.ErrNotFound
	}
	return &r, nil
}

func (m *mockCloud) Stop(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actErr != nil {
		return m.actErr
	}
	m.stopped = append(m.stopped, id)
	return nil
}

func (m *mockCloud) Terminate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actErr != nil {
		return m.actErr
	}
	m.terminated = append(m.terminated, id)
	return nil
}

// mockEmitter records events.
type mockEmitter struct {
	events []emitter.Event
	err    error
}

func (m *mockEmitter) Emit(_ context.Context, event emitter.Event) error {
	m.events = append(m.events, event)
	return m.err
}

func (m *mockEmitter) Close() error { return nil }

// mockGuard denies with fixed reasons.
type mockGuard struct {
	reasons []string
	err     error
	inputs  []policy.Input
}

func (m *mockGuard) Deny(_ context.Context, in policy.Input) ([]string, error) {
	m.inputs = append(m.inputs, in)
	return m.reasons, m.err
}
