// Package policy evaluates optional Rego guard policies that can veto an
// expiration action right before it is taken.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// GuardQuery is the rule a guard module must define. Each member of the
// deny set is a human readable reason.
const GuardQuery = "data.lapse.guard.deny"

// Input is the document guard policies see as `input`.
type Input struct {
	InstanceID string            `json:"instance_id"`
	Name       string            `json:"name,omitempty"`
	State      string            `json:"state"`
	Region     string            `json:"region,omitempty"`
	Action     string            `json:"action"`
	Expiration time.Time         `json:"expiration"`
	LaunchedAt time.Time         `json:"launched_at"`
	Tags       map[string]string `json:"tags"`
	Now        time.Time         `json:"now"`
}

// Guard holds a compiled deny query.
type Guard struct {
	name   string
	query  rego.PreparedEvalQuery
	tracer trace.Tracer
}

// LoadGuard compiles the Rego module at path.
func LoadGuard(ctx context.Context, path string) (*Guard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guard policy %s: %w", path, err)
	}
	return NewGuard(ctx, filepath.Base(path), string(data))
}

// NewGuard compiles a Rego module from source.
func NewGuard(ctx context.Context, name, module string) (*Guard, error) {
	query, err := rego.New(
		rego.Query(GuardQuery),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile guard policy %s: %w", name, err)
	}

	return &Guard{
		name:   name,
		query:  query,
		tracer: otel.Tracer("lapse/policy"),
	}, nil
}

// Name returns the module name the guard was compiled from.
func (g *Guard) Name() string {
	return g.name
}

// Deny returns the sorted deny reasons for in. An empty result allows the
// action. A module without a deny rule allows everything.
func (g *Guard) Deny(ctx context.Context, in Input) ([]string, error) {
	ctx, span := g.tracer.Start(ctx, "policy.guard.deny",
		trace.WithAttributes(
			attribute.String("policy.name", g.name),
			attribute.String("instance.id", in.InstanceID),
			attribute.String("action", in.Action),
		))
	defer span.End()

	results, err := g.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return nil, fmt.Errorf("evaluate guard policy %s: %w", g.name, err)
	}

	var reasons []string
	for _, res := range results {
		for _, expr := range res.Expressions {
			reasons = append(reasons, denyReasons(expr.Value)...)
		}
	}
	sort.Strings(reasons)
	span.SetAttributes(attribute.Int("policy.denials", len(reasons)))
	return reasons, nil
}

// denyReasons flattens a deny set. OPA returns sets as []interface{}; members
// that are not strings are rendered with %v.
func denyReasons(value interface{}) []string {
	members, ok := value.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		if s, ok := m.(string); ok {
			out = append(out, s)
			continue
		}
		out = append(out, fmt.Sprintf("%v", m))
	}
	return out
}
