package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/lapse/pkg/expiry"
	"github.com/yairfalse/lapse/pkg/resource"
	"github.com/yairfalse/lapse/policy"
)

// Check represents one pre-action verification
type Check struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Message     string `json:"message,omitempty"`
}

// Candidate is the state a Verifier judges: the action the batch decided on,
// and a model rebuilt from a fresh describe of the same instance.
type Candidate struct {
	Planned  *expiry.Instance
	Resource *resource.Resource
	Fresh    *expiry.Instance
	BuildErr error
	Now      time.Time
	Config   Config
}

// CheckFunc represents a single verification function
type CheckFunc func(ctx context.Context, c *Candidate) Check

// Verifier runs every check against a candidate. All checks must pass.
type Verifier struct {
	checks []CheckFunc
}

// NewVerifier creates a verifier with the standard checks. A non-nil guard
// adds a policy check; it never replaces the others.
func NewVerifier(guard Guard) *Verifier {
	v := &Verifier{
		checks: []CheckFunc{
			checkExpirationPresent,
			checkActionMatches,
			checkExpirationDue,
			checkInstanceState,
			checkActionEnabled,
		},
	}
	if guard != nil {
		v.checks = append(v.checks, guardCheck(guard))
	}
	return v
}

// Verify runs all checks. The error wraps ErrVerification and names every
// failed check.
func (v *Verifier) Verify(ctx context.Context, c *Candidate) ([]Check, error) {
	results := make([]Check, 0, len(v.checks))
	var failed []string
	for _, fn := range v.checks {
		check := fn(ctx, c)
		results = append(results, check)
		if !check.Passed {
			failed = append(failed, check.Name+": "+check.Message)
		}
	}

	if len(failed) > 0 {
		return results, fmt.Errorf("%w: %s", ErrVerification, strings.Join(failed, "; "))
	}
	return results, nil
}

func checkExpirationPresent(_ context.Context, c *Candidate) Check {
	check := Check{
		Name:        "expiration_present",
		Description: "Instance still carries a valid expiration",
		Passed:      true,
	}
	if c.Fresh == nil {
		check.Passed = false
		check.Message = fmt.Sprintf("rebuild failed: %v", c.BuildErr)
	}
	return check
}

func checkActionMatches(_ context.Context, c *Candidate) Check {
	check := Check{
		Name:        "action_match",
		Description: "Re-derived action matches the planned action",
		Passed:      true,
	}
	if c.Fresh == nil {
		check.Passed = false
		check.Message = "no fresh model"
		return check
	}
	if c.Fresh.Action != c.Planned.Action {
		check.Passed = false
		check.Message = fmt.Sprintf("planned %s, now %s", c.Planned.Action.Verb(), c.Fresh.Action.Verb())
	}
	return check
}

func checkExpirationDue(_ context.Context, c *Candidate) Check {
	check := Check{
		Name:        "expiration_due",
		Description: "Re-derived expiration is at or before now",
		Passed:      true,
	}
	if c.Fresh == nil {
		check.Passed = false
		check.Message = "no fresh model"
		return check
	}
	if !c.Fresh.DueBy(c.Now) {
		check.Passed = false
		check.Message = fmt.Sprintf("expires %s, now %s", c.Fresh.Expiration, c.Now.UTC().Format(time.RFC3339))
	}
	return check
}

func checkInstanceState(_ context.Context, c *Candidate) Check {
	check := Check{
		Name:        "instance_state",
		Description: "Instance is not shutting down or terminated",
		Passed:      true,
	}
	if c.Resource == nil {
		check.Passed = false
		check.Message = "instance not described"
		return check
	}
	if c.Resource.IsTerminal() {
		check.Passed = false
		check.Message = fmt.Sprintf("instance is %s", c.Resource.State)
	}
	return check
}

func checkActionEnabled(_ context.Context, c *Candidate) Check {
	check := Check{
		Name:        "action_enabled",
		Description: "The action's kill-switch is on",
		Passed:      true,
	}
	if !c.Config.Enabled(c.Planned.Action) {
		check.Passed = false
		check.Message = fmt.Sprintf("%s action disabled", c.Planned.Action.Verb())
	}
	return check
}

func guardCheck(guard Guard) CheckFunc {
	return func(ctx context.Context, c *Candidate) Check {
		check := Check{
			Name:        "guard_policy",
			Description: "Guard policy does not deny the action",
			Passed:      true,
		}
		if c.Fresh == nil || c.Resource == nil {
			check.Passed = false
			check.Message = "no fresh model"
			return check
		}

		reasons, err := guard.Deny(ctx, policy.Input{
			InstanceID: c.Resource.ID,
			Name:       c.Resource.Name,
			State:      c.Resource.State,
			Region:     c.Resource.Region,
			Action:     c.Planned.Action.String(),
			Expiration: c.Fresh.ExpiresAt(),
			LaunchedAt: c.Resource.LaunchedAt,
			Tags:       c.Resource.Tags,
			Now:        c.Now,
		})
		if err != nil {
			check.Passed = false
			check.Message = err.Error()
			return check
		}
		if len(reasons) > 0 {
			check.Passed = false
			check.Message = strings.Join(reasons, "; ")
		}
		return check
	}
}
