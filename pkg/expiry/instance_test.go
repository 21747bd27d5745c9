package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/lapse/pkg/resource"
)

var launch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newResource(tags map[string]string) resource.Resource {
	return resource.Resource{
		ID:         "i-0abc",
		Type:       "ec2",
		State:      resource.StateRunning,
		LaunchedAt: launch,
		Tags:       tags,
	}
}

func TestNewTagKeys(t *testing.T) {
	keys := NewTagKeys("expiration")
	assert.Equal(t, "expiration:stop-after-duration", keys.StopAfterDuration)
	assert.Equal(t, "expiration:stop-after-datetime", keys.StopAfterDatetime)
	assert.Equal(t, "expiration:terminate-after-duration", keys.TerminateAfterDuration)
	assert.Equal(t, "expiration:terminate-after-datetime", keys.TerminateAfterDatetime)
	assert.Equal(t, "expiration:*", keys.Wildcard())
	assert.Len(t, keys.All(), 4)

	assert.Equal(t, NewTagKeys("expiration"), NewTagKeys(""), "empty prefix uses the default")
	assert.Equal(t, "team-x:stop-after-duration", NewTagKeys("team-x").StopAfterDuration)
}

func TestBuild_StopAfterDuration(t *testing.T) {
	keys := NewTagKeys("expiration")
	inst, err := Build(newResource(map[string]string{
		keys.StopAfterDuration: "2h",
	}), keys)
	require.NoError(t, err)

	assert.Equal(t, ActionStop, inst.Action)
	assert.Equal(t, At(launch.Add(2*time.Hour)), inst.Expiration)
	assert.False(t, inst.TerminateAt.IsSet())
	assert.True(t, inst.DueBy(time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)))
	assert.Equal(t, launch.Add(2*time.Hour), inst.ExpiresAt())
}

func TestBuild_MinimumOfAllFour(t *testing.T) {
	keys := NewTagKeys("expiration")

	tests := []struct {
		name       string
		tags       map[string]string
		wantAt     time.Time
		wantAction Action
	}{
		{
			name: "stop duration earliest",
			tags: map[string]string{
				keys.StopAfterDuration:      "1h",
				keys.StopAfterDatetime:      "2024-01-01 05:00:00 UTC",
				keys.TerminateAfterDuration: "3h",
				keys.TerminateAfterDatetime: "2024-01-01 04:00:00 UTC",
			},
			wantAt:     launch.Add(time.Hour),
			wantAction: ActionStop,
		},
		{
			name: "stop datetime earliest",
			tags: map[string]string{
				keys.StopAfterDuration:      "6h",
				keys.StopAfterDatetime:      "2024-01-01 00:30:00 UTC",
				keys.TerminateAfterDuration: "3h",
				keys.TerminateAfterDatetime: "2024-01-01 04:00:00 UTC",
			},
			wantAt:     launch.Add(30 * time.Minute),
			wantAction: ActionStop,
		},
		{
			name: "terminate duration earliest",
			tags: map[string]string{
				keys.StopAfterDuration:      "6h",
				keys.StopAfterDatetime:      "2024-01-01 05:00:00 UTC",
				keys.TerminateAfterDuration: "10m",
				keys.TerminateAfterDatetime: "2024-01-01 04:00:00 UTC",
			},
			wantAt:     launch.Add(10 * time.Minute),
			wantAction: ActionTerminate,
		},
		{
			name: "terminate datetime earliest",
			tags: map[string]string{
				keys.StopAfterDuration:      "6h",
				keys.StopAfterDatetime:      "2024-01-01 05:00:00 UTC",
				keys.TerminateAfterDuration: "3h",
				keys.TerminateAfterDatetime: "2024-01-01 00:05:00 UTC",
			},
			wantAt:     launch.Add(5 * time.Minute),
			wantAction: ActionTerminate,
		},
		{
			name: "terminate ties stop",
			tags: map[string]string{
				keys.StopAfterDuration:      "1h",
				keys.TerminateAfterDatetime: "2024-01-01 01:00:00 UTC",
			},
			wantAt:     launch.Add(time.Hour),
			wantAction: ActionTerminate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := Build(newResource(tt.tags), keys)
			require.NoError(t, err)
			assert.Equal(t, At(tt.wantAt), inst.Expiration)
			assert.Equal(t, tt.wantAction, inst.Action)
		})
	}
}

func TestBuild_DatetimeTieTerminateWins(t *testing.T) {
	keys := NewTagKeys("expiration")
	inst, err := Build(newResource(map[string]string{
		keys.StopAfterDatetime:      "2024-06-01 00:00:00 UTC",
		keys.TerminateAfterDatetime: "2024-06-01 00:00:00 UTC",
	}), keys)
	require.NoError(t, err)

	assert.Equal(t, ActionTerminate, inst.Action)
	assert.Equal(t, At(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)), inst.Expiration)
}

func TestBuild_MalformedDegradesOnlyItsCandidate(t *testing.T) {
	keys := NewTagKeys("expiration")
	inst, err := Build(newResource(map[string]string{
		keys.StopAfterDuration:      "3x",
		keys.StopAfterDatetime:      "2024-01-01 05:00:00 UTC",
		keys.TerminateAfterDuration: "4h",
		keys.TerminateAfterDatetime: "2024-01-01 06:00:00 UTC",
	}), keys)
	require.NoError(t, err)

	assert.Equal(t, At(time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)), inst.StopAt)
	assert.Equal(t, At(launch.Add(4*time.Hour)), inst.TerminateAt)
	assert.Equal(t, At(launch.Add(4*time.Hour)), inst.Expiration)
	assert.Equal(t, ActionTerminate, inst.Action)
	assert.Equal(t, []string{keys.StopAfterDuration}, inst.Malformed)
}

func TestBuild_NoExpiration(t *testing.T) {
	keys := NewTagKeys("expiration")

	tests := []struct {
		name string
		tags map[string]string
	}{
		{"no tags", nil},
		{"unrelated tags", map[string]string{"Name": "web", "other:stop-after-duration": "1h"}},
		{"all malformed", map[string]string{
			keys.StopAfterDuration:      "soon",
			keys.StopAfterDatetime:      "next week",
			keys.TerminateAfterDuration: "3x",
			keys.TerminateAfterDatetime: "2024-01-01",
		}},
		{"empty values", map[string]string{keys.StopAfterDuration: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := Build(newResource(tt.tags), keys)
			assert.Nil(t, inst)
			assert.ErrorIs(t, err, ErrNoExpiration)
		})
	}
}

func TestBuild_DurationWithoutLaunchTime(t *testing.T) {
	keys := NewTagKeys("expiration")
	r := newResource(map[string]string{
		keys.StopAfterDuration:      "1h",
		keys.TerminateAfterDatetime: "2024-02-01 00:00:00 UTC",
	})
	r.LaunchedAt = time.Time{}

	inst, err := Build(r, keys)
	require.NoError(t, err)
	assert.False(t, inst.StopAt.IsSet())
	assert.Equal(t, ActionTerminate, inst.Action)
}

func TestBuild_InvalidInstance(t *testing.T) {
	keys := NewTagKeys("expiration")

	r := newResource(map[string]string{keys.StopAfterDuration: "1h"})
	r.ID = ""
	_, err := Build(r, keys)
	assert.ErrorIs(t, err, ErrInvalidInstance)

	r = newResource(map[string]string{keys.StopAfterDuration: "1h"})
	r.State = ""
	_, err = Build(r, keys)
	assert.ErrorIs(t, err, ErrInvalidInstance)
}

func TestBuild_CustomPrefix(t *testing.T) {
	keys := NewTagKeys("lab")
	inst, err := Build(newResource(map[string]string{
		"expiration:stop-after-duration": "1h",
		"lab:terminate-after-duration":   "2h",
	}), keys)
	require.NoError(t, err)
	assert.Equal(t, ActionTerminate, inst.Action)
	assert.Equal(t, At(launch.Add(2*time.Hour)), inst.Expiration)
}

func TestAction(t *testing.T) {
	assert.Equal(t, "stop", ActionStop.Verb())
	assert.Equal(t, "terminate", ActionTerminate.Verb())
	assert.Equal(t, "Stopped", ActionStop.Past())
	assert.Equal(t, "Terminated", ActionTerminate.Past())
	assert.Equal(t, "STOP", ActionStop.String())
	assert.Equal(t, "TERM", ActionTerminate.String())
}

func TestInstance_IsRunning(t *testing.T) {
	for state, want := range map[string]bool{
		"pending":  true,
		"running":  true,
		"stopping": false,
		"stopped":  false,
	} {
		r := newResource(map[string]string{"expiration:stop-after-duration": "1h"})
		r.State = state
		inst, err := Build(r, NewTagKeys(""))
		require.NoError(t, err)
		assert.Equal(t, want, inst.IsRunning(), state)
	}
}
