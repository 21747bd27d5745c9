package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/lapse/pkg/resource"
)

func TestMatch_NoFilters(t *testing.T) {
	f := New(nil, nil, nil)
	r := resource.Resource{ID: "i-123", State: "running", Tags: map[string]string{"env": "prod"}}
	assert.True(t, f.Match(r))
	assert.True(t, f.IsEmpty())
}

func TestMatch_States(t *testing.T) {
	f := New([]string{"Running", " pending"}, nil, nil)
	assert.True(t, f.Match(resource.Resource{ID: "i-1", State: "running"}))
	assert.True(t, f.Match(resource.Resource{ID: "i-2", State: "pending"}))
	assert.False(t, f.Match(resource.Resource{ID: "i-3", State: "stopped"}))
}

func TestMatch_IncludeTags_MultipleRequired(t *testing.T) {
	f := New(nil, map[string]string{"env": "prod", "team": "platform"}, nil)

	r1 := resource.Resource{ID: "i-123", Tags: map[string]string{"env": "prod", "team": "platform"}}
	assert.True(t, f.Match(r1))

	// Missing one tag
	r2 := resource.Resource{ID: "i-456", Tags: map[string]string{"env": "prod"}}
	assert.False(t, f.Match(r2))

	r3 := resource.Resource{ID: "i-789"}
	assert.False(t, f.Match(r3))
}

func TestMatch_ExcludeTags(t *testing.T) {
	f := New(nil, nil, map[string]string{"protected": "true"})
	assert.False(t, f.Match(resource.Resource{ID: "i-1", Tags: map[string]string{"protected": "true"}}))
	assert.True(t, f.Match(resource.Resource{ID: "i-2", Tags: map[string]string{"protected": "false"}}))
	assert.True(t, f.Match(resource.Resource{ID: "i-3"}))
}

func TestMatch_IncludeAndExclude(t *testing.T) {
	f := New([]string{"running"}, map[string]string{"env": "dev"}, map[string]string{"keep": "yes"})

	tests := []struct {
		name string
		r    resource.Resource
		want bool
	}{
		{"all match", resource.Resource{State: "running", Tags: map[string]string{"env": "dev"}}, true},
		{"wrong state", resource.Resource{State: "stopped", Tags: map[string]string{"env": "dev"}}, false},
		{"excluded", resource.Resource{State: "running", Tags: map[string]string{"env": "dev", "keep": "yes"}}, false},
		{"wrong env", resource.Resource{State: "running", Tags: map[string]string{"env": "prod"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Match(tt.r))
		})
	}
}

func TestApply(t *testing.T) {
	resources := []resource.Resource{
		{ID: "i-1", State: "running"},
		{ID: "i-2", State: "stopped"},
		{ID: "i-3", State: "running"},
	}

	assert.Len(t, New(nil, nil, nil).Apply(resources), 3)

	got := New([]string{"running"}, nil, nil).Apply(resources)
	require.Len(t, got, 2)
	assert.Equal(t, "i-1", got[0].ID)
	assert.Equal(t, "i-3", got[1].ID)
}

func TestParseTags(t *testing.T) {
	tags, err := ParseTags([]string{"env=prod", "owner=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"env": "prod", "owner": "a=b", "empty": ""}, tags)

	tags, err = ParseTags(nil)
	require.NoError(t, err)
	assert.Nil(t, tags)

	_, err = ParseTags([]string{"novalue"})
	assert.Error(t, err)

	_, err = ParseTags([]string{"=x"})
	assert.Error(t, err)
}
