package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInput(action string, tags map[string]string) Input {
	return Input{
		InstanceID: "i-0abc",
		State:      "running",
		Action:     action,
		Expiration: time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC),
		LaunchedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Tags:       tags,
		Now:        time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC),
	}
}

func TestLoadGuard_Deny(t *testing.T) {
	ctx := context.Background()
	g, err := LoadGuard(ctx, "testdata/protect.rego")
	require.NoError(t, err)
	assert.Equal(t, "protect.rego", g.Name())

	tests := []struct {
		name   string
		input  Input
		denied []string
	}{
		{
			name:  "unprotected terminate allowed",
			input: testInput("TERM", map[string]string{}),
		},
		{
			name:  "protected stop allowed",
			input: testInput("STOP", map[string]string{"protected": "true"}),
		},
		{
			name:   "protected terminate denied",
			input:  testInput("TERM", map[string]string{"protected": "true"}),
			denied: []string{"instance i-0abc is protected from termination"},
		},
		{
			name:  "production denied for every reason",
			input: testInput("TERM", map[string]string{"protected": "true", "environment": "production"}),
			denied: []string{
				"instance i-0abc is protected from termination",
				"production instances are never expired",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasons, err := g.Deny(ctx, tt.input)
			require.NoError(t, err)
			if tt.denied == nil {
				assert.Empty(t, reasons)
				return
			}
			assert.Equal(t, tt.denied, reasons)
		})
	}
}

func TestNewGuard_NoDenyRule(t *testing.T) {
	g, err := NewGuard(context.Background(), "empty.rego", "package lapse.guard\n\nallow := true\n")
	require.NoError(t, err)

	reasons, err := g.Deny(context.Background(), testInput("STOP", nil))
	require.NoError(t, err)
	assert.Empty(t, reasons)
}

func TestNewGuard_CompileError(t *testing.T) {
	_, err := NewGuard(context.Background(), "broken.rego", "package lapse.guard\n\ndeny contains msg if {")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile guard policy broken.rego")
}

func TestLoadGuard_MissingFile(t *testing.T) {
	_, err := LoadGuard(context.Background(), filepath.Join(t.TempDir(), "nope.rego"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
