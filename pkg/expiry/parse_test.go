package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Duration
		ok    bool
	}{
		{"hours", "2h", 2 * time.Hour, true},
		{"days", "1d", 24 * time.Hour, true},
		{"all components", "1d2h3m4s", 26*time.Hour + 3*time.Minute + 4*time.Second, true},
		{"spaced components", "1d 2h 3m 4s", 26*time.Hour + 3*time.Minute + 4*time.Second, true},
		{"subset", "1d30m", 24*time.Hour + 30*time.Minute, true},
		{"fractional", "1.5h", 90 * time.Minute, true},
		{"fractional days", "0.5d", 12 * time.Hour, true},
		{"surrounding whitespace", "  45m ", 45 * time.Minute, true},
		{"seconds only", "30s", 30 * time.Second, true},
		{"empty", "", 0, false},
		{"zero", "0h", 0, false},
		{"unknown unit", "3x", 0, false},
		{"out of order", "2h1d", 0, false},
		{"no unit", "42", 0, false},
		{"not a number", "..h", 0, false},
		{"negative", "-1h", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDuration(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDatetime(t *testing.T) {
	got, ok := ParseDatetime("2024-06-01 00:00:00 UTC")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestParseDatetime_ZoneTokenIgnored(t *testing.T) {
	for _, zone := range []string{"UTC", "GMT", "EST", "PDT", "XYZ"} {
		t.Run(zone, func(t *testing.T) {
			got, ok := ParseDatetime("2024-06-01 13:45:10 " + zone)
			require.True(t, ok)
			assert.Equal(t, time.Date(2024, 6, 1, 13, 45, 10, 0, time.UTC), got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseDatetime_Invalid(t *testing.T) {
	for _, input := range []string{
		"",
		"2024-06-01",
		"2024-06-01 00:00:00",
		"2024-06-01T00:00:00Z",
		"2024-13-01 00:00:00 UTC",
		"tomorrow",
	} {
		t.Run(input, func(t *testing.T) {
			_, ok := ParseDatetime(input)
			assert.False(t, ok)
		})
	}
}
