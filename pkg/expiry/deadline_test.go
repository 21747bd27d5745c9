package expiry

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeadline_Compare(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, -1, At(t0).Compare(At(t0.Add(time.Second))))
	assert.Equal(t, 1, At(t0.Add(time.Second)).Compare(At(t0)))
	assert.Equal(t, 0, At(t0).Compare(At(t0)))

	assert.Equal(t, -1, At(t0).Compare(Never()), "present sorts before absent")
	assert.Equal(t, 1, Never().Compare(At(t0)))
	assert.Equal(t, 0, Never().Compare(Never()))
}

func TestDeadline_EqualAcrossZones(t *testing.T) {
	utc := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	est := utc.In(time.FixedZone("EST", -5*3600))
	assert.True(t, At(utc).Equal(At(est)))
}

func TestDeadline_SortAbsentLast(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := []Deadline{Never(), At(t0.Add(time.Hour)), Never(), At(t0)}

	sort.SliceStable(ds, func(i, j int) bool { return ds[i].Compare(ds[j]) < 0 })

	assert.Equal(t, At(t0), ds[0])
	assert.Equal(t, At(t0.Add(time.Hour)), ds[1])
	assert.False(t, ds[2].IsSet())
	assert.False(t, ds[3].IsSet())
}

func TestEarliest(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, Earliest().IsSet())
	assert.False(t, Earliest(Never(), Never()).IsSet())
	assert.Equal(t, At(t0), Earliest(Never(), At(t0)))
	assert.Equal(t, At(t0), Earliest(At(t0), Never()))
	assert.Equal(t, At(t0), Earliest(At(t0.Add(time.Minute)), At(t0), Never()))
}

func TestDeadline_DueBy(t *testing.T) {
	now := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)

	assert.True(t, At(now).DueBy(now), "expiring exactly now is due")
	assert.True(t, At(now.Add(-time.Second)).DueBy(now))
	assert.False(t, At(now.Add(time.Second)).DueBy(now))
	assert.False(t, Never().DueBy(now))
}

func TestDeadline_String(t *testing.T) {
	assert.Equal(t, "never", Never().String())
	assert.Equal(t, "2024-01-01T00:00:00Z", At(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)).String())
}
