package expiry

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DatetimeLayout is the only accepted absolute-datetime tag format.
// The zone token is required but ignored; values are always read as UTC.
const DatetimeLayout = "2006-01-02 15:04:05 MST"

var durationPattern = regexp.MustCompile(
	`^((?P<days>[.\d]+?)d)? *((?P<hours>[.\d]+?)h)? *((?P<minutes>[.\d]+?)m)? *((?P<seconds>[.\d]+?)s)?$`,
)

var durationUnits = map[string]float64{
	"days":    float64(24 * time.Hour),
	"hours":   float64(time.Hour),
	"minutes": float64(time.Minute),
	"seconds": float64(time.Second),
}

// ParseDuration parses an expiration duration such as "2h", "1d 12h" or
// "0.5d30m". Components must appear in d, h, m, s order and are each optional.
//
// It returns false when the value does not match the grammar, when a
// component is not a number, or when the total is zero. A zero duration is
// treated the same as no duration at all.
func ParseDuration(s string) (time.Duration, bool) {
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}

	var total float64
	for i, name := range durationPattern.SubexpNames() {
		unit, ok := durationUnits[name]
		if !ok || m[i] == "" {
			continue
		}
		n, err := strconv.ParseFloat(m[i], 64)
		if err != nil {
			return 0, false
		}
		total += n * unit
	}

	if total <= 0 || total > math.MaxInt64 {
		return 0, false
	}
	return time.Duration(math.Round(total)), true
}

// ParseDatetime parses an absolute expiration such as
// "2024-06-01 00:00:00 UTC". The wall clock is always taken as UTC,
// whatever zone abbreviation the value carries.
func ParseDatetime(s string) (time.Time, bool) {
	t, err := time.Parse(DatetimeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), true
}
