package expiry

import (
	"fmt"
	"strings"
)

// DefaultTagPrefix namespaces the expiration tags when none is configured.
const DefaultTagPrefix = "expiration"

// Tag name suffixes under the configured prefix.
const (
	SuffixStopAfterDuration      = "stop-after-duration"
	SuffixStopAfterDatetime      = "stop-after-datetime"
	SuffixTerminateAfterDuration = "terminate-after-duration"
	SuffixTerminateAfterDatetime = "terminate-after-datetime"
)

// TagKeys holds the four exact tag keys read from each instance.
type TagKeys struct {
	Prefix                 string
	StopAfterDuration      string
	StopAfterDatetime      string
	TerminateAfterDuration string
	TerminateAfterDatetime string
}

// NewTagKeys builds the tag keys for prefix. An empty prefix falls back to
// DefaultTagPrefix.
func NewTagKeys(prefix string) TagKeys {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultTagPrefix
	}
	key := func(suffix string) string { return fmt.Sprintf("%s:%s", prefix, suffix) }
	return TagKeys{
		Prefix:                 prefix,
		StopAfterDuration:      key(SuffixStopAfterDuration),
		StopAfterDatetime:      key(SuffixStopAfterDatetime),
		TerminateAfterDuration: key(SuffixTerminateAfterDuration),
		TerminateAfterDatetime: key(SuffixTerminateAfterDatetime),
	}
}

// Wildcard is the tag-key filter value matching every key under the prefix.
func (k TagKeys) Wildcard() string {
	return k.Prefix + ":*"
}

// All returns the four keys in stop, terminate order.
func (k TagKeys) All() []string {
	return []string{k.StopAfterDuration, k.StopAfterDatetime, k.TerminateAfterDuration, k.TerminateAfterDatetime}
}
