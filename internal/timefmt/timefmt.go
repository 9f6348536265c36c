// Package timefmt is the single timestamp serializer for the agent.
//
// Every code path that writes, queries, or transmits a scan timestamp goes
// through Format/Parse. Storage comparisons are lexicographic on the
// serialized form, so the layout is fixed-width UTC with a trailing Z.
package timefmt

import (
	"fmt"
	"time"
)

// Layout is RFC3339 UTC with fixed millisecond precision and a 'Z' suffix.
// Fixed width keeps string comparison equivalent to time comparison.
const Layout = "2006-01-02T15:04:05.000Z"

// Format serializes t in the canonical layout. The input is converted to UTC
// first; callers never need to pre-normalize.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Parse reads a timestamp previously produced by Format. It also accepts
// plain RFC3339 so externally supplied values (config echoes, tests) parse.
func Parse(s string) (time.Time, error) {
	if t, err := time.Parse(Layout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
