package timefmt

import (
	"sort"
	"strings"
	"testing"
	"time"
)

func TestFormatIsFixedWidthUTC(t *testing.T) {
	cases := []time.Time{
		time.Date(2026, 3, 9, 8, 5, 3, 7_000_000, time.UTC),
		time.Date(1999, 12, 31, 23, 59, 59, 999_000_000, time.UTC),
		time.Date(2026, 3, 9, 10, 5, 3, 0, time.FixedZone("CET", 3600)),
	}
	for _, tc := range cases {
		s := Format(tc)
		if len(s) != len(Layout) {
			t.Errorf("Format(%v) = %q, want fixed width %d", tc, s, len(Layout))
		}
		if !strings.HasSuffix(s, "Z") {
			t.Errorf("Format(%v) = %q, want trailing Z", tc, s)
		}
	}
}

func TestFormatNormalizesZone(t *testing.T) {
	utc := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("UTC+3", 3*3600))
	if got, want := Format(local), Format(utc); got != want {
		t.Errorf("Format in zone = %q, want %q", got, want)
	}
}

func TestRoundTripMillisecondPrecision(t *testing.T) {
	orig := time.Date(2026, 3, 9, 8, 5, 3, 123_000_000, time.UTC)
	parsed, err := Parse(Format(orig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !parsed.Equal(orig) {
		t.Errorf("round trip = %v, want %v", parsed, orig)
	}
}

func TestParseAcceptsPlainRFC3339(t *testing.T) {
	parsed, err := Parse("2026-03-09T08:05:03+02:00")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := time.Date(2026, 3, 9, 6, 5, 3, 0, time.UTC)
	if !parsed.Equal(want) {
		t.Errorf("Parse = %v, want %v", parsed, want)
	}
	if parsed.Location() != time.UTC {
		t.Errorf("Parse location = %v, want UTC", parsed.Location())
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "yesterday", "2026-13-01T00:00:00.000Z"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", s)
		}
	}
}

// Lexicographic order on the serialized form must match time order; the
// duplicate-window query compares strings.
func TestLexicographicOrderMatchesTimeOrder(t *testing.T) {
	base := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(90 * time.Minute),
		base,
		base.Add(time.Millisecond),
		base.Add(-24 * time.Hour),
		base.Add(365 * 24 * time.Hour),
	}
	formatted := make([]string, len(times))
	for i, tm := range times {
		formatted[i] = Format(tm)
	}
	sort.Strings(formatted)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i := range times {
		if formatted[i] != Format(times[i]) {
			t.Fatalf("order mismatch at %d: %q vs %q", i, formatted[i], Format(times[i]))
		}
	}
}
