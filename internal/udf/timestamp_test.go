package udf

import (
	"testing"
	"time"
)

func TestTimestampRoundTrip(t *testing.T) {
	tm := time.Date(2024, time.March, 5, 13, 45, 30, 250_000_000, time.UTC)
	ts := NewTimestamp(tm)
	got := ts.Time()

	if !got.Equal(tm) {
		t.Fatalf("timestamp round trip = %v, want %v", got, tm)
	}
}

func TestTimestampOffsetUnspecified(t *testing.T) {
	ts := Timestamp{TypeAndTimezone: 0x0FFF}
	if _, ok := ts.Offset(); ok {
		t.Fatalf("expected unspecified offset sentinel to report ok=false")
	}
}

func TestTimestampBefore(t *testing.T) {
	earlier := NewTimestamp(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	later := NewTimestamp(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
	if !earlier.Before(later) {
		t.Fatalf("expected earlier timestamp to be Before later")
	}
	if later.Before(earlier) {
		t.Fatalf("expected later timestamp not to be Before earlier")
	}
}
