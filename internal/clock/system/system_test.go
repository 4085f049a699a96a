package system

import (
	"testing"
	"time"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestManualClock(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	clk := NewManual(start)
	if !clk.Now().Equal(start) || clk.Now().Location() != time.UTC {
		t.Fatalf("expected %v in UTC, got %v", start, clk.Now())
	}
	clk.Advance(6 * time.Hour)
	if got := clk.Now().Sub(start); got != 6*time.Hour {
		t.Fatalf("expected 6h advance, got %v", got)
	}
}
