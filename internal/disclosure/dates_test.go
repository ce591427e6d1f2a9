package disclosure

import (
	"errors"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	t.Parallel()

	jst := time.FixedZone("JST", 9*60*60)
	got, err := ParseDate("20240101", jst)
	if err != nil {
		t.Fatalf("ParseDate() error = %v", err)
	}
	if got.Year() != 2024 || got.Month() != time.January || got.Day() != 1 || got.Location() != jst {
		t.Fatalf("unexpected date %v", got)
	}

	for _, bad := range []string{"", "2024-01-01", "2024011", "20241301", "abcdefgh"} {
		if _, err := ParseDate(bad, jst); !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("ParseDate(%q) expected ErrInvalidDate, got %v", bad, err)
		}
	}
}

func TestTodayUsesLocation(t *testing.T) {
	t.Parallel()

	jst := time.FixedZone("JST", 9*60*60)
	now := time.Date(2024, 3, 14, 20, 0, 0, 0, time.UTC)
	got := Today(now, jst)
	if FormatDate(got) != "20240315" {
		t.Fatalf("expected JST rollover to 20240315, got %s", FormatDate(got))
	}
}

func TestDateRange(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	days, err := DateRange(start, end)
	if err != nil {
		t.Fatalf("DateRange() error = %v", err)
	}
	want := []string{"20240228", "20240229", "20240301"}
	if len(days) != len(want) {
		t.Fatalf("expected %d days, got %d", len(want), len(days))
	}
	for i, d := range days {
		if FormatDate(d) != want[i] {
			t.Fatalf("day %d = %s, want %s", i, FormatDate(d), want[i])
		}
	}

	if _, err := DateRange(end, start); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate for reversed range, got %v", err)
	}
}
