package timezone

import (
	"testing"
	"time"
)

func TestDayBoundsUsesLocalCalendarDay(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	// 23:30 UTC on Jan 9 is already Jan 10 locally
	ts := time.Date(2024, 1, 9, 23, 30, 0, 0, time.UTC)

	start, end := DayBounds(ts, loc)
	wantStart := time.Date(2024, 1, 9, 22, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) || start.Location() != time.UTC {
		t.Errorf("start = %v, want %v in UTC", start, wantStart)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Errorf("day length = %v, want 24h", end.Sub(start))
	}
	if got := LocalDate(ts, loc); got != "2024-01-10" {
		t.Errorf("LocalDate = %s, want 2024-01-10", got)
	}
}

func TestDaysInclusive(t *testing.T) {
	loc := time.UTC
	from, _ := ParseDate("2024-02-27", loc)
	to, _ := ParseDate("2024-03-01", loc)

	days := Days(from, to, loc)
	want := []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01"}
	if len(days) != len(want) {
		t.Fatalf("got %d days, want %d", len(days), len(want))
	}
	for i, d := range days {
		if d.Format(DateLayout) != want[i] {
			t.Errorf("day %d = %s, want %s", i, d.Format(DateLayout), want[i])
		}
	}
}

func TestInitializeFallsBackOnUnknownZone(t *testing.T) {
	loc := Initialize("Not/AZone")
	if loc != time.Local {
		t.Errorf("expected fallback to time.Local, got %v", loc)
	}
	if Location() != loc {
		t.Errorf("Location() should return the initialized zone")
	}
}
