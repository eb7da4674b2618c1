package timezone

import (
	"testing"
	"time"
)

func TestLocalDate_CrossesUTCMidnight(t *testing.T) {
	n := New(FixedKST())

	tests := []struct {
		utc  time.Time
		want string
	}{
		{time.Date(2025, 11, 11, 14, 59, 59, 0, time.UTC), "2025-11-11"},
		{time.Date(2025, 11, 11, 15, 0, 0, 0, time.UTC), "2025-11-12"},
		{time.Date(2025, 12, 31, 15, 30, 0, 0, time.UTC), "2026-01-01"},
	}

	for _, tt := range tests {
		if got := n.LocalDate(tt.utc); got != tt.want {
			t.Errorf("LocalDate(%s) = %s, want %s", tt.utc, got, tt.want)
		}
	}
}

func TestDayBounds(t *testing.T) {
	n := New(FixedKST())

	start, end, err := n.DayBounds("2025-11-12")
	if err != nil {
		t.Fatalf("DayBounds: %v", err)
	}

	wantStart := time.Date(2025, 11, 11, 15, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 11, 12, 15, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Errorf("start = %s, want %s", start, wantStart)
	}
	if !end.Equal(wantEnd) {
		t.Errorf("end = %s, want %s", end, wantEnd)
	}

	// Every instant inside the bounds maps back to the same date.
	for ts := start; ts.Before(end); ts = ts.Add(37 * time.Minute) {
		if got := n.LocalDate(ts); got != "2025-11-12" {
			t.Fatalf("LocalDate(%s) = %s inside bounds", ts, got)
		}
	}
}

func TestDayBounds_Malformed(t *testing.T) {
	n := New(FixedKST())
	for _, bad := range []string{"", "2025-13-01", "11/12/2025", "2025-11-31"} {
		if _, _, err := n.DayBounds(bad); err == nil {
			t.Errorf("DayBounds(%q) expected error", bad)
		}
	}
}

func TestToday_UsesInjectedClock(t *testing.T) {
	clock := func() time.Time { return time.Date(2025, 7, 4, 16, 0, 0, 0, time.UTC) }
	n := NewWithClock(FixedKST(), clock)

	if got := n.Today(); got != "2025-07-05" {
		t.Errorf("Today() = %s, want 2025-07-05", got)
	}
}

func TestWeekBounds_StartsSunday(t *testing.T) {
	n := New(FixedKST())

	// Wednesday 2025-07-09 10:00 KST
	now := time.Date(2025, 7, 9, 1, 0, 0, 0, time.UTC)
	start, end := n.WeekBounds(now)

	if got := n.LocalDate(start); got != "2025-07-06" {
		t.Errorf("week start = %s, want 2025-07-06", got)
	}
	if n.Weekday(start) != time.Sunday {
		t.Errorf("week start weekday = %s, want Sunday", n.Weekday(start))
	}
	if got := end.Sub(start); got != 7*24*time.Hour {
		t.Errorf("week length = %s, want 168h", got)
	}
}

func TestMonthBounds(t *testing.T) {
	n := New(FixedKST())

	// 2024-02-29 23:30 KST
	now := time.Date(2024, 2, 29, 14, 30, 0, 0, time.UTC)
	start, end, days := n.MonthBounds(now)

	if days != 29 {
		t.Errorf("days = %d, want 29", days)
	}
	if got := n.LocalDate(start); got != "2024-02-01" {
		t.Errorf("start = %s, want 2024-02-01", got)
	}
	if got := n.LocalDate(end); got != "2024-03-01" {
		t.Errorf("end = %s, want 2024-03-01", got)
	}
}

func TestAddDaysAndDaysBetween(t *testing.T) {
	n := New(FixedKST())

	got, err := n.AddDays("2025-03-01", -1)
	if err != nil {
		t.Fatalf("AddDays: %v", err)
	}
	if got != "2025-02-28" {
		t.Errorf("AddDays(2025-03-01, -1) = %s, want 2025-02-28", got)
	}

	d, err := DaysBetween("2025-02-27", "2025-03-02")
	if err != nil {
		t.Fatalf("DaysBetween: %v", err)
	}
	if d != 3 {
		t.Errorf("DaysBetween = %d, want 3", d)
	}
}

func TestLoad_DefaultNeverFails(t *testing.T) {
	loc, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	_, offset := time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
	if offset != 9*60*60 {
		t.Errorf("default offset = %d, want %d", offset, 9*60*60)
	}

	if _, err := Load("Not/AZone"); err == nil {
		t.Error("Load(Not/AZone) expected error")
	}
}
