package quiet

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2025, time.March, 10, hour, min, 0, 0, time.UTC)
}

func TestSuppressed_NonWrappingWindow(t *testing.T) {
	tests := []struct {
		name       string
		hour       int
		start, end int
		want       bool
	}{
		{"before_window", 8, 9, 17, false},
		{"at_start", 9, 9, 17, true},
		{"inside", 12, 9, 17, true},
		{"last_suppressed_hour", 16, 9, 17, true},
		{"at_end", 17, 9, 17, false},
		{"after_window", 20, 9, 17, false},
		{"midnight_start", 0, 0, 6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Suppressed(at(tt.hour, 30), tt.start, tt.end)
			if got != tt.want {
				t.Errorf("Suppressed(hour=%d, %d-%d) = %v, want %v",
					tt.hour, tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestSuppressed_WrappingWindow(t *testing.T) {
	// The canonical overnight window: 22:00 to 08:00.
	tests := []struct {
		name string
		hour int
		want bool
	}{
		{"at_start", 22, true},
		{"late_evening", 23, true},
		{"midnight", 0, true},
		{"early_morning", 7, true},
		{"at_end", 8, false},
		{"midday", 13, false},
		{"just_before_start", 21, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Suppressed(at(tt.hour, 5), 22, 8)
			if got != tt.want {
				t.Errorf("Suppressed(hour=%d, 22-8) = %v, want %v", tt.hour, got, tt.want)
			}
		})
	}
}

func TestSuppressed_EqualHoursAlwaysSuppressed(t *testing.T) {
	for hour := 0; hour < 24; hour++ {
		if !Suppressed(at(hour, 0), 10, 10) {
			t.Errorf("Suppressed(hour=%d, 10-10) = false, want true", hour)
		}
	}
}

func TestNextEligible_SameDay(t *testing.T) {
	// 02:30 inside a 22-8 window resolves to 08:00 the same day.
	got := NextEligible(at(2, 30), 22, 8)
	want := at(8, 0)
	if !got.Equal(want) {
		t.Errorf("NextEligible = %v, want %v", got, want)
	}
}

func TestNextEligible_NextDay(t *testing.T) {
	// 23:05 inside a 22-8 window resolves to 08:00 tomorrow.
	got := NextEligible(at(23, 5), 22, 8)
	want := time.Date(2025, time.March, 11, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextEligible = %v, want %v", got, want)
	}
}

func TestNextEligible_StrictlyFuture(t *testing.T) {
	// Exactly at endHour:00 the window is over, but the next eligible
	// instant must still be strictly in the future.
	got := NextEligible(at(8, 0), 22, 8)
	want := time.Date(2025, time.March, 11, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextEligible = %v, want %v", got, want)
	}
	if !got.After(at(8, 0)) {
		t.Error("NextEligible must be strictly after the input")
	}
}

func TestNextEligible_EqualHours(t *testing.T) {
	got := NextEligible(at(9, 59), 10, 10)
	want := at(10, 0)
	if !got.Equal(want) {
		t.Errorf("NextEligible = %v, want %v", got, want)
	}

	got = NextEligible(at(10, 0), 10, 10)
	want = time.Date(2025, time.March, 11, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextEligible at rollover = %v, want %v", got, want)
	}
}

func TestNextEligible_MonthBoundary(t *testing.T) {
	last := time.Date(2025, time.March, 31, 23, 30, 0, 0, time.UTC)
	got := NextEligible(last, 22, 8)
	want := time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextEligible = %v, want %v", got, want)
	}
}
