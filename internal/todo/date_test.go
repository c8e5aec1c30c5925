package todo

import (
	"errors"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in         string
		wantFormat bool // ErrDateFormat expected
		wantErr    bool
	}{
		{"2025-03-01", false, false},
		{"2024-02-29", false, false},
		{"2025-13-01", false, true},
		{"2025-01-32", false, true},
		{"2025-02-30", false, true},
		{"2025-3-1", true, true},
		{"01.03.2025", true, true},
		{"tomorrow", true, true},
		{"2025-03-01 ", true, true},
		{"", true, true},
	}
	for _, tt := range tests {
		got, err := ParseDate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDate(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if errors.Is(err, ErrDateFormat) != tt.wantFormat {
			t.Errorf("ParseDate(%q) format error = %v, want %v", tt.in, errors.Is(err, ErrDateFormat), tt.wantFormat)
		}
		if err == nil && FormatDate(got) != tt.in {
			t.Errorf("ParseDate(%q) round trip = %q", tt.in, FormatDate(got))
		}
	}
}

func TestDaysUntil(t *testing.T) {
	msk := time.FixedZone("MSK", 3*60*60)
	today := time.Date(2025, 3, 1, 23, 30, 0, 0, msk)

	tests := []struct {
		deadline string
		want     int
	}{
		{"2025-03-01", 0},
		{"2025-03-02", 1},
		{"2025-03-03", 2},
		{"2025-02-28", -1},
		{"2025-04-01", 31},
	}
	for _, tt := range tests {
		d, err := ParseDate(tt.deadline)
		if err != nil {
			t.Fatal(err)
		}
		if got := DaysUntil(today, d); got != tt.want {
			t.Errorf("DaysUntil(%s) = %d, want %d", tt.deadline, got, tt.want)
		}
	}
}

func TestDate_UsesWallClockDay(t *testing.T) {
	late := time.Date(2025, 3, 1, 23, 59, 0, 0, time.FixedZone("X", 5*60*60))
	if got := FormatDate(Date(late)); got != "2025-03-01" {
		t.Errorf("Date = %s, want 2025-03-01", got)
	}
}
