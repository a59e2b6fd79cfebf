package market

import (
	"testing"
	"time"
)

func newTestCalendar(t *testing.T) *Calendar {
	t.Helper()

	c, err := NewCalendar("09:00:00", "15:30:00")
	if err != nil {
		t.Fatalf("NewCalendar returned error: %v", err)
	}
	return c
}

func TestNewCalendarRejectsBadInput(t *testing.T) {
	tests := []struct {
		name        string
		open, close string
	}{
		{"malformed open", "9am", "15:30:00"},
		{"malformed close", "09:00:00", "half three"},
		{"open after close", "16:00:00", "15:30:00"},
		{"open equals close", "09:00:00", "09:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCalendar(tt.open, tt.close); err == nil {
				t.Errorf("NewCalendar(%q, %q) expected error", tt.open, tt.close)
			}
		})
	}
}

func TestIsOpen(t *testing.T) {
	c := newTestCalendar(t)

	// 2026-03-02 is a Monday.
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", time.Date(2026, 3, 2, 8, 59, 59, 0, time.UTC), false},
		{"at open", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), true},
		{"mid session", time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), true},
		{"at close", time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC), false},
		{"after close", time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC), false},
		{"saturday mid session", time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC), false},
		{"sunday mid session", time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsOpen(tt.at); got != tt.want {
				t.Errorf("IsOpen(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestAfterClose(t *testing.T) {
	c := newTestCalendar(t)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), false},
		{"mid session", time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), false},
		{"at close", time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC), true},
		{"evening", time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC), true},
		{"saturday morning", time.Date(2026, 3, 7, 8, 0, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.AfterClose(tt.at); got != tt.want {
				t.Errorf("AfterClose(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}
