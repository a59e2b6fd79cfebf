// Package market provides the trading session calendar.
package market

import (
	"fmt"
	"time"
)

// Calendar answers whether the market is in session at a given instant.
// Sessions run between fixed open and close times of day on weekdays.
type Calendar struct {
	openHour, openMin, openSec    int
	closeHour, closeMin, closeSec int
}

// NewCalendar parses "HH:MM:SS" open and close times.
func NewCalendar(open, close string) (*Calendar, error) {
	openT, err := time.Parse("15:04:05", open)
	if err != nil {
		return nil, fmt.Errorf("invalid market open time %q: %w", open, err)
	}
	closeT, err := time.Parse("15:04:05", close)
	if err != nil {
		return nil, fmt.Errorf("invalid market close time %q: %w", close, err)
	}
	if !openT.Before(closeT) {
		return nil, fmt.Errorf("market open %q must be before close %q", open, close)
	}

	return &Calendar{
		openHour: openT.Hour(), openMin: openT.Minute(), openSec: openT.Second(),
		closeHour: closeT.Hour(), closeMin: closeT.Minute(), closeSec: closeT.Second(),
	}, nil
}

// openAt and closeAt return the session bounds on now's calendar day.
func (c *Calendar) openAt(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), c.openHour, c.openMin, c.openSec, 0, now.Location())
}

func (c *Calendar) closeAt(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), c.closeHour, c.closeMin, c.closeSec, 0, now.Location())
}

// IsOpen reports whether now falls inside a trading session.
func (c *Calendar) IsOpen(now time.Time) bool {
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	return !now.Before(c.openAt(now)) && now.Before(c.closeAt(now))
}

// AfterClose reports whether now is past today's session close. Weekends
// count as after close.
func (c *Calendar) AfterClose(now time.Time) bool {
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return true
	}
	return !now.Before(c.closeAt(now))
}
