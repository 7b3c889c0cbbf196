// Package calendar implements the trading-calendar gate. No exchange in the
// universe holds a session on Saturday or Sunday; exchange-specific holidays
// can be layered on top.
package calendar

import "time"

// Calendar answers trading-day questions for the instrument universe.
// The zero value treats every weekday as a trading day.
type Calendar struct {
	holidays map[string]map[string]struct{} // exchange → "2006-01-02" set
}

// New creates a Calendar with no holidays registered.
func New() *Calendar {
	return &Calendar{holidays: make(map[string]map[string]struct{})}
}

// AddHoliday registers a non-trading date for the given exchange. An empty
// exchange applies the holiday to every exchange.
func (c *Calendar) AddHoliday(exchange string, date time.Time) {
	key := date.Format("2006-01-02")
	set, ok := c.holidays[exchange]
	if !ok {
		set = make(map[string]struct{})
		c.holidays[exchange] = set
	}
	set[key] = struct{}{}
}

// IsTradingDay reports whether the exchange holds a session on the given
// date. Saturday and Sunday are never trading days.
func (c *Calendar) IsTradingDay(date time.Time, exchange string) bool {
	if IsWeekend(date) {
		return false
	}
	key := date.Format("2006-01-02")
	if set, ok := c.holidays[exchange]; ok {
		if _, hit := set[key]; hit {
			return false
		}
	}
	if set, ok := c.holidays[""]; ok {
		if _, hit := set[key]; hit {
			return false
		}
	}
	return true
}

// IsWeekend reports whether the date falls on Saturday or Sunday.
func IsWeekend(date time.Time) bool {
	wd := date.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
