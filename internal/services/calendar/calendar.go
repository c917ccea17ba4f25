package calendar

import (
	"time"

	"KronosCast/pkg/util"
)

// IsTradingDay reports whether t falls on Monday through Friday. Holidays are not modeled.
func IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// NextTradingDays returns n strictly increasing weekdays starting the day after last.
// Dates are calendar days in UTC. n < 1 yields an empty slice.
func NextTradingDays(last time.Time, n int) []time.Time {
	if n < 1 {
		return []time.Time{}
	}
	out := make([]time.Time, 0, n)
	d := util.Day(last)
	for len(out) < n {
		d = d.AddDate(0, 0, 1)
		if IsTradingDay(d) {
			out = append(out, d)
		}
	}
	return out
}

// PreviousTradingDays returns the last n weekdays ending at end (inclusive when end
// is itself a weekday), in ascending order.
func PreviousTradingDays(end time.Time, n int) []time.Time {
	if n < 1 {
		return []time.Time{}
	}
	out := make([]time.Time, n)
	d := util.Day(end)
	for i := n - 1; i >= 0; {
		if IsTradingDay(d) {
			out[i] = d
			i--
		}
		d = d.AddDate(0, 0, -1)
	}
	return out
}

// TradingDaysBetween counts weekdays in (from, to]. It is zero when to is not after from.
func TradingDaysBetween(from, to time.Time) int {
	f, t := util.Day(from), util.Day(to)
	n := 0
	for d := f.AddDate(0, 0, 1); !d.After(t); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			n++
		}
	}
	return n
}
