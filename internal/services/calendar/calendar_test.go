package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextTradingDaysSkipsWeekends(t *testing.T) {
	// Thursday 2024-03-07
	got := NextTradingDays(date(2024, 3, 7), 4)
	require.Len(t, got, 4)
	assert.Equal(t, []time.Time{date(2024, 3, 8), date(2024, 3, 11), date(2024, 3, 12), date(2024, 3, 13)}, got)
}

func TestNextTradingDaysProperties(t *testing.T) {
	start := date(2023, 12, 29)
	for n := 1; n <= 40; n++ {
		got := NextTradingDays(start, n)
		require.Len(t, got, n)
		prev := start
		for _, d := range got {
			assert.True(t, d.After(prev), "dates must increase")
			assert.True(t, IsTradingDay(d), "%s is a weekend", d)
			prev = d
		}
	}
}

func TestNextTradingDaysDegenerate(t *testing.T) {
	got := NextTradingDays(date(2024, 3, 7), 0)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, NextTradingDays(date(2024, 3, 7), -3))
}

func TestNextTradingDaysFromWeekend(t *testing.T) {
	// Saturday
	got := NextTradingDays(date(2024, 3, 9), 1)
	assert.Equal(t, []time.Time{date(2024, 3, 11)}, got)
}

func TestPreviousTradingDays(t *testing.T) {
	// Monday 2024-03-11
	got := PreviousTradingDays(date(2024, 3, 11), 3)
	assert.Equal(t, []time.Time{date(2024, 3, 7), date(2024, 3, 8), date(2024, 3, 11)}, got)

	// Sunday end excludes itself
	got = PreviousTradingDays(date(2024, 3, 10), 2)
	assert.Equal(t, []time.Time{date(2024, 3, 7), date(2024, 3, 8)}, got)
}

func TestTradingDaysBetween(t *testing.T) {
	assert.Equal(t, 0, TradingDaysBetween(date(2024, 3, 7), date(2024, 3, 7)))
	assert.Equal(t, 1, TradingDaysBetween(date(2024, 3, 7), date(2024, 3, 9)))
	assert.Equal(t, 3, TradingDaysBetween(date(2024, 3, 7), date(2024, 3, 12)))
	assert.Equal(t, 0, TradingDaysBetween(date(2024, 3, 12), date(2024, 3, 7)))
}
