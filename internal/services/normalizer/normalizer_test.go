package normalizer

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KronosCast/internal/domain/models"
	"KronosCast/internal/services/calendar"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNormalizeChineseColumns(t *testing.T) {
	feed := models.RawFeed{
		Columns: []string{"日期", "开盘", "最高", "最低", "收盘", "成交量"},
		Rows: [][]interface{}{
			{"2024-03-08", "10.1", "10.5", "9.9", "10.2", "12000"},
			{"2024-03-07", 10.0, 10.3, 9.8, 10.1, int64(11000)},
		},
	}
	s, err := New(nil).Normalize(feed)
	require.NoError(t, err)
	require.Len(t, s.Bars, 2)
	assert.False(t, s.Synthesized)
	assert.Equal(t, day(2024, 3, 7), s.Bars[0].Date)
	assert.Equal(t, day(2024, 3, 8), s.Bars[1].Date)
	assert.InDelta(t, 10.2, s.Bars[1].Close, 1e-9)
	assert.InDelta(t, 12000, s.Bars[1].Volume, 1e-9)
}

func TestNormalizeSubstringAndCaseMatching(t *testing.T) {
	feed := models.RawFeed{
		Columns: []string{" Date ", "Open Price", "HIGH", "low_px", "Close", "Volume (shares)"},
		Rows: [][]interface{}{
			{"2024-03-07", decimal.NewFromFloat(5), 6.0, 4.0, 5.5, 100},
		},
	}
	s, err := New(nil).Normalize(feed)
	require.NoError(t, err)
	require.Len(t, s.Bars, 1)
	assert.InDelta(t, 5.0, s.Bars[0].Open, 1e-9)
	assert.InDelta(t, 100.0, s.Bars[0].Volume, 1e-9)
}

func TestNormalizeDefaultsVolume(t *testing.T) {
	feed := models.RawFeed{
		Columns: []string{"date", "open", "high", "low", "close"},
		Rows:    [][]interface{}{{"2024-03-07", 1.0, 2.0, 0.5, 1.5}},
	}
	s, err := New(nil).Normalize(feed)
	require.NoError(t, err)
	assert.Equal(t, float64(DefaultVolume), s.Bars[0].Volume)

	feed.Columns = append(feed.Columns, "volume")
	feed.Rows[0] = append(feed.Rows[0], "n/a")
	s, err = New(nil).Normalize(feed)
	require.NoError(t, err)
	assert.Equal(t, float64(DefaultVolume), s.Bars[0].Volume)
}

func TestNormalizeDropsUncoercibleAndInconsistentRows(t *testing.T) {
	feed := models.RawFeed{
		Columns: []string{"date", "open", "high", "low", "close", "volume"},
		Rows: [][]interface{}{
			{"2024-03-04", "bad", 2.0, 1.0, 1.5, 10},
			{"2024-03-05", 1.2, 2.0, 1.0, 1.5, 10},
			{"2024-03-06", 2.5, 2.0, 1.0, 1.5, 10}, // open above high
			{"2024-03-07", 1.2, 2.0, 1.0, -1.5, 10},
			{"not a date", 1.2, 2.0, 1.0, 1.5, 10},
			{"2024-03-08", nil, 2.0, 1.0, 1.5, 10},
		},
	}
	s, err := New(nil).Normalize(feed)
	require.NoError(t, err)
	require.Len(t, s.Bars, 1)
	assert.Equal(t, day(2024, 3, 5), s.Bars[0].Date)
	for _, b := range s.Bars {
		assert.True(t, b.Low <= b.Open && b.Open <= b.High)
		assert.True(t, b.Low <= b.Close && b.Close <= b.High)
	}
}

func TestNormalizeDedupLastWriteWins(t *testing.T) {
	feed := models.RawFeed{
		Columns: []string{"timestamp", "open", "high", "low", "close"},
		Rows: [][]interface{}{
			{"2024-03-07T09:30:00Z", 1.0, 2.0, 0.5, 1.5},
			{"2024-03-06", 1.0, 2.0, 0.5, 1.1},
			{"2024-03-07T15:00:00Z", 1.0, 2.0, 0.5, 1.8},
		},
	}
	s, err := New(nil).Normalize(feed)
	require.NoError(t, err)
	require.Len(t, s.Bars, 2)
	assert.InDelta(t, 1.1, s.Bars[0].Close, 1e-9)
	assert.InDelta(t, 1.8, s.Bars[1].Close, 1e-9)
}

func TestNormalizeUsesIndex(t *testing.T) {
	feed := models.RawFeed{
		Columns: []string{"open", "high", "low", "close"},
		Rows:    [][]interface{}{{1.0, 2.0, 0.5, 1.5}, {1.0, 2.0, 0.5, 1.6}},
		Index:   []time.Time{day(2024, 3, 8), day(2024, 3, 7)},
	}
	s, err := New(nil).Normalize(feed)
	require.NoError(t, err)
	assert.False(t, s.Synthesized)
	assert.Equal(t, day(2024, 3, 7), s.Bars[0].Date)
	assert.InDelta(t, 1.6, s.Bars[0].Close, 1e-9)
}

func TestNormalizeSynthesizesBusinessDays(t *testing.T) {
	// Sunday
	now := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	feed := models.RawFeed{
		Columns: []string{"open", "high", "low", "close"},
		Rows:    [][]interface{}{{1.0, 2.0, 0.5, 1.5}, {1.0, 2.0, 0.5, 1.6}, {1.0, 2.0, 0.5, 1.7}},
	}
	s, err := New(nil).WithClock(func() time.Time { return now }).Normalize(feed)
	require.NoError(t, err)
	assert.True(t, s.Synthesized)
	require.Len(t, s.Bars, 3)
	assert.Equal(t, day(2024, 3, 6), s.Bars[0].Date)
	assert.Equal(t, day(2024, 3, 8), s.Bars[2].Date)
	assert.InDelta(t, 1.7, s.Bars[2].Close, 1e-9)
	for _, b := range s.Bars {
		assert.True(t, calendar.IsTradingDay(b.Date))
	}
}

func TestNormalizeErrors(t *testing.T) {
	var nerr *NormalizationError

	_, err := New(nil).Normalize(models.RawFeed{
		Columns: []string{"date", "open", "high", "close", "volume"},
		Rows:    [][]interface{}{{"2024-03-07", 1.0, 2.0, 1.5, 1}},
	})
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, []string{"low"}, nerr.Missing)
	assert.Equal(t, "NormalizationError", nerr.Kind())

	_, err = New(nil).Normalize(models.RawFeed{Columns: []string{"open", "high", "low", "close"}})
	assert.True(t, errors.As(err, &nerr))

	_, err = New(nil).Normalize(models.RawFeed{
		Columns: []string{"date", "open", "high", "low", "close"},
		Rows:    [][]interface{}{{"2024-03-07", "x", "y", "z", "w"}},
	})
	assert.True(t, errors.As(err, &nerr))
}
