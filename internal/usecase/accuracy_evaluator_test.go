package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KronosCast/internal/domain/models"
	"KronosCast/internal/services/calendar"
	"KronosCast/internal/services/normalizer"
)

// completedRecord forecasts one close per trading day starting on the creation day.
func completedRecord(id string, created time.Time, closes ...float64) *models.PredictionRecord {
	rec := models.NewPredictionRecord(id, "600519", 30, len(closes), 0.7, "kronos-small", created)
	dates := calendar.NextTradingDays(day(created.Year(), created.Month(), created.Day()-1), len(closes))
	points := make([]models.PredictionPoint, len(closes))
	for i, c := range closes {
		points[i] = models.PredictionPoint{Date: dates[i].Format("2006-01-02"), Close: c}
	}
	_ = rec.Complete(models.Completed{Points: points})
	return rec
}

func newEvaluator(feed *stubFeed, now time.Time) *AccuracyEvaluator {
	return NewAccuracyEvaluator(feed, normalizer.New(nil), newMetrics(), nopLog()).WithClock(fixedClock(now))
}

func TestComputeAccuracy_ReferenceCase(t *testing.T) {
	m := ComputeAccuracy([]float64{10, 11, 9}, []float64{10, 10, 10})

	assert.InDelta(t, 6.6667, m.MAPE, 0.001)
	assert.InDelta(t, 33.333, m.DirectionalAccuracy, 0.001)
	assert.InDelta(t, 0.8165, m.RMSE, 0.001)
	assert.Equal(t, 3, m.Pairs)
	assert.Zero(t, m.Excluded)
}

func TestComputeAccuracy_ZeroRealizedExcludedFromMAPE(t *testing.T) {
	m := ComputeAccuracy([]float64{10, 5}, []float64{0, 10})

	assert.Equal(t, 1, m.Excluded)
	assert.InDelta(t, 50, m.MAPE, 1e-9)
}

func TestComputeAccuracy_PerfectForecast(t *testing.T) {
	m := ComputeAccuracy([]float64{1, 2, 3}, []float64{1, 2, 3})

	assert.Zero(t, m.MAPE)
	assert.Zero(t, m.RMSE)
	assert.Equal(t, 100.0, m.DirectionalAccuracy)
}

func TestEvaluate_WindowNotElapsed(t *testing.T) {
	feed := &stubFeed{}
	rec := completedRecord("a", day(2024, 3, 4).Add(9*time.Hour), 10, 11, 9)

	report := newEvaluator(feed, day(2024, 3, 5).Add(15*time.Hour)).Evaluate(context.Background(), rec)

	assert.Equal(t, models.AccuracyInsufficientData, report.Status)
	assert.Equal(t, 1, report.DaysPassed)
	assert.Equal(t, 3, report.TotalDays)
	assert.Equal(t, "2024-03-04", report.WindowStart)
	assert.Equal(t, "2024-03-06", report.WindowEnd)
	assert.Zero(t, feed.calls, "no fetch before the window closes")
}

func TestEvaluate_LastSessionStillOpen(t *testing.T) {
	feed := &stubFeed{}
	rec := completedRecord("a", day(2024, 3, 4).Add(9*time.Hour), 10, 11, 9)

	report := newEvaluator(feed, day(2024, 3, 6).Add(20*time.Hour)).Evaluate(context.Background(), rec)

	assert.Equal(t, models.AccuracyInsufficientData, report.Status)
	assert.Equal(t, 2, report.DaysPassed)
	assert.Zero(t, feed.calls)
}

func TestEvaluate_ScoresRealizedWindow(t *testing.T) {
	dates := []time.Time{day(2024, 3, 1), day(2024, 3, 4), day(2024, 3, 5), day(2024, 3, 6), day(2024, 3, 7)}
	feed := &stubFeed{feed: closesFeed(dates, []float64{50, 10, 10, 10, 70})}
	rec := completedRecord("a", day(2024, 3, 4).Add(9*time.Hour), 10, 11, 9)
	ev := newEvaluator(feed, day(2024, 3, 11))

	first := ev.Evaluate(context.Background(), rec)
	require.Equal(t, models.AccuracyCompleted, first.Status, first.Message)
	assert.InDelta(t, 6.67, first.MAPE, 0.01)
	assert.InDelta(t, 33.33, first.DirectionalAccuracy, 0.01)
	assert.Equal(t, 3, first.AvailablePoints)
	assert.Equal(t, "2024-03-04", first.WindowStart)
	assert.Equal(t, "2024-03-06", first.WindowEnd)

	second := ev.Evaluate(context.Background(), rec)
	assert.Equal(t, first, second)
}

func TestEvaluate_PairsRealizedBarsByPredictedDate(t *testing.T) {
	dates := []time.Time{day(2024, 3, 4), day(2024, 3, 5), day(2024, 3, 6), day(2024, 3, 7)}
	feed := &stubFeed{feed: closesFeed(dates, []float64{10, 20, 30, 40})}
	rec := completedRecord("a", day(2024, 3, 4).Add(9*time.Hour), 10, 20, 30)

	report := newEvaluator(feed, day(2024, 3, 11)).Evaluate(context.Background(), rec)

	require.Equal(t, models.AccuracyCompleted, report.Status, report.Message)
	assert.Zero(t, report.MAPE)
	assert.Zero(t, report.RMSE)
	assert.Equal(t, 100.0, report.DirectionalAccuracy)
}

func TestEvaluate_PerfectForecastFromPipeline(t *testing.T) {
	f := newPipelineFixture(40)
	out, err := f.pipeline.Predict(context.Background(), PredictParams{
		SecurityID: "600519", Lookback: 30, Horizon: 3, Temperature: 0.7,
	})
	require.NoError(t, err)
	c, ok := out.Record.CompletedState()
	require.True(t, ok)

	dates := make([]time.Time, len(c.Points))
	closes := make([]float64, len(c.Points))
	for i, p := range c.Points {
		d, err := time.Parse("2006-01-02", p.Date)
		require.NoError(t, err)
		dates[i], closes[i] = d, p.Close
	}
	feed := &stubFeed{feed: closesFeed(dates, closes)}

	report := newEvaluator(feed, day(2024, 3, 11)).Evaluate(context.Background(), out.Record)
	require.Equal(t, models.AccuracyCompleted, report.Status, report.Message)
	assert.Zero(t, report.MAPE)
	assert.Zero(t, report.RMSE)
}

func TestEvaluate_MissingSessionIsInsufficient(t *testing.T) {
	// no bar on 2024-03-05, e.g. an exchange holiday
	dates := []time.Time{day(2024, 3, 4), day(2024, 3, 6), day(2024, 3, 7)}
	feed := &stubFeed{feed: closesFeed(dates, []float64{10, 10, 10})}
	rec := completedRecord("a", day(2024, 3, 4), 10, 11, 9)

	report := newEvaluator(feed, day(2024, 3, 11)).Evaluate(context.Background(), rec)

	assert.Equal(t, models.AccuracyInsufficientData, report.Status)
	assert.Equal(t, 2, report.AvailablePoints)
	assert.Equal(t, 3, report.DaysPassed)
}

func TestEvaluate_UndatedPointsAreAnError(t *testing.T) {
	rec := models.NewPredictionRecord("a", "600519", 30, 1, 0.7, "m", day(2024, 3, 4))
	require.NoError(t, rec.Complete(models.Completed{Points: []models.PredictionPoint{{Close: 10}}}))

	report := newEvaluator(&stubFeed{}, day(2024, 3, 11)).Evaluate(context.Background(), rec)
	assert.Equal(t, models.AccuracyError, report.Status)
}

func TestEvaluate_EmptyFeedIsInsufficient(t *testing.T) {
	rec := completedRecord("a", day(2024, 3, 4), 10, 11, 9)

	report := newEvaluator(&stubFeed{}, day(2024, 3, 11)).Evaluate(context.Background(), rec)
	assert.Equal(t, models.AccuracyInsufficientData, report.Status)
}

func TestEvaluate_FetchErrorAndIncompleteRecord(t *testing.T) {
	rec := completedRecord("a", day(2024, 3, 4), 10, 11, 9)
	report := newEvaluator(&stubFeed{err: errors.New("down")}, day(2024, 3, 11)).Evaluate(context.Background(), rec)
	assert.Equal(t, models.AccuracyError, report.Status)

	processing := models.NewPredictionRecord("b", "600519", 30, 3, 0.7, "m", day(2024, 3, 4))
	report = newEvaluator(&stubFeed{}, day(2024, 3, 11)).Evaluate(context.Background(), processing)
	assert.Equal(t, models.AccuracyError, report.Status)
}
