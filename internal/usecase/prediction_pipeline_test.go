package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	domsvc "KronosCast/internal/domain/service"
	"KronosCast/internal/repository"
	"KronosCast/internal/services/normalizer"
)

type pipelineFixture struct {
	pipeline  *PredictionPipeline
	store     *repository.MemoryPredictionStore
	feed      *stubFeed
	predictor *stubPredictor
	events    *recordingPublisher
}

func newPipelineFixture(historyDays int) *pipelineFixture {
	now := day(2024, 3, 4).Add(10 * 3600e9)
	f := &pipelineFixture{
		store:     repository.NewMemoryPredictionStore(),
		feed:      &stubFeed{feed: weekdayFeed(day(2024, 3, 1), historyDays, 100)},
		predictor: &stubPredictor{base: 200},
		events:    &recordingPublisher{},
	}
	f.pipeline = NewPredictionPipeline(f.store, f.feed, normalizer.New(nil).WithClock(fixedClock(now)),
		f.predictor, f.events, newMetrics(), nopLog()).WithClock(fixedClock(now))
	return f
}

func (f *pipelineFixture) count(t *testing.T) int {
	_, total, err := f.store.List(context.Background(), domrepo.PredictionFilter{})
	require.NoError(t, err)
	return total
}

func TestPredict_CompletesWithRequestedHorizon(t *testing.T) {
	f := newPipelineFixture(40)

	out, err := f.pipeline.Predict(context.Background(), PredictParams{
		SecurityID: "600519", Lookback: 30, Horizon: 3, Temperature: 0.7, UserID: "10.0.0.1",
	})
	require.NoError(t, err)
	require.False(t, out.Failed())

	c, ok := out.Record.CompletedState()
	require.True(t, ok)
	require.Len(t, c.Points, 3)
	assert.Equal(t, c.Points[2].Close, c.Summary.TargetPrice)
	assert.Equal(t, []string{"2024-03-04", "2024-03-05", "2024-03-06"},
		[]string{c.Points[0].Date, c.Points[1].Date, c.Points[2].Date})
	assert.Equal(t, "Monday", c.Points[0].Weekday)
	assert.Equal(t, 139.0, c.Summary.CurrentPrice)
	assert.Equal(t, "bullish", c.Summary.Trend)
	assert.Equal(t, 30, c.Summary.Lookback)
	assert.Len(t, out.History, 30)

	assert.Len(t, f.predictor.last.History, 30)
	assert.Equal(t, 0.7, f.predictor.last.Temperature)
	assert.Equal(t, 0.9, f.predictor.last.TopP)
	assert.Equal(t, 1, f.predictor.last.SampleCount)

	stored, err := f.store.GetByID(context.Background(), out.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status())
	assert.Equal(t, "kronos-small", stored.ModelType)
	assert.Equal(t, "10.0.0.1", stored.UserID)
	assert.Equal(t, []models.EventType{models.EventProcessing, models.EventCompleted}, f.events.types())
}

func TestPredict_InsufficientHistorySkipsPredictor(t *testing.T) {
	f := newPipelineFixture(200)

	out, err := f.pipeline.Predict(context.Background(), PredictParams{
		SecurityID: "600519", Lookback: 400, Horizon: 5, Temperature: 0.7,
	})
	require.NoError(t, err)
	require.True(t, out.Failed())

	var ih *InsufficientHistoryError
	require.True(t, errors.As(out.Err, &ih))
	assert.Equal(t, 400, ih.Need)
	assert.Equal(t, 200, ih.Got)
	assert.Zero(t, f.predictor.calls)

	failed, ok := out.Record.FailedState()
	require.True(t, ok)
	assert.Equal(t, "InsufficientHistoryError", failed.Kind)
	assert.Equal(t, []models.EventType{models.EventProcessing, models.EventFailed}, f.events.types())
}

func TestPredict_LookbackBeyondLimitIsRejected(t *testing.T) {
	f := newPipelineFixture(40)

	_, err := f.pipeline.Predict(context.Background(), PredictParams{
		SecurityID: "600519", Lookback: 1001, Horizon: 5, Temperature: 0.7,
	})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "lookback", ve.Param)
}

func TestPredict_TemperatureOutOfRangeCreatesNoRecord(t *testing.T) {
	f := newPipelineFixture(40)

	out, err := f.pipeline.Predict(context.Background(), PredictParams{
		SecurityID: "600519", Lookback: 30, Horizon: 3, Temperature: 3.0,
	})
	assert.Nil(t, out)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "temperature", ve.Param)
	assert.True(t, IsRejection(err))
	assert.Zero(t, f.count(t))
	assert.Empty(t, f.events.types())
}

func TestPredict_InvalidSecurityCreatesNoRecord(t *testing.T) {
	f := newPipelineFixture(40)

	_, err := f.pipeline.Predict(context.Background(), PredictParams{
		SecurityID: "12", Lookback: 30, Horizon: 3, Temperature: 0.7,
	})
	var se *InvalidSecurityError
	require.True(t, errors.As(err, &se))
	assert.Zero(t, f.count(t))
}

func TestPredict_AdapterFailures(t *testing.T) {
	tests := []struct {
		name      string
		predictor *stubPredictor
	}{
		{"error", &stubPredictor{err: errors.New("model offline")}},
		{"short result", &stubPredictor{base: 1, short: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(40)
			f.pipeline.predictor = tt.predictor

			out, err := f.pipeline.Predict(context.Background(), PredictParams{
				SecurityID: "600519", Lookback: 30, Horizon: 3, Temperature: 0.7,
			})
			require.NoError(t, err)
			var ae *AdapterError
			require.True(t, errors.As(out.Err, &ae))
			failed, _ := out.Record.FailedState()
			assert.Equal(t, "AdapterError", failed.Kind)
		})
	}
}

func TestPredict_FeedErrorFailsAsNormalization(t *testing.T) {
	f := newPipelineFixture(40)
	f.feed.err = errors.New("clickhouse down")

	out, err := f.pipeline.Predict(context.Background(), PredictParams{
		SecurityID: "SH.600000", Lookback: 30, Horizon: 3, Temperature: 0.7,
	})
	require.NoError(t, err)
	var ne *NormalizationError
	require.True(t, errors.As(out.Err, &ne))
	assert.Equal(t, "SH.600000", out.Record.StockCode)
	assert.Zero(t, f.predictor.calls)
}

type cancellingPredictor struct {
	cancel context.CancelFunc
}

func (c cancellingPredictor) Predict(ctx context.Context, _ domsvc.PredictInput) ([]models.OHLCV, error) {
	c.cancel()
	return nil, ctx.Err()
}

func (cancellingPredictor) ActiveModel() string { return "kronos-small" }

func TestPredict_CallerCancellationLeavesRecordProcessing(t *testing.T) {
	f := newPipelineFixture(40)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.pipeline.predictor = cancellingPredictor{cancel: cancel}

	out, err := f.pipeline.Predict(ctx, PredictParams{
		SecurityID: "600519", Lookback: 30, Horizon: 3, Temperature: 0.7,
	})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, IsAbandoned(err))
	assert.False(t, IsRejection(err))

	rows, total, err := f.store.List(context.Background(), domrepo.PredictionFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, models.StatusProcessing, rows[0].Status())
	assert.Equal(t, []models.EventType{models.EventProcessing}, f.events.types())
}
