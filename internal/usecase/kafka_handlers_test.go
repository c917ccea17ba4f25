package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KronosCast/internal/domain/models"
	pkgkafka "KronosCast/pkg/kafka"
)

type stubPipeline struct {
	got PredictParams
	out *PredictOutcome
	err error
}

func (s *stubPipeline) Predict(_ context.Context, p PredictParams) (*PredictOutcome, error) {
	s.got = p
	return s.out, s.err
}

func TestKafkaPredictHandler_AppliesDefaults(t *testing.T) {
	rec := models.NewPredictionRecord("id", "600519", 30, 5, 0.7, "m", day(2024, 3, 4))
	p := &stubPipeline{out: &PredictOutcome{Record: rec}}
	h := NewKafkaPredictHandler("kronos.predict.requests", p, newMetrics(), nopLog())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"stock_code":"600519","session_id":"s1"}`)))
	assert.Equal(t, PredictParams{SecurityID: "600519", Lookback: 30, Horizon: 5, Temperature: 0.7, UserID: "kafka", SessionID: "s1"}, p.got)
	assert.Equal(t, "kronos.predict.requests", h.Topic())
}

func TestKafkaPredictHandler_ErrorClasses(t *testing.T) {
	t.Run("rejection dropped", func(t *testing.T) {
		h := NewKafkaPredictHandler("t", &stubPipeline{err: &ValidationError{Param: "temperature"}}, newMetrics(), nopLog())
		assert.NoError(t, h.Handle(context.Background(), []byte(`{"stock_code":"600519","temperature":5}`)))
	})
	t.Run("infrastructure retried", func(t *testing.T) {
		h := NewKafkaPredictHandler("t", &stubPipeline{err: errors.New("db down")}, newMetrics(), nopLog())
		err := h.Handle(context.Background(), []byte(`{"stock_code":"600519"}`))
		require.Error(t, err)
		assert.False(t, pkgkafka.IsPermanent(err))
	})
	t.Run("malformed permanent", func(t *testing.T) {
		h := NewKafkaPredictHandler("t", &stubPipeline{}, newMetrics(), nopLog())
		err := h.Handle(context.Background(), []byte(`{`))
		assert.True(t, pkgkafka.IsPermanent(err))
	})
}

type stubBarWriter struct {
	code string
	bars []models.OHLCV
	err  error
}

func (s *stubBarWriter) Init(context.Context) error { return nil }
func (s *stubBarWriter) Close() error               { return nil }

func (s *stubBarWriter) WriteBars(_ context.Context, code string, bars []models.OHLCV) error {
	s.code, s.bars = code, bars
	return s.err
}

type stubInvalidator struct{ codes []string }

func (s *stubInvalidator) Invalidate(_ context.Context, code string) error {
	s.codes = append(s.codes, code)
	return nil
}

func TestKafkaBarsHandler_WritesAndInvalidates(t *testing.T) {
	w := &stubBarWriter{}
	inv := &stubInvalidator{}
	h := NewKafkaBarsHandler("kronos.bars", w, inv, newMetrics(), nopLog())

	msg := `{"code":"sz.000001","date":"2024-03-04","open":10,"high":11,"low":9.5,"close":10.5,"volume":1200}`
	require.NoError(t, h.Handle(context.Background(), []byte(msg)))

	assert.Equal(t, "SZ.000001", w.code)
	require.Len(t, w.bars, 1)
	assert.Equal(t, day(2024, 3, 4), w.bars[0].Date)
	assert.Equal(t, []string{"SZ.000001"}, inv.codes)
}

func TestKafkaBarsHandler_RejectsBadBars(t *testing.T) {
	h := NewKafkaBarsHandler("kronos.bars", &stubBarWriter{}, nil, newMetrics(), nopLog())

	for _, msg := range []string{
		`{"code":"600519","date":"2024-03-04","open":10,"high":9,"low":8,"close":9}`,
		`{"code":"600519","date":"someday","open":10,"high":11,"low":9,"close":10}`,
		`{"code":"1","date":"2024-03-04","open":10,"high":11,"low":9,"close":10}`,
	} {
		err := h.Handle(context.Background(), []byte(msg))
		assert.True(t, pkgkafka.IsPermanent(err), msg)
	}
}

func TestKafkaBarsHandler_StoreErrorRetried(t *testing.T) {
	h := NewKafkaBarsHandler("kronos.bars", &stubBarWriter{err: errors.New("ch down")}, nil, newMetrics(), nopLog())
	err := h.Handle(context.Background(), []byte(`{"code":"600519","date":"2024-03-04","open":10,"high":11,"low":9,"close":10}`))
	require.Error(t, err)
	assert.False(t, pkgkafka.IsPermanent(err))
}
