package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	domsvc "KronosCast/internal/domain/service"
	"KronosCast/internal/services/calendar"
	"KronosCast/pkg/logger"
	"KronosCast/pkg/metrics"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newMetrics() *metrics.Recorder {
	return metrics.New(prometheus.NewRegistry())
}

// weekdayFeed builds n weekday bars ending at end with closes start, start+1, ...
func weekdayFeed(end time.Time, n int, start float64) models.RawFeed {
	feed := models.RawFeed{Columns: []string{"date", "open", "high", "low", "close", "volume"}}
	for i, d := range calendar.PreviousTradingDays(end, n) {
		c := start + float64(i)
		feed.Rows = append(feed.Rows, []interface{}{d.Format("2006-01-02"), c, c + 1, c - 1, c, 5000.0})
	}
	return feed
}

// closesFeed builds one bar per date with the given closes.
func closesFeed(dates []time.Time, closes []float64) models.RawFeed {
	feed := models.RawFeed{Columns: []string{"date", "open", "high", "low", "close"}}
	for i, d := range dates {
		c := closes[i]
		feed.Rows = append(feed.Rows, []interface{}{d.Format("2006-01-02"), c, c + 1, c - 1, c})
	}
	return feed
}

type stubFeed struct {
	mu    sync.Mutex
	feed  models.RawFeed
	err   error
	calls int
}

func (s *stubFeed) Fetch(context.Context, domrepo.FeedQuery) (models.RawFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.feed, s.err
}

func (s *stubFeed) Health(context.Context) error { return s.err }

// stubPredictor returns one bar per target with closes base+1, base+2, ...
type stubPredictor struct {
	base  float64
	err   error
	short bool
	calls int
	last  domsvc.PredictInput
}

func (s *stubPredictor) Predict(_ context.Context, in domsvc.PredictInput) ([]models.OHLCV, error) {
	s.calls++
	s.last = in
	if s.err != nil {
		return nil, s.err
	}
	n := len(in.Targets)
	if s.short {
		n--
	}
	out := make([]models.OHLCV, n)
	for i := 0; i < n; i++ {
		c := s.base + float64(i+1)
		out[i] = models.OHLCV{Date: in.Targets[i], Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return out, nil
}

func (s *stubPredictor) ActiveModel() string { return "kronos-small" }

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PredictionEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev models.PredictionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func nopLog() *logger.Logger { return logger.Nop() }
