package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	"KronosCast/internal/services/normalizer"
	"KronosCast/pkg/logger"
	"KronosCast/pkg/util"
)

// AccuracyEvaluator scores completed predictions against realized closes.
type AccuracyEvaluator struct {
	feed       domrepo.FeedSource
	normalizer normalizer.Normalizer
	metrics    domrepo.Metrics
	log        *logger.Logger
	now        func() time.Time
}

func NewAccuracyEvaluator(feed domrepo.FeedSource, norm normalizer.Normalizer, metrics domrepo.Metrics, log *logger.Logger) *AccuracyEvaluator {
	return &AccuracyEvaluator{feed: feed, normalizer: norm, metrics: metrics, log: log, now: time.Now}
}

func (e *AccuracyEvaluator) WithClock(now func() time.Time) *AccuracyEvaluator {
	e.now = now
	return e
}

// Evaluate never fails: problems are reported through the report's status.
func (e *AccuracyEvaluator) Evaluate(ctx context.Context, rec *models.PredictionRecord) models.AccuracyReport {
	now := e.now()
	report := models.AccuracyReport{RecordID: rec.ID, EvaluatedAt: now}

	completed, ok := rec.CompletedState()
	if !ok || len(completed.Points) == 0 {
		report.Status = models.AccuracyError
		report.Message = "prediction is not completed"
		e.metrics.RecordEvaluation(string(report.Status))
		return report
	}

	targets, err := predictedDates(completed.Points)
	if err != nil {
		return e.failed(report, rec, err.Error())
	}
	horizon := len(targets)
	start, end := targets[0], targets[horizon-1]
	report.WindowStart = start.Format(dateLayout)
	report.WindowEnd = end.Format(dateLayout)
	report.TotalDays = horizon

	// A session counts as realized once its calendar day is over.
	today := util.Day(now)
	if !today.After(end) {
		for _, d := range targets {
			if d.Before(today) {
				report.DaysPassed++
			}
		}
		return e.insufficient(report, &InsufficientRealizedDataError{DaysPassed: report.DaysPassed, TotalDays: horizon})
	}
	report.DaysPassed = horizon

	raw, err := e.feed.Fetch(ctx, domrepo.FeedQuery{Code: rec.StockCode, From: start, To: end})
	if err != nil {
		return e.failed(report, rec, "fetch realized data: "+err.Error())
	}
	if raw.Empty() {
		return e.insufficient(report, &InsufficientRealizedDataError{DaysPassed: horizon, TotalDays: horizon})
	}
	series, err := e.normalizer.Normalize(raw)
	if err != nil {
		return e.failed(report, rec, err.Error())
	}
	realized, available := alignRealized(targets, series.Bars)
	report.AvailablePoints = available
	if available < horizon {
		return e.insufficient(report, &InsufficientRealizedDataError{DaysPassed: horizon, TotalDays: horizon, Available: available})
	}

	predicted := make([]float64, horizon)
	for i, p := range completed.Points {
		predicted[i] = p.Close
	}
	m := ComputeAccuracy(predicted, realized)

	report.Status = models.AccuracyCompleted
	report.MAPE = m.MAPE
	report.DirectionalAccuracy = m.DirectionalAccuracy
	report.RMSE = m.RMSE
	report.PairCount = m.Pairs
	report.ExcludedPairs = m.Excluded
	if m.Excluded == m.Pairs {
		report.Message = "every realized close was zero, MAPE undefined"
	}
	e.metrics.RecordEvaluation(string(report.Status))
	e.metrics.RecordAccuracy(rec.StockCode, report.MAPE, report.DirectionalAccuracy)
	return report
}

func (e *AccuracyEvaluator) insufficient(report models.AccuracyReport, cause *InsufficientRealizedDataError) models.AccuracyReport {
	report.Status = models.AccuracyInsufficientData
	report.Message = cause.Error()
	e.metrics.RecordEvaluation(string(report.Status))
	return report
}

func (e *AccuracyEvaluator) failed(report models.AccuracyReport, rec *models.PredictionRecord, msg string) models.AccuracyReport {
	report.Status = models.AccuracyError
	report.Message = msg
	e.metrics.RecordEvaluation(string(report.Status))
	e.log.Warn("accuracy evaluation failed", logger.String("record_id", rec.ID), logger.String("code", rec.StockCode), logger.String("reason", msg))
	return report
}

const dateLayout = "2006-01-02"

// predictedDates parses the session date of every forecast point.
func predictedDates(points []models.PredictionPoint) ([]time.Time, error) {
	out := make([]time.Time, len(points))
	for i, p := range points {
		d, err := time.Parse(dateLayout, p.Date)
		if err != nil {
			return nil, fmt.Errorf("prediction point %d has no valid date %q", i, p.Date)
		}
		if i > 0 && !d.After(out[i-1]) {
			return nil, fmt.Errorf("prediction point dates not increasing at %d", i)
		}
		out[i] = d
	}
	return out, nil
}

// alignRealized returns the realized close for each target date and how many
// targets had a bar. Targets without a bar are left at zero.
func alignRealized(targets []time.Time, bars []models.OHLCV) ([]float64, int) {
	byDay := make(map[string]float64, len(bars))
	for _, b := range bars {
		byDay[b.Date.Format(dateLayout)] = b.Close
	}
	out := make([]float64, len(targets))
	found := 0
	for i, d := range targets {
		if c, ok := byDay[d.Format(dateLayout)]; ok {
			out[i] = c
			found++
		}
	}
	return out, found
}

// AccuracyMetrics are the point and directional scores of one predicted/realized pairing.
type AccuracyMetrics struct {
	MAPE                float64
	DirectionalAccuracy float64
	RMSE                float64
	Pairs               int
	Excluded            int
}

// ComputeAccuracy pairs predicted and realized closes index for index. Both slices must
// have the same length. Pairs with a zero realized close are left out of MAPE only.
func ComputeAccuracy(predicted, realized []float64) AccuracyMetrics {
	n := len(predicted)
	m := AccuracyMetrics{Pairs: n}
	if n == 0 || len(realized) != n {
		return m
	}

	var apeSum, sqSum float64
	used := 0
	agree := 0
	for i := 0; i < n; i++ {
		r, p := realized[i], predicted[i]
		d := r - p
		sqSum += d * d
		if r == 0 {
			m.Excluded++
		} else {
			apeSum += math.Abs(d / r)
			used++
		}
		if direction(predicted, i) == direction(realized, i) {
			agree++
		}
	}
	if used > 0 {
		m.MAPE = apeSum / float64(used) * 100
	}
	m.RMSE = math.Sqrt(sqSum / float64(n))
	m.DirectionalAccuracy = float64(agree) / float64(n) * 100
	return m
}

// direction is +1, 0 or -1 for the move into index i. Index 0 is up by convention.
func direction(closes []float64, i int) int {
	if i == 0 {
		return 1
	}
	switch d := closes[i] - closes[i-1]; {
	case d > 0:
		return 1
	case d < 0:
		return -1
	default:
		return 0
	}
}
