package usecase

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	domsvc "KronosCast/internal/domain/service"
	"KronosCast/internal/services/calendar"
	"KronosCast/internal/services/features"
	"KronosCast/internal/services/normalizer"
	"KronosCast/internal/services/security"
	"KronosCast/pkg/logger"
)

const (
	samplingTopP         = 0.9
	samplingSampleCount  = 1
	historyWindow        = 30
	terminalWriteTimeout = 5 * time.Second
)

// PredictParams are the caller-supplied inputs of one forecast.
type PredictParams struct {
	SecurityID  string  `param:"stock_code"`
	Lookback    int     `param:"lookback" validate:"gte=1,lte=1000"`
	Horizon     int     `param:"pred_len" validate:"gte=1,lte=30"`
	Temperature float64 `param:"temperature" validate:"gte=0.1,lte=2"`
	UserID      string  `param:"user_id"`
	SessionID   string  `param:"session_id"`
}

// PredictOutcome carries the persisted record and, for post-creation failures, the typed error.
// History holds the tail of the input series for charting and is empty on failure.
type PredictOutcome struct {
	Record  *models.PredictionRecord
	History []models.HistoryBar
	Err     error
}

func (o *PredictOutcome) Failed() bool { return o.Err != nil }

// ActivePredictor is a predictor that can name the model currently serving it.
type ActivePredictor interface {
	domsvc.Predictor
	ActiveModel() string
}

// PredictionPipeline orchestrates a single forecast request end to end.
type PredictionPipeline struct {
	store      domrepo.PredictionStore
	feed       domrepo.FeedSource
	normalizer normalizer.Normalizer
	predictor  ActivePredictor
	events     domrepo.EventPublisher
	metrics    domrepo.Metrics
	log        *logger.Logger
	validate   *validator.Validate
	now        func() time.Time
	newID      func() string
}

func NewPredictionPipeline(
	store domrepo.PredictionStore,
	feed domrepo.FeedSource,
	norm normalizer.Normalizer,
	predictor ActivePredictor,
	events domrepo.EventPublisher,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *PredictionPipeline {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string { return f.Tag.Get("param") })
	return &PredictionPipeline{
		store:      store,
		feed:       feed,
		normalizer: norm,
		predictor:  predictor,
		events:     events,
		metrics:    metrics,
		log:        log,
		validate:   v,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// WithClock overrides the clock used for created_at and execution time.
func (p *PredictionPipeline) WithClock(now func() time.Time) *PredictionPipeline {
	p.now = now
	return p
}

// Predict runs the pipeline. A non-nil error means the request was rejected before any
// record existed (validation, security code) or that a terminal state could not be
// persisted. Every other failure is reported through the outcome's failed record.
func (p *PredictionPipeline) Predict(ctx context.Context, params PredictParams) (*PredictOutcome, error) {
	if err := p.validateParams(params); err != nil {
		p.metrics.RecordPrediction("rejected", 0)
		return nil, err
	}
	code, err := security.Normalize(params.SecurityID)
	if err != nil {
		p.metrics.RecordPrediction("rejected", 0)
		return nil, err
	}

	start := p.now()
	rec := models.NewPredictionRecord(p.newID(), code, params.Lookback, params.Horizon, params.Temperature, p.predictor.ActiveModel(), start)
	rec.UserID = params.UserID
	rec.SessionID = params.SessionID
	if err := p.store.Create(ctx, rec); err != nil {
		p.metrics.RecordError("store_create")
		return nil, fmt.Errorf("create prediction record: %w", err)
	}
	p.publish(rec)
	log := p.log.With(logger.String("record_id", rec.ID), logger.String("code", code))

	series, err := p.loadHistory(ctx, code)
	if err != nil {
		return p.fail(ctx, rec, start, err, log)
	}
	if series.Len() < params.Lookback {
		return p.fail(ctx, rec, start, &InsufficientHistoryError{Need: params.Lookback, Got: series.Len()}, log)
	}

	window := series.Tail(params.Lookback)
	last := window[len(window)-1]
	targets := calendar.NextTradingDays(last.Date, params.Horizon)

	callStart := time.Now()
	predicted, err := p.predictor.Predict(ctx, domsvc.PredictInput{
		History:     window,
		Targets:     targets,
		Temperature: params.Temperature,
		TopP:        samplingTopP,
		SampleCount: samplingSampleCount,
	})
	p.metrics.RecordAdapterLatency(rec.ModelType, time.Since(callStart).Seconds())
	if err == nil && len(predicted) != len(targets) {
		err = fmt.Errorf("predictor returned %d points for %d target dates", len(predicted), len(targets))
	}
	if err != nil {
		return p.fail(ctx, rec, start, &AdapterError{Err: err}, log)
	}

	points := formatPoints(targets, predicted, last.Close)
	completed := models.Completed{
		Points:        points,
		Summary:       summarize(window, points, params.Lookback, params.Horizon),
		ExecutionTime: p.now().Sub(start).Seconds(),
	}
	wctx, cancel := terminalContext(ctx)
	defer cancel()
	if err := p.store.MarkCompleted(wctx, rec.ID, completed); err != nil {
		p.metrics.RecordError("store_complete")
		log.Error("persist completed state failed", logger.Error(err))
		return nil, fmt.Errorf("mark completed: %w", err)
	}
	_ = rec.Complete(completed)
	p.metrics.RecordPrediction("completed", completed.ExecutionTime)
	p.publish(rec)
	log.Info("prediction completed",
		logger.Int("points", len(points)),
		logger.Float64("total_change_pct", completed.Summary.TotalChangePct),
		logger.Float64("execution_time", completed.ExecutionTime))

	return &PredictOutcome{Record: rec, History: historyBars(series.Tail(historyWindow))}, nil
}

func (p *PredictionPipeline) validateParams(params PredictParams) error {
	err := p.validate.Struct(params)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Param: fe.Field(), Reason: reason(fe)}
	}
	return &ValidationError{Param: "request", Reason: err.Error()}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("must be >= %s, got %v", fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("must be <= %s, got %v", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func (p *PredictionPipeline) loadHistory(ctx context.Context, code string) (models.Series, error) {
	feed, err := p.feed.Fetch(ctx, domrepo.FeedQuery{Code: code})
	if err != nil {
		return models.Series{}, &NormalizationError{Reason: "fetch feed: " + err.Error()}
	}
	series, err := p.normalizer.Normalize(feed)
	if err != nil {
		return models.Series{}, err
	}
	series.Symbol = code
	return series, nil
}

// fail persists the failed state. The store error, if any, is returned to the caller
// because the record would otherwise not reflect what happened.
// fail records cause on the record. When the caller has already gone away the
// record stays in processing and the cancellation is returned instead.
func (p *PredictionPipeline) fail(ctx context.Context, rec *models.PredictionRecord, start time.Time, cause error, log *logger.Logger) (*PredictOutcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		p.metrics.RecordPrediction("abandoned", p.now().Sub(start).Seconds())
		log.Info("prediction abandoned by caller, record left processing", logger.Error(cause))
		return nil, fmt.Errorf("prediction %s abandoned: %w", rec.ID, ctxErr)
	}
	failed := models.Failed{
		Kind:          KindOf(cause),
		Message:       cause.Error(),
		ExecutionTime: p.now().Sub(start).Seconds(),
	}
	wctx, cancel := terminalContext(ctx)
	defer cancel()
	if err := p.store.MarkFailed(wctx, rec.ID, failed); err != nil {
		p.metrics.RecordError("store_fail")
		log.Error("persist failed state failed", logger.Error(err), logger.String("cause", cause.Error()))
		return nil, fmt.Errorf("mark failed (%s): %w", failed.Kind, err)
	}
	_ = rec.Fail(failed)
	p.metrics.RecordPrediction("failed", failed.ExecutionTime)
	p.metrics.RecordError(failed.Kind)
	p.publish(rec)
	log.Warn("prediction failed", logger.String("kind", failed.Kind), logger.Error(cause))
	return &PredictOutcome{Record: rec, Err: cause}, nil
}

func (p *PredictionPipeline) publish(rec *models.PredictionRecord) {
	if p.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()
	if err := p.events.Publish(ctx, models.EventFromRecord(rec, p.now())); err != nil {
		p.log.Warn("publish prediction event failed", logger.String("record_id", rec.ID), logger.Error(err))
	}
}

// terminalContext detaches terminal writes from caller cancellation but keeps them bounded.
func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}

func formatPoints(targets []time.Time, predicted []models.OHLCV, lastClose float64) []models.PredictionPoint {
	closes := models.Closes(predicted)
	changes := features.ChainedChanges(lastClose, closes)
	out := make([]models.PredictionPoint, len(predicted))
	for i, b := range predicted {
		out[i] = models.PredictionPoint{
			Date:      targets[i].Format("2006-01-02"),
			Weekday:   targets[i].Weekday().String(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			ChangePct: changes[i],
		}
	}
	return out
}

func summarize(window []models.OHLCV, points []models.PredictionPoint, lookback, horizon int) models.Summary {
	current := window[len(window)-1].Close
	target := points[len(points)-1].Close
	total := features.ChangePct(current, target)
	trend := "neutral"
	switch {
	case total > 1:
		trend = "bullish"
	case total < -1:
		trend = "bearish"
	}
	return models.Summary{
		CurrentPrice:         current,
		TargetPrice:          target,
		TotalChangePct:       total,
		Horizon:              horizon,
		PredictionPeriod:     fmt.Sprintf("%d days", horizon),
		Lookback:             lookback,
		Trend:                trend,
		HistoricalVolatility: features.HistoricalVolatility(window),
	}
}

func historyBars(bars []models.OHLCV) []models.HistoryBar {
	changes := features.DailyChanges(bars)
	out := make([]models.HistoryBar, len(bars))
	for i, b := range bars {
		out[i] = models.HistoryBar{
			Date:      b.Date.Format("2006-01-02"),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			ChangePct: changes[i],
		}
	}
	return out
}
