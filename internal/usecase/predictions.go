package usecase

import (
	"context"
	"fmt"
	"time"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	"KronosCast/pkg/logger"
	"KronosCast/pkg/util"
)

// PredictionService reads prediction history and attaches accuracy reports.
type PredictionService struct {
	store       domrepo.PredictionStore
	evaluator   *AccuracyEvaluator
	events      domrepo.EventPublisher
	log         *logger.Logger
	maxAttempts int
	now         func() time.Time
}

func NewPredictionService(store domrepo.PredictionStore, evaluator *AccuracyEvaluator, events domrepo.EventPublisher, log *logger.Logger) *PredictionService {
	return &PredictionService{store: store, evaluator: evaluator, events: events, log: log, now: time.Now}
}

// WithMaxAttempts caps how many elapsed-window evaluations the sweep retries per record.
func (s *PredictionService) WithMaxAttempts(n int) *PredictionService {
	s.maxAttempts = n
	return s
}

func (s *PredictionService) WithClock(now func() time.Time) *PredictionService {
	s.now = now
	return s
}

func (s *PredictionService) Get(ctx context.Context, id string) (*models.PredictionRecord, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get prediction %s: %w", id, err)
	}
	return rec, nil
}

type ListPredictionsResult struct {
	Rows  []*models.PredictionRecord
	Total int
}

func (s *PredictionService) List(ctx context.Context, f domrepo.PredictionFilter) (*ListPredictionsResult, error) {
	f.Limit = util.ClampInt(f.Limit, 1, 200)
	if f.Offset < 0 {
		f.Offset = 0
	}
	rows, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	return &ListPredictionsResult{Rows: rows, Total: total}, nil
}

// EvaluateAndAttach scores a record and stores the report when it is completed.
// Insufficient-data and error reports are returned without being persisted.
func (s *PredictionService) EvaluateAndAttach(ctx context.Context, id string) (models.AccuracyReport, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return models.AccuracyReport{}, err
	}
	if rec.Accuracy != nil && rec.Accuracy.Status == models.AccuracyCompleted {
		return *rec.Accuracy, nil
	}
	report := s.evaluator.Evaluate(ctx, rec)
	if report.Status != models.AccuracyCompleted {
		return report, nil
	}
	if err := s.store.AttachAccuracy(ctx, id, report); err != nil {
		return report, fmt.Errorf("attach accuracy %s: %w", id, err)
	}
	s.log.Info("accuracy attached",
		logger.String("record_id", id),
		logger.Float64("mape", report.MAPE),
		logger.Float64("directional_accuracy", report.DirectionalAccuracy))
	if s.events != nil {
		ev := models.PredictionEvent{
			Type:      models.EventAccuracyEvaluated,
			RecordID:  id,
			StockCode: rec.StockCode,
			Status:    rec.Status(),
			At:        s.now(),
			Payload:   report,
		}
		if err := s.events.Publish(ctx, ev); err != nil {
			s.log.Warn("publish accuracy event failed", logger.String("record_id", id), logger.Error(err))
		}
	}
	return report, nil
}

// EvaluateScheduled is EvaluateAndAttach for the sweep: a report that is not stored
// stamps the record so the next sweep starts with other records.
func (s *PredictionService) EvaluateScheduled(ctx context.Context, id string) (models.AccuracyReport, error) {
	report, err := s.EvaluateAndAttach(ctx, id)
	if err != nil || report.Status == models.AccuracyCompleted {
		return report, err
	}
	elapsed := report.Status == models.AccuracyError || report.DaysPassed >= report.TotalDays
	if err := s.store.RecordEvaluationAttempt(ctx, id, s.now(), elapsed); err != nil {
		return report, fmt.Errorf("record evaluation attempt %s: %w", id, err)
	}
	return report, nil
}

// PendingEvaluation lists completed records still lacking an accuracy report.
func (s *PredictionService) PendingEvaluation(ctx context.Context, limit int) ([]*models.PredictionRecord, error) {
	return s.store.ListUnevaluated(ctx, domrepo.UnevaluatedQuery{Limit: limit, MaxAttempts: s.maxAttempts})
}
