package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	"KronosCast/pkg/logger"
	"KronosCast/pkg/queue"
)

// EvaluatePredictionType is the queue message type of accuracy evaluations.
const EvaluatePredictionType = "evaluate_prediction"

type EvaluatePayload struct {
	RecordID string `json:"record_id"`
}

// ScheduledEvaluator evaluates a record on behalf of the sweep.
type ScheduledEvaluator interface {
	EvaluateScheduled(ctx context.Context, id string) (models.AccuracyReport, error)
}

// EvaluationJob is the queue worker side of scheduled evaluations.
type EvaluationJob struct {
	svc ScheduledEvaluator
	log *logger.Logger
}

func NewEvaluationJob(svc ScheduledEvaluator, log *logger.Logger) *EvaluationJob {
	return &EvaluationJob{svc: svc, log: log}
}

func (j *EvaluationJob) Type() string { return EvaluatePredictionType }

func (j *EvaluationJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.Decode[EvaluatePayload](payload)
	if err != nil {
		return err
	}
	if p.RecordID == "" {
		return queue.Permanent(errors.New("evaluate payload without record_id"))
	}
	report, err := j.svc.EvaluateScheduled(ctx, p.RecordID)
	if err != nil {
		if errors.Is(err, domrepo.ErrNotFound) {
			j.log.Warn("evaluation skipped, record gone", logger.String("record_id", p.RecordID))
			return nil
		}
		return fmt.Errorf("evaluate %s: %w", p.RecordID, err)
	}
	j.log.Debug("evaluation done",
		logger.String("record_id", p.RecordID),
		logger.String("status", string(report.Status)))
	return nil
}

var _ queue.Job = (*EvaluationJob)(nil)

// InlineEnqueuer runs jobs synchronously when no queue backend is configured.
// Payloads take the same JSON round trip as on the Redis queue.
type InlineEnqueuer struct {
	Job queue.Job
}

func (e InlineEnqueuer) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	if msgType != e.Job.Type() {
		return fmt.Errorf("inline enqueuer: no job for %q", msgType)
	}
	raw, err := queue.Encode(payload)
	if err != nil {
		return err
	}
	return e.Job.Handle(ctx, raw)
}
