package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"KronosCast/internal/domain/models"
	"KronosCast/pkg/logger"
)

const sweepLockKey = "evaluation_sweep"

type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) error
}

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type PendingLister interface {
	PendingEvaluation(ctx context.Context, limit int) ([]*models.PredictionRecord, error)
}

// EvaluationScheduler periodically enqueues completed predictions that still lack
// an accuracy report. A distributed lock keeps replicas from sweeping together.
type EvaluationScheduler struct {
	cron     *cron.Cron
	schedule string
	pending  PendingLister
	queue    Enqueuer
	lock     Locker
	batch    int
	lockTTL  time.Duration
	log      *logger.Logger
}

// NewEvaluationScheduler builds the scheduler. lock may be nil for single-replica runs.
func NewEvaluationScheduler(schedule string, batch int, pending PendingLister, q Enqueuer, lock Locker, log *logger.Logger) *EvaluationScheduler {
	if batch <= 0 {
		batch = 100
	}
	return &EvaluationScheduler{
		cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
		pending:  pending,
		queue:    q,
		lock:     lock,
		batch:    batch,
		lockTTL:  5 * time.Minute,
		log:      log,
	}
}

func (s *EvaluationScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.lockTTL)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("evaluation sweep failed", logger.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("register evaluation sweep %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.log.Info("evaluation scheduler started", logger.String("schedule", s.schedule))
	return nil
}

// Stop waits for a running sweep to finish.
func (s *EvaluationScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("evaluation scheduler stopped")
}

// Sweep enqueues one batch and returns how many records were enqueued.
func (s *EvaluationScheduler) Sweep(ctx context.Context) (int, error) {
	if s.lock != nil {
		ok, err := s.lock.TryLock(ctx, sweepLockKey, s.lockTTL)
		if err != nil {
			return 0, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			s.log.Debug("evaluation sweep skipped, lock held elsewhere")
			return 0, nil
		}
		defer func() {
			if err := s.lock.Unlock(context.WithoutCancel(ctx), sweepLockKey); err != nil {
				s.log.Warn("release sweep lock failed", logger.Error(err))
			}
		}()
	}

	recs, err := s.pending.PendingEvaluation(ctx, s.batch)
	if err != nil {
		return 0, fmt.Errorf("list pending evaluations: %w", err)
	}
	enqueued := 0
	for _, r := range recs {
		if err := s.queue.Enqueue(ctx, EvaluatePredictionType, EvaluatePayload{RecordID: r.ID}); err != nil {
			s.log.Warn("enqueue evaluation failed", logger.String("record_id", r.ID), logger.Error(err))
			continue
		}
		enqueued++
	}
	if len(recs) > 0 {
		s.log.Info("evaluation sweep", logger.Int("pending", len(recs)), logger.Int("enqueued", enqueued))
	}
	return enqueued, nil
}
