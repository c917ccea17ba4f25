package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
)

// MemoryPredictionStore keeps records in process. Reads return deep copies.
type MemoryPredictionStore struct {
	mu       sync.RWMutex
	data     map[string]*models.PredictionRecord
	attempts map[string]evalAttempt
}

type evalAttempt struct {
	count int
	at    time.Time
}

func NewMemoryPredictionStore() *MemoryPredictionStore {
	return &MemoryPredictionStore{
		data:     make(map[string]*models.PredictionRecord),
		attempts: make(map[string]evalAttempt),
	}
}

var _ domrepo.PredictionStore = (*MemoryPredictionStore)(nil)

func (s *MemoryPredictionStore) Init(context.Context) error { return nil }

func (s *MemoryPredictionStore) Create(_ context.Context, r *models.PredictionRecord) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("create prediction: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[r.ID]; exists {
		return domrepo.ErrDuplicateKey
	}
	s.data[r.ID] = r.Clone()
	return nil
}

func (s *MemoryPredictionStore) MarkCompleted(_ context.Context, id string, c models.Completed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return domrepo.ErrNotFound
	}
	c.Points = append([]models.PredictionPoint(nil), c.Points...)
	return r.Complete(c)
}

func (s *MemoryPredictionStore) MarkFailed(_ context.Context, id string, f models.Failed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return domrepo.ErrNotFound
	}
	return r.Fail(f)
}

func (s *MemoryPredictionStore) AttachAccuracy(_ context.Context, id string, report models.AccuracyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return domrepo.ErrNotFound
	}
	r.Accuracy = &report
	return nil
}

func (s *MemoryPredictionStore) GetByID(_ context.Context, id string) (*models.PredictionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[id]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return r.Clone(), nil
}

// List returns matching records newest first along with the unpaged total.
func (s *MemoryPredictionStore) List(_ context.Context, f domrepo.PredictionFilter) ([]*models.PredictionRecord, int, error) {
	s.mu.RLock()
	matched := make([]*models.PredictionRecord, 0, len(s.data))
	for _, r := range s.data {
		if f.StockCode != "" && r.StockCode != f.StockCode {
			continue
		}
		if f.Status != "" && r.Status() != f.Status {
			continue
		}
		matched = append(matched, r.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset >= total {
		return []*models.PredictionRecord{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (s *MemoryPredictionStore) RecordEvaluationAttempt(_ context.Context, id string, at time.Time, counted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return domrepo.ErrNotFound
	}
	a := s.attempts[id]
	a.at = at
	if counted {
		a.count++
	}
	s.attempts[id] = a
	return nil
}

func (s *MemoryPredictionStore) ListUnevaluated(_ context.Context, q domrepo.UnevaluatedQuery) ([]*models.PredictionRecord, error) {
	type pending struct {
		rec *models.PredictionRecord
		at  time.Time
	}
	s.mu.RLock()
	out := make([]pending, 0)
	for id, r := range s.data {
		if r.Status() != models.StatusCompleted || r.Accuracy != nil {
			continue
		}
		a := s.attempts[id]
		if q.MaxAttempts > 0 && a.count >= q.MaxAttempts {
			continue
		}
		out = append(out, pending{rec: r.Clone(), at: a.at})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].at, out[j].at
		if ai.IsZero() != aj.IsZero() {
			return ai.IsZero()
		}
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return out[i].rec.CreatedAt.Before(out[j].rec.CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	recs := make([]*models.PredictionRecord, len(out))
	for i, p := range out {
		recs[i] = p.rec
	}
	return recs, nil
}

func (s *MemoryPredictionStore) Health(context.Context) error { return nil }

func (s *MemoryPredictionStore) Close() error { return nil }
