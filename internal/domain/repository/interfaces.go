package repository

import (
	"context"
	"errors"
	"time"

	"KronosCast/internal/domain/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// FeedQuery bounds a raw feed request. Zero From/To means unbounded.
type FeedQuery struct {
	Code string
	From time.Time
	To   time.Time
}

// FeedSource supplies raw market data for one security. It may return an empty feed.
type FeedSource interface {
	Fetch(ctx context.Context, q FeedQuery) (models.RawFeed, error)
	Health(ctx context.Context) error
}

// UnevaluatedQuery selects completed records without a stored accuracy report.
// Records whose elapsed-window attempts reached MaxAttempts are skipped; zero disables the cap.
type UnevaluatedQuery struct {
	Limit       int
	MaxAttempts int
}

type PredictionFilter struct {
	StockCode string
	Status    models.PredictionStatus
	Limit     int
	Offset    int
}

// PredictionStore persists prediction records. Every update touches a single row.
type PredictionStore interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, r *models.PredictionRecord) error
	// MarkCompleted and MarkFailed only apply to rows still in processing state;
	// otherwise they return models.ErrTerminalState.
	MarkCompleted(ctx context.Context, id string, c models.Completed) error
	MarkFailed(ctx context.Context, id string, f models.Failed) error
	AttachAccuracy(ctx context.Context, id string, report models.AccuracyReport) error
	GetByID(ctx context.Context, id string) (*models.PredictionRecord, error)
	List(ctx context.Context, f PredictionFilter) ([]*models.PredictionRecord, int, error)
	// ListUnevaluated returns never-attempted records first (oldest first), then the
	// least recently attempted ones.
	ListUnevaluated(ctx context.Context, q UnevaluatedQuery) ([]*models.PredictionRecord, error)
	// RecordEvaluationAttempt stamps an evaluation that produced no stored report.
	// counted is false while the forecast window is still open.
	RecordEvaluationAttempt(ctx context.Context, id string, at time.Time, counted bool) error
	Health(ctx context.Context) error
	Close() error
}

// BarWriter stores ingested daily bars.
type BarWriter interface {
	Init(ctx context.Context) error
	WriteBars(ctx context.Context, code string, bars []models.OHLCV) error
	Close() error
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.PredictionEvent) error
	Close() error
}

type Metrics interface {
	RecordPrediction(outcome string, seconds float64)
	RecordAdapterLatency(model string, seconds float64)
	RecordEvaluation(status string)
	RecordAccuracy(stockCode string, mape, directional float64)
	RecordError(kind string)
}
