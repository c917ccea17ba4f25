package service

import (
	"context"
	"time"

	"KronosCast/internal/domain/models"
)

// PredictInput is the context window and sampling configuration for one forecast.
type PredictInput struct {
	History     []models.OHLCV
	Targets     []time.Time
	Temperature float64
	TopP        float64
	SampleCount int
}

// Predictor produces exactly one OHLCV point per target date.
type Predictor interface {
	Predict(ctx context.Context, in PredictInput) ([]models.OHLCV, error)
}

// ModelRegistry exposes the model lifecycle owned outside the pipeline.
type ModelRegistry interface {
	Predictor
	Available() []models.ModelInfo
	Load(ctx context.Context, name string) error
	Unload(ctx context.Context) error
	Status() models.ModelStatus
	ActiveModel() string
}
