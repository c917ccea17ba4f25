package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/creasty/defaults"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	pkgkafka "KronosCast/pkg/kafka"
	"KronosCast/pkg/logger"
)

// Predictor runs one forecast. *PredictionPipeline implements it.
type Predictor interface {
	Predict(ctx context.Context, params PredictParams) (*PredictOutcome, error)
}

// KafkaPredictHandler runs the pipeline for prediction requests arriving on a topic.
// Rejected requests are dropped; infrastructure errors go back to the consumer for retry.
type KafkaPredictHandler struct {
	topic    string
	pipeline Predictor
	metrics  domrepo.Metrics
	log      *logger.Logger
}

func NewKafkaPredictHandler(topic string, pipeline Predictor, metrics domrepo.Metrics, log *logger.Logger) *KafkaPredictHandler {
	return &KafkaPredictHandler{topic: topic, pipeline: pipeline, metrics: metrics, log: log}
}

func (h *KafkaPredictHandler) Topic() string { return h.topic }

// incoming message schema: {stock_code, lookback, pred_len, temperature, session_id}
func (h *KafkaPredictHandler) Handle(ctx context.Context, b []byte) error {
	var req models.PredictRequest
	if err := defaults.Set(&req); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("apply defaults: %w", err))
	}
	if err := json.Unmarshal(b, &req); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode predict request: %w", err))
	}

	out, err := h.pipeline.Predict(ctx, PredictParams{
		SecurityID:  req.StockCode,
		Lookback:    req.Lookback,
		Horizon:     req.PredLen,
		Temperature: req.Temperature,
		UserID:      "kafka",
		SessionID:   req.SessionID,
	})
	if err != nil {
		if IsRejection(err) {
			h.log.Warn("predict request rejected",
				logger.String("code", req.StockCode),
				logger.String("kind", KindOf(err)),
				logger.Error(err))
			return nil
		}
		h.metrics.RecordError("consumer_predict")
		return err
	}
	h.log.Debug("predict request handled",
		logger.String("record_id", out.Record.ID),
		logger.String("status", string(out.Record.Status())))
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaPredictHandler)(nil)
