package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	"KronosCast/internal/services/security"
	pkgkafka "KronosCast/pkg/kafka"
	"KronosCast/pkg/logger"
	"KronosCast/pkg/util"
)

// FeedInvalidator drops cached feed windows of a security.
type FeedInvalidator interface {
	Invalidate(ctx context.Context, code string) error
}

// KafkaBarsHandler ingests daily bars into the bar store.
type KafkaBarsHandler struct {
	topic   string
	writer  domrepo.BarWriter
	cache   FeedInvalidator
	metrics domrepo.Metrics
	log     *logger.Logger
}

// NewKafkaBarsHandler builds the handler. cache may be nil.
func NewKafkaBarsHandler(topic string, writer domrepo.BarWriter, cache FeedInvalidator, metrics domrepo.Metrics, log *logger.Logger) *KafkaBarsHandler {
	return &KafkaBarsHandler{topic: topic, writer: writer, cache: cache, metrics: metrics, log: log}
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

// incoming message schema: {code, date, open, high, low, close, volume}
func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	var m models.BarMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode bar: %w", err))
	}
	bar, code, err := barFromMessage(m)
	if err != nil {
		h.metrics.RecordError("consumer_invalid_bar")
		return pkgkafka.Permanent(err)
	}

	start := time.Now()
	if err := h.writer.WriteBars(ctx, code, []models.OHLCV{bar}); err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(ctx, code); err != nil {
			h.log.Warn("feed cache invalidation failed", logger.String("code", code), logger.Error(err))
		}
	}
	h.log.Debug("bar stored",
		logger.String("code", code),
		logger.String("date", m.Date),
		logger.Duration("duration_ms", time.Since(start)))
	return nil
}

func barFromMessage(m models.BarMessage) (models.OHLCV, string, error) {
	code, err := security.Normalize(m.Code)
	if err != nil {
		return models.OHLCV{}, "", err
	}
	day, ok := util.ParseTime(m.Date)
	if !ok {
		return models.OHLCV{}, "", fmt.Errorf("bar %s: unparseable date %q", code, m.Date)
	}
	bar := models.OHLCV{
		Date:   util.Day(day),
		Open:   m.Open,
		High:   m.High,
		Low:    m.Low,
		Close:  m.Close,
		Volume: m.Volume,
	}
	if !bar.Consistent() {
		return models.OHLCV{}, "", fmt.Errorf("bar %s %s: inconsistent prices", code, m.Date)
	}
	return bar, code, nil
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)
