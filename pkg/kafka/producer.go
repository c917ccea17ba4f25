package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// ProducerConfig mirrors the kafka and kafka.producer sections of the config
// file. Zero values keep the writer defaults applied by NewProducer.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int
	Compression  string
	MaxAttempts  int
	BatchSize    int
	BatchBytes   int
	Linger       time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	Async        bool
}

// Producer writes JSON values. Messages are hashed by key, so the events of
// one prediction record keep their order on a single partition.
type Producer struct {
	writer      kafkaWriter
	compression string
	metrics     *producerMetrics
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerOption customizes a Producer.
type ProducerOption func(*Producer)

// WithProducerMetrics registers publish metrics on reg.
func WithProducerMetrics(reg prometheus.Registerer) ProducerOption {
	return func(p *Producer) {
		if reg != nil {
			p.metrics = newProducerMetrics(reg)
		}
	}
}

func NewProducer(cfg ProducerConfig, opts ...ProducerOption) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	acks := kafka.RequireAll
	if cfg.RequiredAcks != 0 {
		acks = kafka.RequiredAcks(cfg.RequiredAcks)
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		Compression:  compressionCodec(cfg.Compression),
		MaxAttempts:  positiveOr(cfg.MaxAttempts, 3),
		BatchSize:    positiveOr(cfg.BatchSize, 100),
		BatchBytes:   int64(positiveOr(cfg.BatchBytes, 1<<20)),
		BatchTimeout: durationOr(cfg.Linger, 50*time.Millisecond),
		WriteTimeout: durationOr(cfg.WriteTimeout, 10*time.Second),
		ReadTimeout:  durationOr(cfg.ReadTimeout, 10*time.Second),
		Async:        cfg.Async,
	}
	p := &Producer{writer: w, compression: compressionName(cfg.Compression)}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish JSON-encodes value unless it is already []byte or string.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	start := time.Now()
	body, err := encodeValue(value)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: body,
		Time:  start,
	})
	p.metrics.observe(topic, len(body), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishMessage publishes an unkeyed value; the log collector ships through it.
func (p *Producer) PublishMessage(ctx context.Context, topic string, value interface{}) error {
	return p.Publish(ctx, topic, nil, value)
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	body, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return body, nil
}

var codecs = map[string]kafka.Compression{
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

// compressionName normalizes unknown codecs to gzip.
func compressionName(s string) string {
	if _, ok := codecs[s]; ok {
		return s
	}
	return "gzip"
}

func compressionCodec(s string) kafka.Compression {
	return codecs[compressionName(s)]
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func durationOr(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

type producerMetrics struct {
	published *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	f := promauto.With(reg)
	return &producerMetrics{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kronos_kafka_published_total",
			Help: "Kafka publishes by topic and result",
		}, []string{"topic", "result"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kronos_kafka_published_bytes_total",
			Help: "Encoded payload bytes handed to the Kafka writer",
		}, []string{"topic"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kronos_kafka_publish_seconds",
			Help:    "Kafka publish latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

func (m *producerMetrics) observe(topic string, n int, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.published.WithLabelValues(topic, result).Inc()
	m.bytes.WithLabelValues(topic).Add(float64(n))
	m.latency.WithLabelValues(topic).Observe(d.Seconds())
}
