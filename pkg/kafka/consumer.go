package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"KronosCast/pkg/logger"
)

// MessageHandler handles the messages of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerConfig mirrors the kafka.consumer section of the config file.
// Zero values fall back to the defaults applied by NewConsumer.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Workers    int
	BufferSize int
	RetryMax   int
	BackoffMin time.Duration
	BackoffMax time.Duration
	DLQTopic   string
	MinBytes   int
	MaxBytes   int
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.GroupID == "" {
		c.GroupID = "kronos"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 16
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 100 * time.Millisecond
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = c.BackoffMin
	}
	if c.MinBytes <= 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10e6
	}
	return c
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

func WithConsumerLogger(l *logger.Logger) ConsumerOption {
	return func(c *Consumer) {
		if l != nil {
			c.log = l
		}
	}
}

func WithConsumerHook(h ConsumerHook) ConsumerOption {
	return func(c *Consumer) {
		if h != nil {
			c.hook = h
		}
	}
}

// WithConsumerMetrics registers handling metrics on reg.
func WithConsumerMetrics(reg prometheus.Registerer) ConsumerOption {
	return func(c *Consumer) {
		if reg != nil {
			c.metrics = newConsumerMetrics(reg)
		}
	}
}

// Consumer reads the registered topics in one consumer group. Every topic
// gets Workers lanes; a message goes to the lane of its partition, so the
// messages of one partition are handled in order and committed one by one.
type Consumer struct {
	cfg      ConsumerConfig
	log      *logger.Logger
	hook     ConsumerHook
	metrics  *consumerMetrics
	handlers map[string]MessageHandler
	dlq      *kafka.Writer

	mu       sync.Mutex
	readers  []*kafka.Reader
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// committer is the part of *kafka.Reader the lanes need.
type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewConsumer(cfg ConsumerConfig, opts ...ConsumerOption) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	c := &Consumer{
		cfg:      cfg.withDefaults(),
		log:      logger.Nop(),
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:     kafka.TCP(c.cfg.Brokers...),
			Topic:    c.cfg.DLQTopic,
			Balancer: &kafka.Hash{},
		}
	}
	return c, nil
}

// RegisterHandler must be called before Start. A second handler for the same
// topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, dup := c.handlers[h.Topic()]; dup {
		c.log.Warn("kafka consumer: duplicate handler ignored", logger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// Start opens one reader per registered topic and returns immediately.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("consumer already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for topic, h := range c.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			GroupID:  c.cfg.GroupID,
			Topic:    topic,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
		c.readers = append(c.readers, reader)

		lanes := make([]chan kafka.Message, c.cfg.Workers)
		for i := range lanes {
			lanes[i] = make(chan kafka.Message, c.cfg.BufferSize)
			c.wg.Add(1)
			go c.runLane(ctx, h, reader, lanes[i])
		}
		c.wg.Add(1)
		go c.fetch(ctx, topic, reader, lanes)
	}
	c.log.Info("kafka consumer: started",
		logger.String("group_id", c.cfg.GroupID),
		logger.Int("topics", len(c.handlers)),
		logger.Int("workers_per_topic", c.cfg.Workers))
	return nil
}

// Stop cancels fetching, waits for in-flight messages and closes the readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for _, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("kafka consumer: close reader", logger.String("topic", r.Config().Topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("kafka consumer: close dlq writer", logger.Error(cerr))
			}
		}
	})
	return err
}

func (c *Consumer) fetch(ctx context.Context, topic string, reader *kafka.Reader, lanes []chan kafka.Message) {
	defer c.wg.Done()
	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
	}()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka consumer: fetch", logger.String("topic", topic), logger.Error(err))
			if !sleepCtx(ctx, c.cfg.BackoffMin) {
				return
			}
			continue
		}
		lane := lanes[msg.Partition%len(lanes)]
		select {
		case lane <- msg:
			c.metrics.setBacklog(topic, len(lane))
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) runLane(ctx context.Context, h MessageHandler, cm committer, lane <-chan kafka.Message) {
	defer c.wg.Done()
	for msg := range lane {
		if ctx.Err() != nil {
			// Uncommitted; the group redelivers it after a rebalance.
			continue
		}
		c.process(ctx, h, cm, msg)
	}
}

// process handles msg with retries and commits it unless the consumer is
// stopping or a failed message could not be parked on the dead-letter topic.
func (c *Consumer) process(ctx context.Context, h MessageHandler, cm committer, msg kafka.Message) {
	start := time.Now()
	attempts, err := c.handleWithRetry(ctx, h, msg)
	outcome := "ok"

	if err != nil {
		if ctx.Err() != nil {
			c.metrics.observe(msg.Topic, "interrupted", time.Since(start))
			return
		}
		outcome = "failed"
		if IsPermanent(err) {
			outcome = "rejected"
		}
		c.hook.OnError(ctx, msg.Topic, msg, msg.Value, err)
		c.log.Error("kafka consumer: giving up on message",
			logger.String("topic", msg.Topic),
			logger.Int("partition", msg.Partition),
			logger.Int64("offset", msg.Offset),
			logger.Int("attempts", attempts),
			logger.Error(err))
		if c.dlq != nil {
			if dlqErr := c.deadLetter(ctx, msg, err); dlqErr != nil {
				c.log.Error("kafka consumer: dead letter", logger.String("dlq_topic", c.cfg.DLQTopic), logger.Error(dlqErr))
				c.metrics.observe(msg.Topic, outcome, time.Since(start))
				return
			}
		}
	}

	if cerr := c.commit(ctx, cm, msg); cerr != nil {
		c.log.Error("kafka consumer: commit",
			logger.String("topic", msg.Topic),
			logger.Int64("offset", msg.Offset),
			logger.Error(cerr))
	}
	c.metrics.observe(msg.Topic, outcome, time.Since(start))
}

func (c *Consumer) handleWithRetry(ctx context.Context, h MessageHandler, msg kafka.Message) (int, error) {
	var err error
	attempt := 0
	for {
		attempt++
		hctx, hmsg, data, berr := c.hook.BeforeHandle(ctx, msg.Topic, msg, msg.Value)
		if berr != nil {
			return attempt, berr
		}
		err = safeHandle(hctx, h, data)
		c.hook.AfterHandle(hctx, msg.Topic, hmsg, data, err)

		if err == nil || IsPermanent(err) || attempt > c.cfg.RetryMax {
			return attempt, err
		}
		if !sleepCtx(ctx, backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return attempt, err
		}
	}
}

func safeHandle(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h.Handle(ctx, data)
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	headers := append([]kafka.Header{
		{Key: "source_topic", Value: []byte(msg.Topic)},
		{Key: "error", Value: []byte(cause.Error())},
	}, msg.Headers...)
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
		Time:    time.Now(),
	})
}

func (c *Consumer) commit(ctx context.Context, cm committer, msg kafka.Message) error {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = cm.CommitMessages(cctx, msg)
		cancel()
		if err == nil || ctx.Err() != nil {
			return err
		}
		if !sleepCtx(ctx, backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return err
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoff doubles from lo per attempt up to hi and subtracts up to a quarter
// as jitter.
func backoff(lo, hi time.Duration, attempt int) time.Duration {
	d := lo
	for i := 1; i < attempt && d < hi; i++ {
		d *= 2
	}
	if d > hi {
		d = hi
	}
	if q := int64(d) / 4; q > 0 {
		d -= time.Duration(rand.Int63n(q))
	}
	return d
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying, e.g. an undecodable payload.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

type consumerMetrics struct {
	handled *prometheus.CounterVec
	latency *prometheus.HistogramVec
	backlog *prometheus.GaugeVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	f := promauto.With(reg)
	return &consumerMetrics{
		handled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kronos_kafka_messages_handled_total",
			Help: "Consumed Kafka messages by topic and outcome",
		}, []string{"topic", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kronos_kafka_handle_seconds",
			Help:    "Time spent on one message including retries",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"topic"}),
		backlog: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kronos_kafka_lane_backlog",
			Help: "Fetched messages waiting for a worker lane",
		}, []string{"topic"}),
	}
}

func (m *consumerMetrics) observe(topic, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.handled.WithLabelValues(topic, outcome).Inc()
	m.latency.WithLabelValues(topic).Observe(d.Seconds())
}

func (m *consumerMetrics) setBacklog(topic string, n int) {
	if m == nil {
		return
	}
	m.backlog.WithLabelValues(topic).Set(float64(n))
}
