package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"KronosCast/pkg/logger"
)

// ConsumerHook wraps message handling. An error from BeforeHandle skips the
// handler and counts as a failed attempt.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error)
	AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
	OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
}

// NoopHook is the default hook.
type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	return ctx, km, data, nil
}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, []byte, error) {}

func (NoopHook) OnError(context.Context, string, kafka.Message, []byte, error) {}

// HookFuncs builds a ConsumerHook from functions; nil ones do nothing.
type HookFuncs struct {
	Before func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error)
	After  func(context.Context, string, kafka.Message, []byte, error)
	Err    func(context.Context, string, kafka.Message, []byte, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	if h.Before == nil {
		return ctx, km, data, nil
	}
	return h.Before(ctx, topic, km, data)
}

func (h HookFuncs) AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.After != nil {
		h.After(ctx, topic, km, data, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.Err != nil {
		h.Err(ctx, topic, km, data, err)
	}
}

type hookCtxKey int

const (
	startedKey hookCtxKey = iota
	traceKey
)

// TraceHeader is the message header carrying a caller's trace id.
const TraceHeader = "trace_id"

// TraceID returns the trace id the logging hook took from the message headers.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceKey).(string)
	return v
}

func headerValue(km kafka.Message, key string) string {
	for _, h := range km.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// NewLoggingHook logs handling slower than slow and every failed message with
// its key, which is the record id or stock code on the forecast topics.
func NewLoggingHook(l *logger.Logger, slow time.Duration) ConsumerHook {
	fields := func(ctx context.Context, topic string, km kafka.Message) []logger.Field {
		fs := []logger.Field{
			logger.String("topic", topic),
			logger.Int("partition", km.Partition),
			logger.Int64("offset", km.Offset),
		}
		if len(km.Key) > 0 {
			fs = append(fs, logger.String("key", string(km.Key)))
		}
		if id := TraceID(ctx); id != "" {
			fs = append(fs, logger.String("trace_id", id))
		}
		return fs
	}
	return HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			ctx = context.WithValue(ctx, startedKey, time.Now())
			if id := headerValue(km, TraceHeader); id != "" {
				ctx = context.WithValue(ctx, traceKey, id)
			}
			return ctx, km, data, nil
		},
		After: func(ctx context.Context, topic string, km kafka.Message, _ []byte, _ error) {
			started, ok := ctx.Value(startedKey).(time.Time)
			if !ok || slow <= 0 {
				return
			}
			if d := time.Since(started); d > slow {
				l.Warn("kafka handler slow", append(fields(ctx, topic, km), logger.Duration("elapsed", d))...)
			}
		},
		Err: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
			l.Warn("kafka handler error", append(fields(ctx, topic, km), logger.Error(err))...)
		},
	}
}
