package queue

import (
	"encoding/json"
	"time"
)

// Config controls the Redis queue. Zero values take the defaults in
// NewRedisQueue.
type Config struct {
	// Prefix namespaces the ready, delayed and dead keys.
	Prefix string
	// Workers is the number of goroutines popping the ready list.
	Workers int
	// RetryLimit is how many times a failed message is retried before it is
	// dead-lettered.
	RetryLimit int
	// RetryDelay is the first retry delay. It doubles per attempt up to
	// MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// PollTimeout bounds one blocking pop, which is also how long Stop may
	// wait for an idle worker.
	PollTimeout time.Duration
	// PromoteEvery is how often due retries move back to the ready list.
	PromoteEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "queue"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = 16 * c.RetryDelay
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	if c.PromoteEvery <= 0 {
		c.PromoteEvery = time.Second
	}
	return c
}

// Envelope is the stored form of one message.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Stats is a point-in-time view of the queue keys.
type Stats struct {
	Ready   int64
	Delayed int64
	Dead    int64
}
