package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KronosCast/pkg/logger"
)

type evalPayload struct {
	RecordID string `json:"record_id"`
}

type recordingJob struct {
	mu    sync.Mutex
	seen  []string
	calls int32
	err   error
}

func (j *recordingJob) Type() string { return "evaluate_prediction" }

func (j *recordingJob) Handle(_ context.Context, payload json.RawMessage) error {
	atomic.AddInt32(&j.calls, 1)
	p, err := Decode[evalPayload](payload)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.seen = append(j.seen, p.RecordID)
	j.mu.Unlock()
	return j.err
}

func (j *recordingJob) recordIDs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.seen...)
}

func newQueue(t *testing.T, cfg Config) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	if cfg.Prefix == "" {
		cfg.Prefix = "test:queue"
	}
	return NewRedisQueue(client, cfg, logger.Nop()), s
}

func startQueue(t *testing.T, q *RedisQueue) {
	t.Helper()
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })
}

func TestRedisQueueDeliversTypedPayload(t *testing.T) {
	q, _ := newQueue(t, Config{Workers: 2})
	job := &recordingJob{}
	q.Register(job)
	startQueue(t, q)

	require.NoError(t, q.Enqueue(context.Background(), "evaluate_prediction", evalPayload{RecordID: "rec-1"}))
	assert.Eventually(t, func() bool {
		ids := job.recordIDs()
		return len(ids) == 1 && ids[0] == "rec-1"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRedisQueueEnqueueRejectsUnknownType(t *testing.T) {
	q, s := newQueue(t, Config{})
	q.Register(&recordingJob{})

	assert.Error(t, q.Enqueue(context.Background(), "missing", evalPayload{}))
	assert.False(t, s.Exists("test:queue:ready"))
}

func TestRedisQueueEnqueueStoresEnvelope(t *testing.T) {
	q, s := newQueue(t, Config{})
	q.Register(&recordingJob{})
	q.now = func() time.Time { return time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC) }

	require.NoError(t, q.Enqueue(context.Background(), "evaluate_prediction", evalPayload{RecordID: "rec-9"}))

	items, err := s.List("test:queue:ready")
	require.NoError(t, err)
	require.Len(t, items, 1)
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(items[0]), &env))
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "evaluate_prediction", env.Type)
	assert.JSONEq(t, `{"record_id":"rec-9"}`, string(env.Payload))
	assert.Zero(t, env.Attempt)
	assert.True(t, env.EnqueuedAt.Equal(q.now()))
}

func TestRedisQueueRetriesThenDeadLetters(t *testing.T) {
	q, _ := newQueue(t, Config{
		Workers:      1,
		RetryLimit:   2,
		RetryDelay:   10 * time.Millisecond,
		PromoteEvery: 10 * time.Millisecond,
	})
	job := &recordingJob{err: errors.New("feed unavailable")}
	q.Register(job)
	startQueue(t, q)

	require.NoError(t, q.Enqueue(context.Background(), "evaluate_prediction", evalPayload{RecordID: "rec-2"}))
	assert.Eventually(t, func() bool {
		st, err := q.Stats(context.Background())
		return err == nil && st.Dead == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.EqualValues(t, 3, atomic.LoadInt32(&job.calls))
	dead, err := q.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 2, dead[0].Attempt)
	assert.Equal(t, "feed unavailable", dead[0].LastError)
}

func TestRedisQueuePermanentErrorSkipsRetries(t *testing.T) {
	q, _ := newQueue(t, Config{Workers: 1, RetryLimit: 5, RetryDelay: 10 * time.Millisecond})
	job := &recordingJob{}
	q.Register(job)
	startQueue(t, q)

	// record_id must be a string; Decode fails permanently.
	require.NoError(t, q.Enqueue(context.Background(), "evaluate_prediction", json.RawMessage(`{"record_id":7}`)))
	assert.Eventually(t, func() bool {
		st, err := q.Stats(context.Background())
		return err == nil && st.Dead == 1 && st.Delayed == 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&job.calls))
}

func TestRedisQueueBuriesUnreadableEnvelope(t *testing.T) {
	q, s := newQueue(t, Config{Workers: 1})
	q.Register(&recordingJob{})
	_, err := s.Lpush("test:queue:ready", "not an envelope")
	require.NoError(t, err)
	startQueue(t, q)

	assert.Eventually(t, func() bool {
		dead, err := q.DeadLetters(context.Background(), 10)
		return err == nil && len(dead) == 1 && dead[0].Type == "unknown"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPromoteDueMovesOnlyDueRetries(t *testing.T) {
	q, s := newQueue(t, Config{})
	q.Register(&recordingJob{})
	now := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	q.schedule(Envelope{ID: "due", Type: "evaluate_prediction", Attempt: 1}, now.Add(-time.Second))
	q.schedule(Envelope{ID: "later", Type: "evaluate_prediction", Attempt: 1}, now.Add(time.Minute))

	moved, err := q.promoteDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	ready, err := s.List("test:queue:ready")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Contains(t, ready[0], `"id":"due"`)

	st, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Ready: 1, Delayed: 1}, st)
}

func TestRetryDelayDoublesUpToCap(t *testing.T) {
	q, _ := newQueue(t, Config{RetryDelay: time.Second, MaxRetryDelay: 5 * time.Second})
	assert.Equal(t, time.Second, q.retryDelay(1))
	assert.Equal(t, 2*time.Second, q.retryDelay(2))
	assert.Equal(t, 4*time.Second, q.retryDelay(3))
	assert.Equal(t, 5*time.Second, q.retryDelay(4))
	assert.Equal(t, 5*time.Second, q.retryDelay(10))
}

func TestRedisQueueStartRequiresJobs(t *testing.T) {
	q, _ := newQueue(t, Config{})
	assert.Error(t, q.Start())
	assert.NoError(t, q.Stop(context.Background()), "stopping an idle queue is a no-op")
}

func TestDecode(t *testing.T) {
	p, err := Decode[evalPayload](json.RawMessage(`{"record_id":"rec-3"}`))
	require.NoError(t, err)
	assert.Equal(t, "rec-3", p.RecordID)

	_, err = Decode[evalPayload](nil)
	assert.True(t, IsPermanent(err))

	_, err = Decode[evalPayload](json.RawMessage(`{`))
	assert.True(t, IsPermanent(err))
}

func TestEncodeKeepsRawMessage(t *testing.T) {
	raw := json.RawMessage(`{"record_id":"x"}`)
	got, err := Encode(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = Encode(evalPayload{RecordID: "y"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"record_id":"y"}`, string(got))

	_, err = Encode(make(chan int))
	assert.Error(t, err)
}
