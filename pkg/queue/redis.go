package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"KronosCast/pkg/logger"
)

// RedisQueue is a small at-least-once job queue on three Redis keys:
//
//	<prefix>:ready    list, LPUSH by producers and BRPOP by workers
//	<prefix>:delayed  sorted set of retries scored by due time in ms
//	<prefix>:dead     list of envelopes that exhausted their retries
//
// A message popped by a worker that crashes before finishing is lost; the
// evaluation sweep re-enqueues unevaluated records, so nothing stays stuck.
type RedisQueue struct {
	rdb  redis.Cmdable
	cfg  Config
	log  *logger.Logger
	jobs map[string]Job

	ready, delayed, dead string

	mu        sync.Mutex
	stopPoll  context.CancelFunc
	abortJobs context.CancelFunc
	wg        sync.WaitGroup
	now       func() time.Time
}

func NewRedisQueue(rdb redis.Cmdable, cfg Config, l *logger.Logger) *RedisQueue {
	cfg = cfg.withDefaults()
	if l == nil {
		l = logger.Nop()
	}
	return &RedisQueue{
		rdb:     rdb,
		cfg:     cfg,
		log:     l,
		jobs:    make(map[string]Job),
		ready:   cfg.Prefix + ":ready",
		delayed: cfg.Prefix + ":delayed",
		dead:    cfg.Prefix + ":dead",
		now:     time.Now,
	}
}

// Register adds a job before Start. The last job registered for a type wins.
func (q *RedisQueue) Register(job Job) {
	q.jobs[job.Type()] = job
}

// Start checks Redis and launches the workers and the retry promoter.
func (q *RedisQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopPoll != nil {
		return errors.New("queue already started")
	}
	if len(q.jobs) == 0 {
		return errors.New("queue has no jobs")
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("queue redis ping: %w", err)
	}

	pollCtx, stopPoll := context.WithCancel(context.Background())
	jobCtx, abortJobs := context.WithCancel(context.Background())
	q.stopPoll, q.abortJobs = stopPoll, abortJobs

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work(pollCtx, jobCtx, i)
	}
	q.wg.Add(1)
	go q.promoteLoop(pollCtx)

	q.log.Info("queue started",
		logger.String("prefix", q.cfg.Prefix),
		logger.Int("workers", q.cfg.Workers),
		logger.Int("retry_limit", q.cfg.RetryLimit))
	return nil
}

// Stop lets running jobs finish until ctx expires, then cancels them without
// waiting further. An interrupted message goes back to the ready list.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	stopPoll, abortJobs := q.stopPoll, q.abortJobs
	q.mu.Unlock()
	if stopPoll == nil {
		return nil
	}
	stopPoll()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("queue stop: %w", ctx.Err())
	}
	abortJobs()

	statsCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if st, serr := q.Stats(statsCtx); serr == nil {
		q.log.Info("queue stopped",
			logger.Int64("ready", st.Ready),
			logger.Int64("delayed", st.Delayed),
			logger.Int64("dead", st.Dead))
	}
	return err
}

// Enqueue stores payload for the job registered under msgType.
func (q *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	if _, ok := q.jobs[msgType]; !ok {
		return fmt.Errorf("queue: no job for type %q", msgType)
	}
	raw, err := Encode(payload)
	if err != nil {
		return err
	}
	return q.push(ctx, Envelope{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: q.now().UTC(),
	})
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	ready := pipe.LLen(ctx, q.ready)
	delayed := pipe.ZCard(ctx, q.delayed)
	dead := pipe.LLen(ctx, q.dead)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Ready: ready.Val(), Delayed: delayed.Val(), Dead: dead.Val()}, nil
}

// DeadLetters returns up to limit dead envelopes, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]Envelope, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := q.rdb.LRange(ctx, q.dead, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue dead letters: %w", err)
	}
	out := make([]Envelope, 0, len(raws))
	for _, raw := range raws {
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

func (q *RedisQueue) push(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("queue encode envelope: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.ready, b).Err(); err != nil {
		return fmt.Errorf("queue push %s: %w", env.Type, err)
	}
	return nil
}

func (q *RedisQueue) work(pollCtx, jobCtx context.Context, id int) {
	defer q.wg.Done()
	for pollCtx.Err() == nil {
		res, err := q.rdb.BRPop(pollCtx, q.cfg.PollTimeout, q.ready).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || pollCtx.Err() != nil {
				continue
			}
			q.log.Warn("queue pop failed", logger.Int("worker", id), logger.Error(err))
			sleep(pollCtx, q.cfg.PollTimeout)
			continue
		}
		// res is [key, value].
		q.handle(jobCtx, res[1])
	}
}

func (q *RedisQueue) handle(ctx context.Context, raw string) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		q.log.Error("queue dropped unreadable envelope", logger.Error(err))
		quoted, _ := json.Marshal(raw)
		q.bury(Envelope{Type: "unknown", Payload: quoted, LastError: err.Error()})
		return
	}
	job, ok := q.jobs[env.Type]
	if !ok {
		env.LastError = "no job registered"
		q.bury(env)
		return
	}

	err := runJob(ctx, job, env.Payload)
	switch {
	case err == nil:
		return
	case ctx.Err() != nil:
		q.requeue(env)
		return
	}

	env.LastError = err.Error()
	if IsPermanent(err) || env.Attempt >= q.cfg.RetryLimit {
		q.log.Error("queue job dead-lettered",
			logger.String("id", env.ID),
			logger.String("type", env.Type),
			logger.Int("attempt", env.Attempt),
			logger.Error(err))
		q.bury(env)
		return
	}
	env.Attempt++
	delay := q.retryDelay(env.Attempt)
	q.log.Warn("queue job failed, retrying",
		logger.String("id", env.ID),
		logger.String("type", env.Type),
		logger.Int("attempt", env.Attempt),
		logger.Duration("delay", delay),
		logger.Error(err))
	q.schedule(env, q.now().Add(delay))
}

func runJob(ctx context.Context, job Job, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("job panic: %v", r))
		}
	}()
	return job.Handle(ctx, payload)
}

// retryDelay doubles RetryDelay per attempt, capped at MaxRetryDelay.
func (q *RedisQueue) retryDelay(attempt int) time.Duration {
	d := q.cfg.RetryDelay
	for i := 1; i < attempt && d < q.cfg.MaxRetryDelay; i++ {
		d *= 2
	}
	if d > q.cfg.MaxRetryDelay {
		d = q.cfg.MaxRetryDelay
	}
	return d
}

// Writes after a failure use a fresh context so a stopping worker still
// records the outcome.
func (q *RedisQueue) bookkeeping() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 3*time.Second)
}

func (q *RedisQueue) schedule(env Envelope, due time.Time) {
	b, err := json.Marshal(env)
	if err != nil {
		q.log.Error("queue encode retry", logger.Error(err))
		return
	}
	ctx, cancel := q.bookkeeping()
	defer cancel()
	if err := q.rdb.ZAdd(ctx, q.delayed, redis.Z{Score: float64(due.UnixMilli()), Member: b}).Err(); err != nil {
		q.log.Error("queue schedule retry", logger.String("id", env.ID), logger.Error(err))
	}
}

func (q *RedisQueue) requeue(env Envelope) {
	ctx, cancel := q.bookkeeping()
	defer cancel()
	if err := q.push(ctx, env); err != nil {
		q.log.Error("queue requeue interrupted job", logger.String("id", env.ID), logger.Error(err))
	}
}

func (q *RedisQueue) bury(env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	ctx, cancel := q.bookkeeping()
	defer cancel()
	if err := q.rdb.LPush(ctx, q.dead, b).Err(); err != nil {
		q.log.Error("queue dead-letter write", logger.String("id", env.ID), logger.Error(err))
	}
}

func (q *RedisQueue) promoteLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.PromoteEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
				q.log.Warn("queue promote retries", logger.Error(err))
			}
		}
	}
}

// promoteDue moves retries whose due time has passed to the ready list.
// ZREM decides the winner when several instances promote concurrently.
func (q *RedisQueue) promoteDue(ctx context.Context) (int, error) {
	due, err := q.rdb.ZRangeByScore(ctx, q.delayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, member := range due {
		n, err := q.rdb.ZRem(ctx, q.delayed, member).Result()
		if err != nil {
			return moved, err
		}
		if n == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.ready, member).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
