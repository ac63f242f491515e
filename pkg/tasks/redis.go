package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// ResultTTL is how long task results are kept.
	ResultTTL = 24 * time.Hour

	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Result is the outcome of a task, stored under result:<id>.
type Result struct {
	ID       string    `json:"task_id"`
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	DateDone time.Time `json:"date_done"`
}

// ResultKey returns the redis key holding the result of task id.
func ResultKey(id string) string { return "result:" + id }

// RedisBroker queues tasks on a redis list: LPUSH to enqueue and BRPOP to consume.
type RedisBroker struct {
	rdb          redis.UniversalClient
	queue        string
	storeResults bool
	pollTimeout  time.Duration
	logger       *zap.Logger
	owned        bool
}

type RedisOption func(*RedisBroker)

// WithResults stores task outcomes under result:<id>.
func WithResults(enabled bool) RedisOption { return func(b *RedisBroker) { b.storeResults = enabled } }

// WithPollTimeout bounds each BRPOP so Consume notices cancellation.
func WithPollTimeout(d time.Duration) RedisOption {
	return func(b *RedisBroker) {
		if d > 0 {
			b.pollTimeout = d
		}
	}
}

func WithRedisLogger(l *zap.Logger) RedisOption {
	return func(b *RedisBroker) {
		if l != nil {
			b.logger = l
		}
	}
}

func NewRedisBroker(rdb redis.UniversalClient, queue string, opts ...RedisOption) *RedisBroker {
	b := &RedisBroker{
		rdb:         rdb,
		queue:       queue,
		pollTimeout: time.Second,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBroker) Enqueue(ctx context.Context, t Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return b.rdb.LPush(ctx, b.queue, data).Err()
}

func (b *RedisBroker) Consume(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		vals, err := b.rdb.BRPop(ctx, b.pollTimeout, b.queue).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("brpop %s: %w", b.queue, err)
		}

		// vals is [key, value]
		var t Task
		if err := json.Unmarshal([]byte(vals[1]), &t); err != nil {
			b.logger.Warn("dropping malformed task", zap.String("queue", b.queue), zap.Error(err))
			continue
		}
		herr := handler(ctx, t)
		if err := b.storeResult(ctx, t, herr); err != nil {
			b.logger.Warn("failed to store task result", zap.String("task_id", t.ID), zap.Error(err))
		}
	}
}

func (b *RedisBroker) storeResult(ctx context.Context, t Task, herr error) error {
	if !b.storeResults {
		return nil
	}
	res := Result{ID: t.ID, Name: t.Name, Status: StatusSuccess, DateDone: time.Now().UTC()}
	if herr != nil {
		res.Status = StatusFailure
		res.Error = herr.Error()
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	// the handler may have been cancelled with ctx; the outcome is still recorded
	return b.rdb.Set(context.WithoutCancel(ctx), ResultKey(t.ID), data, ResultTTL).Err()
}

// Result returns the stored outcome of task id.
func (b *RedisBroker) Result(ctx context.Context, id string) (Result, error) {
	data, err := b.rdb.Get(ctx, ResultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Result{}, ErrResultNotFound
	}
	if err != nil {
		return Result{}, err
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, fmt.Errorf("decode result %s: %w", id, err)
	}
	return res, nil
}

// Close closes the client only when the broker created it.
func (b *RedisBroker) Close() error {
	if b.owned {
		return b.rdb.Close()
	}
	return nil
}
