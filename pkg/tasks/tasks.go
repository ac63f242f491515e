// Package tasks is a small background job queue. Producers enqueue named tasks on a broker
// (a redis list or a NATS JetStream stream) and a Worker dispatches them to registered
// handlers.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/edgeflare/mimir/pkg/config"
	"github.com/edgeflare/mimir/pkg/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	BackendRedis = "redis"
	BackendNATS  = "nats"

	DefaultQueue = "mimir"
)

var (
	ErrUnsupportedBackend = errors.New("unsupported task backend")
	ErrUnknownTask        = errors.New("unknown task")
	ErrMissingClient      = errors.New("redis client is required for the redis backend")
	ErrResultNotFound     = errors.New("task result not found")
)

// Task is one unit of background work.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewTask marshals payload into a task with a fresh id.
func NewTask(name string, payload any) (Task, error) {
	t := Task{ID: uuid.NewString(), Name: name, EnqueuedAt: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Task{}, fmt.Errorf("marshal %s payload: %w", name, err)
		}
		t.Payload = data
	}
	return t, nil
}

// Decode unmarshals the payload into v.
func (t Task) Decode(v any) error {
	if len(t.Payload) == 0 {
		return fmt.Errorf("task %s has no payload", t.ID)
	}
	return json.Unmarshal(t.Payload, v)
}

// Handler processes one task. A returned error marks the task as failed.
type Handler func(ctx context.Context, t Task) error

// Broker moves tasks from producers to a consumer.
type Broker interface {
	Enqueue(ctx context.Context, t Task) error
	// Consume calls handler for each task until ctx is done.
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Submit builds a task and enqueues it on b.
func Submit(ctx context.Context, b Broker, name string, payload any) (Task, error) {
	t, err := NewTask(name, payload)
	if err != nil {
		return Task{}, err
	}
	if err := b.Enqueue(ctx, t); err != nil {
		return Task{}, fmt.Errorf("enqueue %s: %w", name, err)
	}
	metrics.TasksEnqueued.WithLabelValues(name).Inc()
	return t, nil
}

// Registry maps task names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBroker returns the broker selected by CELERY_BACKEND. The redis backend uses a client
// built from CELERY_BROKER_URL when set, otherwise rdb.
func NewBroker(cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) (Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := cfg.CeleryConfig.Queue
	if queue == "" {
		queue = DefaultQueue
	}

	switch backend := strings.ToLower(cfg.CeleryConfig.Backend); backend {
	case BackendRedis, "":
		owned := false
		if cfg.CeleryConfig.BrokerURL != "" {
			opts, err := redis.ParseURL(cfg.CeleryConfig.BrokerURL)
			if err != nil {
				return nil, fmt.Errorf("CELERY_BROKER_URL: %w", err)
			}
			rdb = redis.NewClient(opts)
			owned = true
		}
		if rdb == nil {
			return nil, ErrMissingClient
		}
		b := NewRedisBroker(rdb, queue, WithResults(true), WithRedisLogger(logger))
		b.owned = owned
		return b, nil
	case BackendNATS:
		return NewNATSBroker(cfg.NATSURL, cfg.NATSStream, queue, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.CeleryConfig.Backend)
	}
}
