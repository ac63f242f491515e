package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/mimir/pkg/metrics"
	"go.uber.org/zap"
)

// Worker consumes tasks from a broker and dispatches them through a registry.
type Worker struct {
	Broker   Broker
	Registry *Registry
	Logger   *zap.Logger
	// NewBackOff paces reconnects after Consume fails. The default is exponential with no
	// elapsed-time limit.
	NewBackOff func() backoff.BackOff
}

func NewWorker(b Broker, r *Registry, loggers ...*zap.Logger) *Worker {
	logger := zap.NewNop()
	if len(loggers) > 0 && loggers[0] != nil {
		logger = loggers[0]
	}
	return &Worker{Broker: b, Registry: r, Logger: logger}
}

// Run consumes until ctx is done. A failing broker is retried with backoff.
func (w *Worker) Run(ctx context.Context) error {
	newBackOff := w.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		}
	}

	w.Logger.Info("worker started", zap.Strings("tasks", w.Registry.Names()))
	op := func() error {
		err := w.Broker.Consume(ctx, w.Handle)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		w.Logger.Warn("broker failed, retrying", zap.Error(err), zap.Duration("in", next))
	}
	err := backoff.RetryNotify(op, backoff.WithContext(newBackOff(), ctx), notify)
	if ctx.Err() != nil {
		w.Logger.Info("worker stopped")
		return nil
	}
	return err
}

// Handle runs the registered handler for t and records metrics.
func (w *Worker) Handle(ctx context.Context, t Task) error {
	log := w.Logger.With(zap.String("task", t.Name), zap.String("task_id", t.ID))
	h, ok := w.Registry.Lookup(t.Name)
	if !ok {
		metrics.TasksFailed.WithLabelValues(t.Name).Inc()
		log.Error("no handler registered")
		return fmt.Errorf("%w: %s", ErrUnknownTask, t.Name)
	}

	start := time.Now()
	err := h(ctx, t)
	metrics.TaskDuration.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TasksFailed.WithLabelValues(t.Name).Inc()
		log.Error("task failed", zap.Error(err))
		return err
	}
	metrics.TasksProcessed.WithLabelValues(t.Name).Inc()
	log.Info("task done", zap.Duration("took", time.Since(start)))
	return nil
}
