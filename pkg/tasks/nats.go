package tasks

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBroker queues tasks on a JetStream stream and consumes them with a durable pull
// consumer. Tasks are acked when the handler succeeds and nak'ed otherwise.
type NATSBroker struct {
	nc       *nats.Conn
	js       nats.JetStreamContext
	stream   string
	prefix   string
	consumer string
	logger   *zap.Logger
}

// NewNATSBroker connects to url and ensures the stream. Subjects are <queue>.<task name>.
func NewNATSBroker(url, stream, queue string, logger *zap.Logger) (*NATSBroker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	queue = cmp.Or(queue, DefaultQueue)
	b := &NATSBroker{
		stream:   cmp.Or(stream, queue+"-tasks"),
		prefix:   queue,
		consumer: queue + "-worker",
		logger:   logger,
	}

	var err error
	b.nc, err = nats.Connect(cmp.Or(url, nats.DefaultURL),
		nats.Name(queue),
		nats.Timeout(5*time.Second),
		nats.PingInterval(10*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS server: %w", err)
	}
	if b.js, err = b.nc.JetStream(); err != nil {
		b.nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	if err := b.ensureStream(); err != nil {
		b.nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return b, nil
}

func (b *NATSBroker) subjects() []string { return []string{b.prefix + ".>"} }

func (b *NATSBroker) ensureStream() error {
	want := &nats.StreamConfig{
		Name:      b.stream,
		Subjects:  b.subjects(),
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
	}

	info, err := b.js.StreamInfo(b.stream)
	if err == nil {
		if !slices.Equal(info.Config.Subjects, want.Subjects) {
			if _, err := b.js.UpdateStream(want); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
			b.logger.Info("updated stream", zap.String("stream", b.stream))
		}
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("get stream info: %w", err)
	}
	if _, err := b.js.AddStream(want); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	b.logger.Info("created stream", zap.String("stream", b.stream))
	return nil
}

func (b *NATSBroker) Enqueue(ctx context.Context, t Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if _, err := b.js.Publish(b.prefix+"."+t.Name, data, nats.Context(ctx), nats.MsgId(t.ID)); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

func (b *NATSBroker) Consume(ctx context.Context, handler Handler) error {
	_, err := b.js.AddConsumer(b.stream, &nats.ConsumerConfig{
		Durable:       b.consumer,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       time.Minute,
		FilterSubject: b.subjects()[0],
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return fmt.Errorf("create consumer: %w", err)
	}

	sub, err := b.js.PullSubscribe(b.subjects()[0], b.consumer, nats.Bind(b.stream, b.consumer))
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck

	for ctx.Err() == nil {
		msgs, err := sub.Fetch(10, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("fetch messages: %w", err)
		}

		for _, msg := range msgs {
			var t Task
			if err := json.Unmarshal(msg.Data, &t); err != nil {
				b.logger.Warn("dropping malformed task", zap.String("subject", msg.Subject), zap.Error(err))
				_ = msg.Term()
				continue
			}
			if err := handler(ctx, t); err != nil {
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}
	return nil
}

func (b *NATSBroker) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
