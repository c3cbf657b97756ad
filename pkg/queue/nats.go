package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/internal/types"
)

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// publish serializes v as JSON and injects the trace context from ctx.
func publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return nc.PublishMsg(msg)
}

// subscribe decodes JSON messages of type T, joining queue group when it is
// not empty. Malformed messages are logged and dropped.
func subscribe[T any](nc *nats.Conn, subject, group string, log *slog.Logger, handler func(context.Context, T)) (*nats.Subscription, error) {
	cb := func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			log.Warn("dropping malformed message", "subject", msg.Subject, "error", err)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v)
	}
	if group != "" {
		return nc.QueueSubscribe(subject, group, cb)
	}
	return nc.Subscribe(subject, cb)
}

// NATSQueue publishes import tasks to a subject consumed by worker processes.
type NATSQueue struct {
	nc      *nats.Conn
	subject string
	log     *slog.Logger
}

func NewNATSQueue(nc *nats.Conn, subject string, log *slog.Logger) *NATSQueue {
	if log == nil {
		log = slog.Default()
	}
	return &NATSQueue{nc: nc, subject: subject, log: log}
}

func (q *NATSQueue) Enqueue(ctx context.Context, task models.ImportTask) error {
	if err := publish(ctx, q.nc, q.subject, task); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

// Consume delivers tasks from the queue group to the returned channel until
// ctx is done. Delivery blocks while every worker is busy, so a slow pool
// pushes back on the subscription rather than buffering without bound.
func (q *NATSQueue) Consume(ctx context.Context, group string) (<-chan models.ImportTask, error) {
	tasks := make(chan models.ImportTask)
	sub, err := subscribe(q.nc, q.subject, group, q.log, func(_ context.Context, task models.ImportTask) {
		q.deliver(ctx, tasks, task)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", q.subject, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			q.log.Warn("drain subscription", "subject", q.subject, "error", err)
		}
	}()
	return tasks, nil
}

// deliver hands task to a worker. A task that arrives while the consumer is
// shutting down is not redelivered by core NATS, so its job is logged as lost.
func (q *NATSQueue) deliver(ctx context.Context, tasks chan<- models.ImportTask, task models.ImportTask) bool {
	select {
	case tasks <- task:
		return true
	case <-ctx.Done():
		q.log.Warn("dropping task during shutdown, job stays queued",
			"job_id", task.JobID, "url", task.URL, "subject", q.subject)
		return false
	}
}

// StatusPublisher is a StatusSink that forwards updates over NATS to the
// process owning the job store.
type StatusPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewStatusPublisher(nc *nats.Conn, subject string) *StatusPublisher {
	return &StatusPublisher{nc: nc, subject: subject}
}

func (p *StatusPublisher) Update(ctx context.Context, u models.JobUpdate) error {
	return publish(ctx, p.nc, p.subject, u)
}

// SubscribeStatus applies status updates published by workers to sink.
func SubscribeStatus(nc *nats.Conn, subject string, sink types.StatusSink, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return subscribe(nc, subject, "", log, func(ctx context.Context, u models.JobUpdate) {
		if err := sink.Update(ctx, u); err != nil {
			log.Warn("apply status update", "job_id", u.JobID, "status", u.Status, "error", err)
		}
	})
}
