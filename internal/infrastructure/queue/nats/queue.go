package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/infrastructure/resilience"
)

// Queue hands freshly ingested batch IDs to the worker over a single
// subject with queue-group delivery, and fans progress messages out to
// every connected API instance on a sibling subject.
type Queue struct {
	conn            *nats.Conn
	subject         string
	progressSubject string
	executor        *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ProgressSubject      string
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("audex"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	progressSubject := options.ProgressSubject
	if progressSubject == "" {
		progressSubject = progressSubjectFor(subject)
	}
	return &Queue{
		conn:            conn,
		subject:         subject,
		progressSubject: progressSubject,
		executor:        options.ResilienceExecutor,
	}, nil
}

// progressSubjectFor derives the progress subject from the ingest subject:
// "batches.ingest" becomes "batches.progress".
func progressSubjectFor(subject string) string {
	if idx := strings.LastIndex(subject, "."); idx > 0 {
		return subject[:idx] + ".progress"
	}
	return subject + ".progress"
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishBatchIngested(ctx context.Context, batchID string) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, []byte(batchID)); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// PublishProgress is fire-and-forget: a pipeline run never fails because a
// progress frame could not be delivered.
func (q *Queue) PublishProgress(msg domain.ProgressMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := q.conn.Publish(q.progressSubject, payload); err != nil {
		slog.Warn("progress publish failed", "batch_id", msg.BatchID, "error", err)
	}
}

// SubscribeProgress delivers every progress message to the handler. Unlike
// batch delivery there is no queue group: each API instance needs the full
// stream for its own SSE subscribers. The returned function stops delivery.
func (q *Queue) SubscribeProgress(handler func(domain.ProgressMessage)) (func(), error) {
	sub, err := q.conn.Subscribe(q.progressSubject, func(m *nats.Msg) {
		var msg domain.ProgressMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Warn("malformed progress message dropped", "error", err)
			return
		}
		handler(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe progress: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (q *Queue) SubscribeBatchIngested(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, "workers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, string(msg.Data)); err != nil {
			slog.Error("worker handler failed", "batch_id", string(msg.Data), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
