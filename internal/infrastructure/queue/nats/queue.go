package nats

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/infrastructure/resilience"
)

const (
	workerGroup    = "workers"
	defaultSubject = "documents.ingest"
)

// Queue carries "document uploaded, please process" events from the API to the worker group.
// Core NATS gives at-most-once delivery; a lost event leaves the document pending and a
// re-upload of the same source path queues it again.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	// MaxReconnects of -1 reconnects forever.
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

// queuedMessage is the wire form of a document waiting for processing.
type queuedMessage struct {
	DocumentID string    `json:"document_id"`
	QueuedAt   time.Time `json:"queued_at"`
}

func NewWithOptions(url, subject string, opts Options) (*Queue, error) {
	retryOnFailedConnect := true
	if opts.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *opts.RetryOnFailedConnect
	}
	subject = cmp.Or(subject, defaultSubject)

	conn, err := nats.Connect(url,
		nats.Name("legal-rag-ingest"),
		nats.Timeout(cmp.Or(opts.ConnectTimeout, 2*time.Second)),
		nats.ReconnectWait(cmp.Or(opts.ReconnectWait, 2*time.Second)),
		nats.MaxReconnects(cmp.Or(opts.MaxReconnects, 60)),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "subject", subject, "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	executor := opts.ResilienceExecutor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Queue{conn: conn, subject: subject, executor: executor}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// PublishDocumentQueued sends the document id with a Nats-Msg-Id header so a JetStream-backed
// subject can deduplicate repeated uploads of the same document.
func (q *Queue) PublishDocumentQueued(ctx context.Context, documentID string) error {
	payload, err := encodeQueued(documentID, time.Now().UTC())
	if err != nil {
		return err
	}
	msg := nats.NewMsg(q.subject)
	msg.Header.Set(nats.MsgIdHdr, documentID)
	msg.Data = payload

	err = q.executor.Execute(ctx, "nats.publish", func(context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}, classifyNATSError)
	return markTemporary(err)
}

// SubscribeDocumentQueued consumes queued documents in the worker queue group until ctx is done,
// then drains in-flight messages.
func (q *Queue) SubscribeDocumentQueued(ctx context.Context, handler func(ctx context.Context, documentID string, queuedAt time.Time) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		documentID, queuedAt, err := decodeQueued(msg.Data)
		if err != nil {
			slog.Error("queue_message_invalid", "subject", msg.Subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, documentID, queuedAt); err != nil {
			slog.Error("worker_handler_failed",
				"document_id", documentID,
				"temporary", domain.IsKind(err, domain.ErrTemporary),
				"error", err,
			)
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

func encodeQueued(documentID string, queuedAt time.Time) ([]byte, error) {
	if documentID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "nats publish", errors.New("empty document id"))
	}
	return json.Marshal(queuedMessage{DocumentID: documentID, QueuedAt: queuedAt})
}

// decodeQueued also accepts a bare document id, which is what older publishers sent.
func decodeQueued(data []byte) (string, time.Time, error) {
	var msg queuedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		id := string(data)
		if id == "" || id[0] == '{' {
			return "", time.Time{}, fmt.Errorf("decode queued message: %w", err)
		}
		return id, time.Time{}, nil
	}
	if msg.DocumentID == "" {
		return "", time.Time{}, errors.New("queued message without document_id")
	}
	return msg.DocumentID, msg.QueuedAt, nil
}
