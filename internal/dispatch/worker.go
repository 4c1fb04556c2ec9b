package dispatch

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/LeventeLantos/message-dispatch/internal/logging"
	"github.com/LeventeLantos/message-dispatch/internal/model"
	"github.com/LeventeLantos/message-dispatch/internal/record"
	"github.com/LeventeLantos/message-dispatch/internal/repo"
)

// Worker is the consumer side: it sends one queued message per delivery.
type Worker struct {
	repo   repo.MessageRepository
	sender Sender
	options
}

func NewWorker(r repo.MessageRepository, s Sender, opts ...Option) *Worker {
	w := &Worker{repo: r, sender: s, options: defaults()}
	for _, opt := range opts {
		opt(&w.options)
	}
	return w
}

// Handle processes one job body. It makes at most one gateway call and
// returns nil once the outcome is recorded, or when the job can never
// succeed. Errors are returned only when the status write failed, so the
// broker redelivers.
func (w *Worker) Handle(ctx context.Context, body []byte) (err error) {
	job, err := ParseJob(body)
	if err != nil {
		w.logger.Warn("dropping malformed job", zap.Error(err), zap.ByteString("body", body))
		return nil
	}

	ctx, span := w.tracer.Start(ctx, "dispatch.handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("message.id", job.MessageID)),
	)
	scope := logging.Begin(w.logger, "handle", zap.String(logging.ReferenceKey, job.MessageID))
	defer func() {
		scope.End(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	msg, err := w.repo.Get(ctx, job.MessageID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		w.logger.Warn("job references a missing message", zap.String(logging.ReferenceKey, job.MessageID))
		return nil
	case errors.Is(err, record.ErrSchemaMismatch):
		w.logger.Error("stored message does not match its schema",
			zap.String(logging.ReferenceKey, job.MessageID), zap.Error(err))
		return nil
	case err != nil:
		return err
	}

	if msg.Status == model.StatusSuccess {
		w.logger.Info("message already delivered, skipping", zap.String(logging.ReferenceKey, msg.ID()))
		return nil
	}

	text, err := w.catalog.Render(msg.Template, msg.Payload)
	if err != nil {
		return w.fail(ctx, msg, err.Error())
	}
	if n := utf8.RuneCountInString(text); n > w.contentMax {
		return w.fail(ctx, msg, fmt.Sprintf("content exceeds %d chars", w.contentMax))
	}

	remoteID, sendErr := w.sender.SendText(ctx, msg.Destination, text)
	if sendErr != nil {
		span.AddEvent("gateway failure", trace.WithAttributes(attribute.String("error", sendErr.Error())))
		return w.fail(ctx, msg, sendErr.Error())
	}

	sentAt := w.now()
	if err := w.repo.MarkSent(ctx, msg.ID(), remoteID, sentAt); err != nil {
		if errors.Is(err, repo.ErrAlreadyDelivered) {
			w.logger.Warn("message delivered twice", zap.String(logging.ReferenceKey, msg.ID()), zap.String("remote_id", remoteID))
			return nil
		}
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	w.logger.Info("message delivered",
		zap.String(logging.ReferenceKey, msg.ID()), zap.String("remote_id", remoteID), zap.Int("attempt", msg.Attempts+1))

	if w.cache != nil {
		if err := w.cache.StoreSent(ctx, msg.ID(), remoteID, sentAt); err != nil {
			w.logger.Warn("failed to cache delivery receipt", zap.String(logging.ReferenceKey, msg.ID()), zap.Error(err))
		}
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, msg *model.Message, reason string) error {
	w.logger.Warn("message delivery failed",
		zap.String(logging.ReferenceKey, msg.ID()), zap.String("reason", reason), zap.Int("attempt", msg.Attempts+1))
	err := w.repo.MarkFailed(ctx, msg.ID(), reason)
	switch {
	case errors.Is(err, repo.ErrAlreadyDelivered):
		w.logger.Info("failure ignored, message was delivered meanwhile", zap.String(logging.ReferenceKey, msg.ID()))
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return nil
	}
	return err
}
