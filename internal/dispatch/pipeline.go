package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/LeventeLantos/message-dispatch/internal/cache"
	"github.com/LeventeLantos/message-dispatch/internal/hashid"
	"github.com/LeventeLantos/message-dispatch/internal/logging"
	"github.com/LeventeLantos/message-dispatch/internal/model"
	"github.com/LeventeLantos/message-dispatch/internal/repo"
	"github.com/LeventeLantos/message-dispatch/internal/template"
)

const (
	DefaultContentMax = 4096
	DefaultBatchSize  = 100

	tracerName = "github.com/LeventeLantos/message-dispatch/internal/dispatch"
)

// Request is one message to send.
type Request struct {
	CompanyID   string            `json:"empresa_id,omitempty"`
	Destination string            `json:"numero_destino"`
	Template    string            `json:"template"`
	Payload     map[string]string `json:"payload"`
}

// RetryPolicy bounds the retry sweep. MaxAttempts 0 disables it.
type RetryPolicy struct {
	MaxAttempts int
	BatchSize   int
}

type Option func(*options)

type options struct {
	logger     *zap.Logger
	catalog    *template.Catalog
	contentMax int
	cache      cache.MessageCache
	tracer     trace.Tracer
	now        func() time.Time
}

func defaults() options {
	return options{
		logger:     zap.NewNop(),
		catalog:    template.DefaultCatalog(),
		contentMax: DefaultContentMax,
		tracer:     otel.Tracer(tracerName),
		now:        model.Now,
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithCatalog(c *template.Catalog) Option {
	return func(o *options) {
		if c != nil {
			o.catalog = c
		}
	}
}

// WithContentMax limits the rendered text length in characters.
func WithContentMax(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.contentMax = n
		}
	}
}

// WithCache makes the worker record a receipt after each successful send.
func WithCache(c cache.MessageCache) Option {
	return func(o *options) { o.cache = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// Pipeline is the producer side: it records messages and queues them.
type Pipeline struct {
	repo repo.MessageRepository
	pub  Publisher
	options
}

func NewPipeline(r repo.MessageRepository, pub Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{repo: r, pub: pub, options: defaults()}
	for _, opt := range opts {
		opt(&p.options)
	}
	return p
}

// Enqueue stores req as a pending message and publishes its job. A template
// that cannot be bound fails before anything is written. When the publish
// fails the stored message is returned along with ErrPublish.
func (p *Pipeline) Enqueue(ctx context.Context, req Request) (msg *model.Message, err error) {
	scope := logging.Begin(p.logger, "enqueue", zap.String("destination", req.Destination))
	defer func() { scope.End(err) }()

	text, err := p.catalog.Render(req.Template, req.Payload)
	if err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(text); n > p.contentMax {
		return nil, fmt.Errorf("%w: %d chars, max %d", ErrContentTooLong, n, p.contentMax)
	}

	msg = model.NewMessage(req.CompanyID, req.Destination, req.Template, req.Payload)
	msg.CreatedAt = p.now()
	if _, err := p.repo.Create(ctx, msg); err != nil {
		return nil, err
	}

	if err := p.publish(ctx, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// Requeue republishes one message that ended in error.
func (p *Pipeline) Requeue(ctx context.Context, id string) (err error) {
	scope := logging.Begin(p.logger, "requeue", zap.String(logging.ReferenceKey, id))
	defer func() { scope.End(err) }()

	msg, err := p.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	switch msg.Status {
	case model.StatusSuccess:
		return fmt.Errorf("%w: %s", ErrAlreadyDelivered, id)
	case model.StatusPending:
		return fmt.Errorf("%w: %s is pending", ErrNotRetryable, id)
	}

	ok, err := p.repo.Requeue(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		// Lost a race with the sweep or another requeue.
		return fmt.Errorf("%w: %s changed state", ErrNotRetryable, id)
	}
	msg.Status = model.StatusPending
	return p.publish(ctx, msg)
}

// RetryFailed claims error messages below the attempt ceiling and publishes
// them again. It returns how many were published.
func (p *Pipeline) RetryFailed(ctx context.Context, policy RetryPolicy) (int, error) {
	if policy.MaxAttempts <= 0 {
		return 0, nil
	}
	batch := policy.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	ids, err := p.repo.ClaimFailed(ctx, policy.MaxAttempts, batch)
	if err != nil && len(ids) == 0 {
		return 0, err
	}

	published := 0
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, id := range ids {
		msg, gerr := p.repo.Get(ctx, id)
		if gerr != nil {
			errs = append(errs, gerr)
			continue
		}
		if perr := p.publish(ctx, msg); perr != nil {
			errs = append(errs, perr)
			continue
		}
		published++
	}

	if published > 0 || len(errs) > 0 {
		p.logger.Info("retry sweep finished",
			zap.Int("claimed", len(ids)), zap.Int("published", published), zap.Int("errors", len(errs)))
	}
	return published, errors.Join(errs...)
}

func (p *Pipeline) publish(ctx context.Context, msg *model.Message) error {
	body, err := Job{
		MessageID:  msg.ID(),
		Key:        hashid.DedupeKey(msg.Destination, msg.Template, msg.Payload),
		EnqueuedAt: p.now(),
	}.Marshal()
	if err != nil {
		return fmt.Errorf("%w: message %s: %w", ErrPublish, msg.ID(), err)
	}
	if err := p.pub.Publish(ctx, body); err != nil {
		return fmt.Errorf("%w: message %s: %w", ErrPublish, msg.ID(), err)
	}
	return nil
}
