// Package redisq is a reliable work queue on Redis lists.
//
// Producers LPUSH onto the queue list. Each consumer BLMOVEs one body into
// its own processing list, runs the handler and then removes the body, or
// moves it back onto the queue when the handler fails. A consumer that
// restarts with the same id first returns whatever its processing list
// still holds.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/LeventeLantos/message-dispatch/internal/dispatch"
)

const DefaultBlock = time.Second

type Option func(*Queue)

// WithBlock sets how long one BLMOVE waits before checking for shutdown.
func WithBlock(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.block = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

type Queue struct {
	rdb        redis.Cmdable
	name       string
	processing string
	block      time.Duration
	logger     *zap.Logger
}

var (
	_ dispatch.Publisher = (*Queue)(nil)
	_ dispatch.Consumer  = (*Queue)(nil)
)

// New returns a queue named name. consumerID names this consumer's
// processing list; an empty id gets a random one, which disables recovery
// across restarts.
func New(rdb redis.Cmdable, name, consumerID string, opts ...Option) *Queue {
	if consumerID == "" {
		consumerID = uuid.NewString()
	}
	q := &Queue{
		rdb:        rdb,
		name:       name,
		processing: ProcessingKey(name, consumerID),
		block:      DefaultBlock,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func ProcessingKey(name, consumerID string) string {
	return fmt.Sprintf("%s:processing:%s", name, consumerID)
}

func (q *Queue) Publish(ctx context.Context, body []byte) error {
	if err := q.rdb.LPush(ctx, q.name, body).Err(); err != nil {
		return fmt.Errorf("redisq: publish: %w", err)
	}
	return nil
}

// Consume runs h for each body until ctx is done.
func (q *Queue) Consume(ctx context.Context, h dispatch.Handler) error {
	n, err := q.Recover(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		q.logger.Info("recovered unacked jobs", zap.Int("count", n), zap.String("queue", q.name))
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		body, err := q.rdb.BLMove(ctx, q.name, q.processing, "RIGHT", "LEFT", q.block).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return fmt.Errorf("redisq: receive: %w", err)
		}

		if herr := h(ctx, body); herr != nil {
			q.logger.Warn("handler failed, requeueing job", zap.String("queue", q.name), zap.Error(herr))
			if err := q.requeue(ctx, body); err != nil {
				return err
			}
			continue
		}
		if err := q.rdb.LRem(context.WithoutCancel(ctx), q.processing, 1, body).Err(); err != nil {
			return fmt.Errorf("redisq: ack: %w", err)
		}
	}
}

// requeue puts body back at the consuming end of the queue.
func (q *Queue) requeue(ctx context.Context, body []byte) error {
	ctx = context.WithoutCancel(ctx)
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processing, 1, body)
		p.RPush(ctx, q.name, body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisq: requeue: %w", err)
	}
	return nil
}

// Recover moves every body left in this consumer's processing list back onto
// the queue and reports how many it moved.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.name, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("redisq: recover: %w", err)
		}
		n++
	}
}

// Len reports how many bodies wait in the queue.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.name).Result()
}
