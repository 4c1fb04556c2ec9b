package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/message-dispatch/internal/model"
)

var (
	ErrNotFound = errors.New("message not found")
	// ErrAlreadyDelivered is returned by status writes on a success record.
	ErrAlreadyDelivered = errors.New("message already delivered")
)

type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) (string, error)
	Get(ctx context.Context, id string) (*model.Message, error)
	MarkSent(ctx context.Context, id, remoteMessageID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
	ListByStatus(ctx context.Context, status model.DeliveryStatus, limit, offset int) ([]*model.Message, error)
	ClaimFailed(ctx context.Context, maxAttempts, limit int) ([]string, error)
	Requeue(ctx context.Context, id string) (bool, error)
}
