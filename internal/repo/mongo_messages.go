package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/message-dispatch/internal/model"
	"github.com/LeventeLantos/message-dispatch/internal/record"
	"github.com/LeventeLantos/message-dispatch/internal/store"
)

type Messages = store.Collection[model.Message, *model.Message]

type MongoMessageRepo struct {
	col *Messages
}

func NewMongoMessageRepo(col *Messages) *MongoMessageRepo {
	return &MongoMessageRepo{col: col}
}

func (r *MongoMessageRepo) Create(ctx context.Context, msg *model.Message) (string, error) {
	return r.col.Create(ctx, msg)
}

func (r *MongoMessageRepo) Get(ctx context.Context, id string) (*model.Message, error) {
	msg, found, err := r.col.FindOne(ctx, store.ByID(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return msg, nil
}

// MarkSent and MarkFailed only write records that are not yet success; a
// success record yields ErrAlreadyDelivered and stays untouched.
func (r *MongoMessageRepo) MarkSent(ctx context.Context, id, remoteMessageID string, sentAt time.Time) error {
	set := record.Values{
		model.MsgStatus:    string(model.StatusSuccess),
		model.MsgSentAt:    sentAt.UTC(),
		model.MsgLastError: nil,
		model.MsgRemoteID:  nil,
	}
	if remoteMessageID != "" {
		set[model.MsgRemoteID] = remoteMessageID
	}
	return r.update(ctx, id, store.Set(set).Inc(model.MsgAttempts, 1))
}

func (r *MongoMessageRepo) MarkFailed(ctx context.Context, id, reason string) error {
	return r.update(ctx, id, store.Set(record.Values{
		model.MsgStatus:    string(model.StatusError),
		model.MsgLastError: reason,
	}).Inc(model.MsgAttempts, 1))
}

func (r *MongoMessageRepo) update(ctx context.Context, id string, u store.Update) error {
	undelivered := store.ByID(id).In(model.MsgStatus, model.StatusPending, model.StatusError)
	_, found, err := r.col.Update(ctx, undelivered, u)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	exists, err := r.col.Exists(ctx, store.ByID(id))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyDelivered, id)
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (r *MongoMessageRepo) ListByStatus(ctx context.Context, status model.DeliveryStatus, limit, offset int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return store.Collect(r.col.Paginate(ctx, store.Where(model.MsgStatus, status), offset, limit))
}

// ClaimFailed moves up to limit error records with fewer than maxAttempts
// attempts back to pending, one conditional update each, and returns their
// ids. Concurrent callers never claim the same record.
func (r *MongoMessageRepo) ClaimFailed(ctx context.Context, maxAttempts, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	q := store.Where(model.MsgStatus, model.StatusError).Less(model.MsgAttempts, maxAttempts)
	toPending := store.Set(record.Values{model.MsgStatus: string(model.StatusPending)})

	var ids []string
	for range limit {
		id, found, err := r.col.Update(ctx, q, toPending)
		if err != nil {
			return ids, err
		}
		if !found {
			break
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Requeue moves one error record back to pending. It reports false when the
// record is not in error.
func (r *MongoMessageRepo) Requeue(ctx context.Context, id string) (bool, error) {
	_, found, err := r.col.Update(ctx,
		store.ByID(id).And(model.MsgStatus, model.StatusError),
		store.Set(record.Values{model.MsgStatus: string(model.StatusPending)}),
	)
	return found, err
}
