package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeventeLantos/message-dispatch/internal/model"
	"github.com/LeventeLantos/message-dispatch/internal/record"
	"github.com/LeventeLantos/message-dispatch/internal/store"
	"github.com/LeventeLantos/message-dispatch/internal/store/storetest"
)

func newTestRepo(t *testing.T) *MongoMessageRepo {
	t.Helper()

	reg, err := record.NewRegistry(model.DefaultCollections, model.Descriptors()...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	col, err := store.New[model.Message](storetest.New(), reg, model.MessageCollection)
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	return NewMongoMessageRepo(col)
}

func createMessage(t *testing.T, r *MongoMessageRepo) string {
	t.Helper()
	id, err := r.Create(context.Background(), model.NewMessage("c1", "5511999999999", "Hi {name}", map[string]string{"name": "Ana"}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return id
}

func TestMarkSent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepo(t)
	id := createMessage(t, r)

	if err := r.MarkFailed(ctx, id, "timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	sentAt := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	if err := r.MarkSent(ctx, id, "REMOTE-1", sentAt); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	msg, err := r.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if msg.Status != model.StatusSuccess {
		t.Fatalf("expected success, got %s", msg.Status)
	}
	if msg.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", msg.Attempts)
	}
	if msg.SentAt == nil || !msg.SentAt.Equal(sentAt) {
		t.Fatalf("expected sent at %v, got %v", sentAt, msg.SentAt)
	}
	if msg.RemoteID != "REMOTE-1" || msg.LastError != "" {
		t.Fatalf("unexpected remote id %q / last error %q", msg.RemoteID, msg.LastError)
	}
}

func TestMarkFailedRecordsReason(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepo(t)
	id := createMessage(t, r)

	if err := r.MarkFailed(ctx, id, "status 500"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	msg, err := r.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if msg.Status != model.StatusError || msg.Attempts != 1 || msg.LastError != "status 500" {
		t.Fatalf("unexpected message state: %+v", msg)
	}
	if msg.SentAt != nil {
		t.Fatalf("failed message must not have a delivery time")
	}
}

func TestMissingMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepo(t)

	if _, err := r.Get(ctx, "65f1a2b3c4d5e6f708192a3b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.MarkSent(ctx, "65f1a2b3c4d5e6f708192a3b", "", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusWritesLeaveSuccessAlone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepo(t)
	id := createMessage(t, r)

	if err := r.MarkSent(ctx, id, "REMOTE-1", time.Now()); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := r.MarkFailed(ctx, id, "late timeout"); !errors.Is(err, ErrAlreadyDelivered) {
		t.Fatalf("expected ErrAlreadyDelivered from MarkFailed, got %v", err)
	}
	if err := r.MarkSent(ctx, id, "REMOTE-2", time.Now()); !errors.Is(err, ErrAlreadyDelivered) {
		t.Fatalf("expected ErrAlreadyDelivered from MarkSent, got %v", err)
	}

	msg, err := r.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if msg.Status != model.StatusSuccess || msg.Attempts != 1 || msg.RemoteID != "REMOTE-1" || msg.LastError != "" {
		t.Fatalf("success record changed: status=%s attempts=%d remote=%q last_error=%q",
			msg.Status, msg.Attempts, msg.RemoteID, msg.LastError)
	}

	ids, err := r.ClaimFailed(ctx, 3, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected nothing to claim, got %v", ids)
	}
}

func TestClaimFailedRespectsCeiling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepo(t)

	below := createMessage(t, r)
	atCeiling := createMessage(t, r)
	pending := createMessage(t, r)

	if err := r.MarkFailed(ctx, below, "x"); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := r.MarkFailed(ctx, atCeiling, "x"); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := r.ClaimFailed(ctx, 3, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(ids) != 1 || ids[0] != below {
		t.Fatalf("expected only %s to be claimed, got %v", below, ids)
	}

	msg, _ := r.Get(ctx, below)
	if msg.Status != model.StatusPending || msg.Attempts != 1 {
		t.Fatalf("claimed message should be pending with attempts kept, got %+v", msg)
	}
	msg, _ = r.Get(ctx, atCeiling)
	if msg.Status != model.StatusError {
		t.Fatalf("message at ceiling must stay error, got %s", msg.Status)
	}
	msg, _ = r.Get(ctx, pending)
	if msg.Status != model.StatusPending || msg.Attempts != 0 {
		t.Fatalf("pending message must be untouched, got %+v", msg)
	}

	ids, err = r.ClaimFailed(ctx, 3, 10)
	if err != nil || len(ids) != 0 {
		t.Fatalf("second claim should find nothing, got %v %v", ids, err)
	}
}

func TestRequeueOnlyMovesErrorRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepo(t)
	id := createMessage(t, r)

	ok, err := r.Requeue(ctx, id)
	if err != nil || ok {
		t.Fatalf("pending message must not be requeued: ok=%v err=%v", ok, err)
	}

	if err := r.MarkFailed(ctx, id, "x"); err != nil {
		t.Fatal(err)
	}
	ok, err = r.Requeue(ctx, id)
	if err != nil || !ok {
		t.Fatalf("error message should be requeued: ok=%v err=%v", ok, err)
	}
}

func TestListByStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepo(t)

	for range 3 {
		id := createMessage(t, r)
		if err := r.MarkSent(ctx, id, "", time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	createMessage(t, r)

	sent, err := r.ListByStatus(ctx, model.StatusSuccess, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("expected 2, got %d", len(sent))
	}

	sent, err = r.ListByStatus(ctx, model.StatusSuccess, 10, 2)
	if err != nil || len(sent) != 1 {
		t.Fatalf("expected 1 on second page, got %d (%v)", len(sent), err)
	}
}
