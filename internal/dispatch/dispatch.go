// Package dispatch moves outbound messages from the message collection
// through a queue to the WhatsApp gateway.
//
// Enqueue writes the record and then publishes a job. The two writes are
// not atomic: when the publish fails the record stays pending with no job
// and the caller gets ErrPublish with the record. Neither Requeue nor the
// retry sweep touches pending records, so such a record stays stranded and
// only shows up when listing pending messages. The same holds for a record
// the retry sweep claimed but could not republish.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrPublish          = errors.New("dispatch: publish failed")
	ErrContentTooLong   = errors.New("dispatch: content too long")
	ErrAlreadyDelivered = errors.New("dispatch: message already delivered")
	ErrNotRetryable     = errors.New("dispatch: message is not in error")
	ErrMalformedJob     = errors.New("dispatch: malformed job")
)

// Publisher hands a job body to the queue. Implementations must not return
// before the broker has accepted the body.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Handler processes one delivery. A nil return acks it; an error asks the
// broker to redeliver.
type Handler func(ctx context.Context, body []byte) error

// Consumer delivers queued bodies to h until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}

// Sender is the gateway surface the worker needs.
type Sender interface {
	SendText(ctx context.Context, number, text string) (remoteID string, err error)
}

// Job is the queued unit of work. Key is a deterministic hash of the
// message content, carried for log correlation.
type Job struct {
	MessageID  string    `json:"message_id"`
	Key        string    `json:"key,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func (j Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

func ParseJob(body []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %w", ErrMalformedJob, err)
	}
	if j.MessageID == "" {
		return Job{}, fmt.Errorf("%w: missing message_id", ErrMalformedJob)
	}
	return j, nil
}
