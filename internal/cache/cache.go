package cache

import (
	"context"
	"errors"
	"time"
)

var ErrMiss = errors.New("cache miss")

// Receipt is the gateway confirmation of a delivered message.
type Receipt struct {
	RemoteMessageID string    `json:"remoteMessageId"`
	SentAt          time.Time `json:"sentAt"`
}

type MessageCache interface {
	StoreSent(ctx context.Context, messageID, remoteMessageID string, sentAt time.Time) error
	LookupSent(ctx context.Context, messageID string) (Receipt, error)
}
