// Package broadcast propagates storage changes to other views of the same store and
// polls the remote mirror for changes made elsewhere.
package broadcast

import (
	"context"
	"encoding/json"
	"time"
)

// Topic names the shape carried in Message.NewValue.
type Topic string

const (
	// TopicDraft carries a whole models.FormRecord.
	TopicDraft Topic = "draft.changed"
	// TopicSubmission carries a whole models.SubmissionRecord.
	TopicSubmission Topic = "submission.changed"
)

// Message announces that StorageKey now holds NewValue. Receivers replace their copy
// wholesale; there is no diff.
type Message struct {
	Topic      Topic           `json:"topic"`
	StorageKey string          `json:"storageKey"`
	NewValue   json.RawMessage `json:"newValue"`
	OriginID   string          `json:"originId"`
	SentAt     time.Time       `json:"sentAt"`
}

// Decode unmarshals NewValue into v.
func (m Message) Decode(v interface{}) error {
	return json.Unmarshal(m.NewValue, v)
}

type Handler func(Message)

// Broadcaster is one execution context's connection to the shared change channel.
// Publishers never receive their own messages.
type Broadcaster interface {
	OriginID() string
	Publish(ctx context.Context, topic Topic, key string, value []byte) error
	Subscribe(ctx context.Context, handler Handler) (unsubscribe func(), err error)
}
