// Package localstore is the device-local durable key/value slot for drafts and submissions.
package localstore

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("LOCAL_KEY_NOT_FOUND")
	ErrQuotaExceeded = errors.New("LOCAL_QUOTA_EXCEEDED")
)

// Store holds JSON documents by key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys enumerates keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
