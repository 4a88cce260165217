// Package contentstore is the server-side content store behind the
// development harness's content API: one row per (application, element)
// with the serialized envelope as the payload.
package contentstore

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/inplacehq/inplace/internal/model"
)

var storeLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	storeLogger = l
}

// ErrNotFound reports a missing (application, element) row.
var ErrNotFound = errors.New("content not found")

// Store persists content entries per application.
type Store interface {
	List(ctx context.Context, appID model.AppID) ([]model.ContentEntry, error)
	Get(ctx context.Context, appID model.AppID, key model.Key) (*model.ContentEntry, error)
	Put(ctx context.Context, appID model.AppID, key model.Key, content string) error
	Delete(ctx context.Context, appID model.AppID, key model.Key) error
	Close() error
}
