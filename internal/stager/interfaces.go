package stager

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrRunNotFound is returned by RunLedger implementations for unknown IDs.
var ErrRunNotFound = errors.New("run not found")

// RunLedger persists run metadata. SaveRun is an upsert keyed by Run.ID.
type RunLedger interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes promotion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
