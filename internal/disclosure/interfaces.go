package disclosure

import (
	"context"
	"io"
	"time"
)

// BlobStore persists documents and manifests to durable storage.
type BlobStore interface {
	// PutObject streams r to key, replacing any existing object.
	PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error)
	// CreateObject streams r to key only if nothing is stored there yet.
	// It returns ErrObjectExists when the key is already taken.
	CreateObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error)
}

// Clock abstracts time for deterministic testing.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher emits run completion notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunRecorder keeps a ledger of terminal run results.
type RunRecorder interface {
	RecordRun(ctx context.Context, result RunResult) error
}
