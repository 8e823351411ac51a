// Package provider is the storage surface behind artifact publishing. A
// provider only needs to store an object and say whether one exists;
// credentials come from each backend's own default chain.
package provider

import (
	"context"
	"io"
	"time"
)

// Provider stores published artifacts. Implementations must be safe for
// concurrent use; the publisher uploads several artifacts at once.
type Provider interface {
	// PutObject stores body under key, replacing any existing object. body
	// may be read more than once only if the caller rewinds it.
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts PutOptions) error

	// Head returns an error wrapping ErrNotFound when key does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	Close() error
}

// PutOptions are attributes recorded with an upload where the backend can
// keep them.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectMeta describes a stored artifact.
type ObjectMeta struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
	Metadata     map[string]string
}

// ProviderType names a backend in config and errors.
type ProviderType string

const (
	ProviderS3   ProviderType = "s3"
	ProviderFile ProviderType = "file"
)

func (p ProviderType) String() string {
	return string(p)
}
