package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is object metadata returned by blob listings.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves and lists objects in cold storage.
type BlobReader interface {
	// Get returns the object body; the caller closes it. Missing objects
	// return ErrNotFound.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}
