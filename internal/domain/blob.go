package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to blob storage. Used to archive settlement
// records once a query reaches its terminal outcome.
type BlobWriter interface {
	// Put uploads data under path in a single request.
	Put(ctx context.Context, path string, data io.Reader, contentType string) error

	// PutMultipart uploads data using multipart upload with the given part
	// size, for payloads too large for a single request.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobReader retrieves archived objects from blob storage.
type BlobReader interface {
	// Get returns the object body at path. The caller closes the reader.
	// Returns ErrNotFound when no object exists at path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// List returns metadata for every object under prefix.
	List(ctx context.Context, prefix string) ([]BlobInfo, error)

	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)
}
