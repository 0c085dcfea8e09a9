package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader checks and retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves settled history to cold storage.
type Archiver interface {
	ArchivePositions(ctx context.Context, before time.Time) (int64, error)
	ArchiveReceipts(ctx context.Context, before time.Time) (int64, error)
}
