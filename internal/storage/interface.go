package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo is one entry of a listing.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStorage defines the interface for object storage operations
type ObjectStorage interface {
	// Upload uploads an object to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Move renames an object within the bucket (copy then delete)
	Move(ctx context.Context, srcKey, dstKey string) error

	// List returns objects whose key starts with prefix
	List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)

	// GetURL returns the public URL for accessing an object
	GetURL(key string) string

	// PresignURL returns a time-limited GET URL
	PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Delete deletes an object from storage
	Delete(ctx context.Context, key string) error
}

// BucketEnsurer is implemented by backends that can create their bucket.
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}
