// Package objectstore abstracts the MinIO/S3 operations used by the log
// migration flows: paginated listing, copy, merge reads/writes and
// post-success deletes.
package objectstore

import (
	"context"
)

// Entry is one listed object. Err is set on the final entry when the
// underlying listing fails mid-stream.
type Entry struct {
	Key  string
	Size int64
	Err  error
}

// ObjectStore abstracts the minimal MinIO/S3 operations needed by the
// scanning and copy flows.
type ObjectStore interface {
	Ping(ctx context.Context) error
	EnsureBucket(ctx context.Context, bucket string) error
	BucketExists(ctx context.Context, bucket string) (bool, error)
	PutObject(ctx context.Context, bucket, key string, data []byte) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	// ListObjects streams (key, size) pairs under prefix. Ordering is
	// store-defined; consumers must not assume temporal order.
	ListObjects(ctx context.Context, bucket, prefix string) <-chan Entry
	CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
	RemoveObject(ctx context.Context, bucket, key string) error
}
