// Package objstore wraps the remote blob store used for backups and
// published assets. All credentials stay inside this process; the sandboxed
// workload reaches the store only through the proxy multiplexer.
package objstore

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Object describes one stored blob.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the authenticated object store surface the engine builds on.
type Store interface {
	// Put streams r to key. size may be -1 for unknown length, in which
	// case the backend uploads in parts.
	Put(ctx context.Context, key string, r io.Reader, size int64) (Object, error)
	// Get returns the full object body.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// GetRange returns length bytes starting at offset.
	GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	// Stat returns object metadata. Missing keys yield types.ErrNotFound.
	Stat(ctx context.Context, key string) (Object, error)
	// List returns objects under prefix in ascending lexicographic key order
	// (the only order the store supports).
	List(ctx context.Context, prefix string) ([]Object, error)
	// Delete removes a key. Used by backup pruning.
	Delete(ctx context.Context, key string) error
}

// Forwarder terminates one proxied HTTP exchange against a backing bucket
// using the coordinator's credentials.
type Forwarder interface {
	Forward(req *http.Request, bucket string) (*http.Response, error)
}
