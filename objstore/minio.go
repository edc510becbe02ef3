package objstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/signer"

	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/types"
)

// MinioStore implements Store and Forwarder against any S3-compatible
// endpoint via minio-go.
type MinioStore struct {
	client *minio.Client
	conf   config.StoreConfig
	bucket string
	// hc is the plain HTTP client used for proxied (signed) forwards.
	hc *http.Client
}

// compile-time interface checks.
var (
	_ Store     = (*MinioStore)(nil)
	_ Forwarder = (*MinioStore)(nil)
)

// New connects to the configured endpoint. The returned store reads and
// writes the private bucket; Forward can target either bucket.
func New(conf config.StoreConfig) (*MinioStore, error) {
	client, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.Secure,
		Region: conf.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}
	return &MinioStore{
		client: client,
		conf:   conf,
		bucket: conf.PrivateBucket,
		hc:     &http.Client{},
	}, nil
}

// Put streams r to key in the private bucket. minio-go switches to a
// multipart upload on its own when size is -1 or large.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64) (Object, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return Object{}, fmt.Errorf("put %s: %w", key, err)
	}
	return Object{Key: key, Size: info.Size}, nil
}

// Get returns the full object body.
func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, mapErr(err))
	}
	return obj, nil
}

// GetRange returns length bytes of key starting at offset.
func (s *MinioStore) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, fmt.Errorf("range %s [%d,%d): %w", key, offset, offset+length, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, fmt.Errorf("get range %s: %w", key, mapErr(err))
	}
	return obj, nil
}

// Stat returns object metadata without the body.
func (s *MinioStore) Stat(ctx context.Context, key string) (Object, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return Object{}, fmt.Errorf("stat %s: %w", key, mapErr(err))
	}
	return Object{Key: info.Key, Size: info.Size, LastModified: info.LastModified}, nil
}

// List returns all objects under prefix sorted ascending by key.
func (s *MinioStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, info.Err)
		}
		out = append(out, Object{Key: info.Key, Size: info.Size, LastModified: info.LastModified})
	}
	// The store already lists ascending; keep the guarantee explicit for
	// callers that depend on newest-first reverse-epoch keys.
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes key from the private bucket.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, mapErr(err))
	}
	return nil
}

// Forward re-targets req at the given bucket on the configured endpoint,
// signs it with the coordinator's credentials, and executes it. The body,
// transfer encoding, and conditional headers pass through untouched so
// multipart uploads and caching work end to end.
func (s *MinioStore) Forward(req *http.Request, bucket string) (*http.Response, error) {
	scheme := "http"
	if s.conf.Secure {
		scheme = "https"
	}
	target := &url.URL{
		Scheme:   scheme,
		Host:     s.conf.Endpoint,
		Path:     "/" + bucket + ensureLeadingSlash(req.URL.Path),
		RawQuery: req.URL.RawQuery,
	}

	out, err := http.NewRequestWithContext(req.Context(), req.Method, target.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("build forward request: %w", err)
	}
	out.Header = req.Header.Clone()
	out.Host = s.conf.Endpoint
	out.ContentLength = req.ContentLength
	if req.ContentLength < 0 {
		out.TransferEncoding = []string{"chunked"}
	}

	// The body is streamed, not buffered, so it cannot be hashed up front.
	out.Header.Set("X-Amz-Content-Sha256", "UNSIGNED-PAYLOAD")
	signed := signer.SignV4(*out, s.conf.AccessKey, s.conf.SecretKey, "", s.conf.Region)

	resp, err := s.hc.Do(signed)
	if err != nil {
		return nil, fmt.Errorf("forward %s %s: %w", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

func ensureLeadingSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

// mapErr converts minio error responses into the shared taxonomy.
func mapErr(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: %s", types.ErrNotFound, resp.Code)
	}
	return err
}
