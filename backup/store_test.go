package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/projecteru2/warden/objstore"
	"github.com/projecteru2/warden/retry"
	"github.com/projecteru2/warden/types"
)

// fakeStore is an in-memory objstore.Store recording every call.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   int
	// failChunk makes GetRange fail permanently for the given offset.
	failChunk int64
	failErr   error
}

var _ objstore.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, failChunk: -1}
}

func (f *fakeStore) touch() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeStore) Put(_ context.Context, key string, r io.Reader, _ int64) (objstore.Object, error) {
	f.touch()
	data, err := io.ReadAll(r)
	if err != nil {
		return objstore.Object{}, err
	}
	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()
	return objstore.Object{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f.touch()
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStore) GetRange(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	f.touch()
	f.mu.Lock()
	fail := f.failChunk == offset
	data, ok := f.objects[key]
	f.mu.Unlock()
	if fail {
		return nil, f.failErr
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}
	if offset+length > int64(len(data)) {
		return nil, fmt.Errorf("range out of bounds")
	}
	return io.NopCloser(bytes.NewReader(data[offset : offset+length])), nil
}

func (f *fakeStore) Stat(_ context.Context, key string) (objstore.Object, error) {
	f.touch()
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return objstore.Object{}, fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}
	return objstore.Object{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]objstore.Object, error) {
	f.touch()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []objstore.Object
	for key, data := range f.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, objstore.Object{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.touch()
	f.mu.Lock()
	delete(f.objects, key)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// newTestEngine builds an Engine with test-sized chunking against store.
func newTestEngine(store objstore.Store, tempDir string, chunkSize int64) *Engine {
	return &Engine{
		store:       store,
		tempDir:     tempDir,
		prefix:      "backups/",
		excludes:    []string{"logs", "cache"},
		threshold:   chunkSize,
		chunkSize:   chunkSize,
		concurrency: 5,
		keep:        2,
		chunkRetry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
		jobs: NewJobs(),
	}
}
