package backup

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/warden/objstore"
	"github.com/projecteru2/warden/types"
)

// chunk is one ranged slice of a multipart download.
type chunk struct {
	index  int
	offset int64
	length int64
	path   string
}

// downloadChunked fetches obj with parallel ranged GETs. Each chunk is
// retried independently with backoff and persisted to its own part file;
// only after every chunk succeeds are the parts concatenated into dst in
// order. One unrecoverable chunk fails the whole download — truncation is
// never silent.
func (e *Engine) downloadChunked(ctx context.Context, obj objstore.Object, dst *os.File) error {
	logger := log.WithFunc("backup.downloadChunked")

	chunks := splitChunks(obj.Size, e.chunkSize)
	logger.Infof(ctx, "downloading %s in %d chunks of up to %d bytes", obj.Key, len(chunks), e.chunkSize)

	defer func() {
		for _, c := range chunks {
			if c.path != "" {
				_ = os.Remove(c.path)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range chunks {
		c := &chunks[i]
		g.Go(func() error {
			part, err := os.CreateTemp(e.tempDir, fmt.Sprintf("part-%05d-*", c.index))
			if err != nil {
				return fmt.Errorf("create part %d: %w", c.index, err)
			}
			c.path = part.Name()
			part.Close() //nolint:errcheck

			return e.chunkRetry.Do(gctx, func() error {
				return e.fetchChunk(gctx, obj.Key, c)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("download %s: %w", obj.Key, err)
	}

	var total int64
	for _, c := range chunks {
		part, err := os.Open(c.path) //nolint:gosec // part file under our temp dir
		if err != nil {
			return fmt.Errorf("open part %d: %w", c.index, err)
		}
		n, err := copyAll(dst, part)
		part.Close() //nolint:errcheck
		if err != nil {
			return fmt.Errorf("assemble part %d: %w", c.index, err)
		}
		total += n
	}
	if total != obj.Size {
		return fmt.Errorf("%w: %s: reconstructed %d bytes, want %d", types.ErrCorrupt, obj.Key, total, obj.Size)
	}
	return dst.Sync()
}

// fetchChunk downloads one ranged chunk into its part file. The part file is
// rewritten from the start on every attempt so a failed try leaves no
// partial tail.
func (e *Engine) fetchChunk(ctx context.Context, key string, c *chunk) error {
	part, err := os.OpenFile(c.path, os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec
	if err != nil {
		return fmt.Errorf("open part %d: %w", c.index, err)
	}
	defer part.Close() //nolint:errcheck

	body, err := e.store.GetRange(ctx, key, c.offset, c.length)
	if err != nil {
		return err
	}
	defer body.Close() //nolint:errcheck

	n, err := copyAll(part, body)
	if err != nil {
		return err
	}
	if n != c.length {
		return fmt.Errorf("chunk %d: got %d bytes, want %d", c.index, n, c.length)
	}
	return part.Sync()
}

// splitChunks covers [0, size) with fixed-size ranges.
func splitChunks(size, chunkSize int64) []chunk {
	var chunks []chunk
	for off := int64(0); off < size; off += chunkSize {
		length := chunkSize
		if off+length > size {
			length = size - off
		}
		chunks = append(chunks, chunk{index: len(chunks), offset: off, length: length})
	}
	return chunks
}

func copyAll(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}
