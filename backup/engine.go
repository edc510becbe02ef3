// Package backup archives the workload data directory into the object store
// and restores the newest snapshot before the workload resumes on a fresh
// sandbox.
package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/metrics"
	"github.com/projecteru2/warden/objstore"
	"github.com/projecteru2/warden/retry"
	"github.com/projecteru2/warden/types"
	"github.com/projecteru2/warden/utils"
)

// Engine performs backup and restore against one object store prefix.
type Engine struct {
	store   objstore.Store
	tempDir string

	prefix      string
	excludes    []string
	threshold   int64
	chunkSize   int64
	concurrency int
	keep        int

	// chunkRetry is applied independently to every ranged chunk download.
	chunkRetry retry.Policy

	jobs *Jobs
}

// NewEngine builds an Engine from config.
func NewEngine(conf *config.Config, store objstore.Store) *Engine {
	return &Engine{
		store:       store,
		tempDir:     conf.TempDir(),
		prefix:      conf.Backup.Prefix,
		excludes:    conf.Backup.ExcludeDirs,
		threshold:   conf.Backup.MultipartThreshold,
		chunkSize:   conf.Backup.ChunkSize,
		concurrency: conf.Backup.Concurrency,
		keep:        conf.Backup.Keep,
		chunkRetry: retry.Policy{
			MaxAttempts: 5,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    10 * time.Second,
			Jitter:      0.2,
		},
		jobs: NewJobs(),
	}
}

// Jobs exposes the background job table for polling.
func (e *Engine) Jobs() *Jobs { return e.jobs }

// Backup archives directory and uploads it under a fresh reverse-epoch key.
// The archive is staged to a temp file first: a non-zero archiver exit
// surfaces types.ErrCorrupt and nothing is uploaded. Once the upload starts
// it runs to completion or failure — no mid-flight cancellation.
func (e *Engine) Backup(ctx context.Context, directory string) (types.BackupObject, error) {
	logger := log.WithFunc("backup.Backup")
	started := time.Now()

	dirName := filepath.Base(filepath.Clean(directory))
	key := BuildKey(e.prefix, dirName, started)

	tmp, err := os.CreateTemp(e.tempDir, "backup-*.tar.gz")
	if err != nil {
		return types.BackupObject{}, fmt.Errorf("create staging file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()              //nolint:errcheck
	defer os.Remove(tmpPath) //nolint:errcheck

	if err := e.archive(ctx, directory, tmpPath); err != nil {
		return types.BackupObject{}, err
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return types.BackupObject{}, fmt.Errorf("stat archive: %w", err)
	}

	f, err := os.Open(tmpPath) //nolint:gosec // staged under our temp dir
	if err != nil {
		return types.BackupObject{}, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close() //nolint:errcheck

	// Detach from ctx: an upload in flight must not be cancelled, or a
	// half-written object could sit behind a seemingly-complete job id.
	obj, err := e.store.Put(context.WithoutCancel(ctx), key, f, info.Size())
	if err != nil {
		return types.BackupObject{}, fmt.Errorf("upload %s: %w", key, err)
	}

	metrics.BackupBytes.Add(float64(obj.Size))
	metrics.BackupDuration.Observe(time.Since(started).Seconds())
	logger.Infof(ctx, "backup %s uploaded: %s (%d bytes)", directory, key, obj.Size)
	return types.BackupObject{Key: key, SizeBytes: obj.Size, CreatedAt: started}, nil
}

// archive runs tar over directory into dst, skipping transient subfolders.
func (e *Engine) archive(ctx context.Context, directory, dst string) error {
	args := []string{"-czf", dst, "-C", directory}
	for _, ex := range e.excludes {
		args = append(args, "--exclude=./"+ex)
	}
	args = append(args, ".")

	cmd := exec.CommandContext(ctx, "tar", args...) //nolint:gosec // args are controlled internal paths
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: tar: %s: %v", types.ErrCorrupt, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Restore populates directory from the newest backup. It is idempotent: when
// directory already contains data it returns nil without any store calls.
// With no backup under the prefix it returns types.ErrNotFound — callers
// treat that as a fresh start.
func (e *Engine) Restore(ctx context.Context, directory string) error {
	logger := log.WithFunc("backup.Restore")
	started := time.Now()

	skip := make(map[string]struct{}, len(e.excludes))
	for _, ex := range e.excludes {
		skip[ex] = struct{}{}
	}
	populated, err := utils.DirHasEntries(directory, skip)
	if err != nil {
		return err
	}
	if populated {
		logger.Infof(ctx, "%s already populated, skipping restore", directory)
		return nil
	}

	dirName := filepath.Base(filepath.Clean(directory))
	obj, err := e.latest(ctx, dirName)
	if err != nil {
		return err
	}
	logger.Infof(ctx, "restoring %s from %s (%d bytes)", directory, obj.Key, obj.Size)

	tmp, err := os.CreateTemp(e.tempDir, "restore-*.tar.gz")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if obj.Size >= e.threshold {
		err = e.downloadChunked(ctx, obj, tmp)
	} else {
		err = e.downloadWhole(ctx, obj, tmp)
	}
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close staging file: %w", cerr)
	}
	if err != nil {
		return err
	}

	if err := utils.EnsureDirs(directory); err != nil {
		return err
	}
	if err := extract(ctx, tmpPath, directory); err != nil {
		return err
	}

	metrics.RestoreBytes.Add(float64(obj.Size))
	metrics.RestoreDuration.Observe(time.Since(started).Seconds())
	logger.Infof(ctx, "restore complete: %s -> %s", obj.Key, directory)
	return nil
}

// latest returns the newest backup of dirName. Keys embed a reverse epoch,
// so the lexicographically-first match is the newest.
func (e *Engine) latest(ctx context.Context, dirName string) (objstore.Object, error) {
	objs, err := e.store.List(ctx, e.prefix)
	if err != nil {
		return objstore.Object{}, err
	}
	for _, obj := range objs {
		if MatchesDir(obj.Key, dirName) {
			return obj, nil
		}
	}
	return objstore.Object{}, fmt.Errorf("%w: no backup under %s for %s", types.ErrNotFound, e.prefix, dirName)
}

// downloadWhole streams the object into dst in one GET.
func (e *Engine) downloadWhole(ctx context.Context, obj objstore.Object, dst *os.File) error {
	var n int64
	err := e.chunkRetry.Do(ctx, func() error {
		if _, err := dst.Seek(0, 0); err != nil {
			return retry.Permanent(err)
		}
		if err := dst.Truncate(0); err != nil {
			return retry.Permanent(err)
		}
		body, err := e.store.Get(ctx, obj.Key)
		if err != nil {
			return err
		}
		defer body.Close() //nolint:errcheck
		n, err = copyAll(dst, body)
		return err
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", obj.Key, err)
	}
	if n != obj.Size {
		return fmt.Errorf("%w: %s: got %d bytes, want %d", types.ErrCorrupt, obj.Key, n, obj.Size)
	}
	return dst.Sync()
}

// extract unpacks the archive into directory. Ownership and permissions are
// normalized: the archive may carry UID/GID or mtimes from a differently
// configured sandbox.
func extract(ctx context.Context, archivePath, directory string) error {
	cmd := exec.CommandContext(ctx, "tar", //nolint:gosec // args are controlled internal paths
		"-xzf", archivePath,
		"-C", directory,
		"--no-same-owner", "--no-same-permissions", "--touch")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: untar: %s: %v", types.ErrCorrupt, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Prune deletes backups of directory beyond the configured retention count.
// The newest e.keep backups survive. No-op when retention is disabled.
func (e *Engine) Prune(ctx context.Context, directory string) error {
	if e.keep <= 0 {
		return nil
	}
	logger := log.WithFunc("backup.Prune")

	dirName := filepath.Base(filepath.Clean(directory))
	objs, err := e.store.List(ctx, e.prefix)
	if err != nil {
		return err
	}
	seen := 0
	for _, obj := range objs {
		if !MatchesDir(obj.Key, dirName) {
			continue
		}
		seen++
		if seen <= e.keep {
			continue
		}
		if err := e.store.Delete(ctx, obj.Key); err != nil {
			return fmt.Errorf("prune %s: %w", obj.Key, err)
		}
		logger.Infof(ctx, "pruned backup: %s", obj.Key)
	}
	return nil
}
