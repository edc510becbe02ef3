package backup

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/warden/types"
)

// Jobs is the pollable table of background backup/restore jobs. Each job's
// state is advanced only by the goroutine running it; readers poll by id.
type Jobs struct {
	table cmap.ConcurrentMap[string, types.Job]
}

// NewJobs creates an empty job table.
func NewJobs() *Jobs {
	return &Jobs{table: cmap.New[types.Job]()}
}

// result is what a job run reports back into its record.
type result struct {
	key  string
	size int64
}

// Start registers a pending job and launches run on its own goroutine.
// Returns the opaque job id for polling. Jobs are never cancelled mid-flight:
// run receives a fresh background context.
func (j *Jobs) Start(kind string, run func(ctx context.Context) (result, error)) string {
	now := time.Now()
	job := types.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		State:     types.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	j.table.Set(job.ID, job)

	go func() {
		ctx := context.Background()
		logger := log.WithFunc("backup.job")

		job.State = types.JobRunning
		job.UpdatedAt = time.Now()
		j.table.Set(job.ID, job)

		res, err := run(ctx)
		job.UpdatedAt = time.Now()
		if err != nil {
			job.State = types.JobFailed
			job.Error = err.Error()
			logger.Warnf(ctx, "%s job %s failed: %v", kind, job.ID, err)
		} else {
			job.State = types.JobSuccess
			job.Key = res.key
			job.SizeBytes = res.size
			logger.Infof(ctx, "%s job %s done: %s", kind, job.ID, res.key)
		}
		j.table.Set(job.ID, job)
	}()

	return job.ID
}

// Get returns the job record for id.
func (j *Jobs) Get(id string) (types.Job, bool) {
	return j.table.Get(id)
}

// List returns all known jobs, newest first.
func (j *Jobs) List() []types.Job {
	out := make([]types.Job, 0, j.table.Count())
	for _, job := range j.table.Items() {
		out = append(out, job)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

// BackupAsync runs Backup in the background; poll the returned job id.
func (e *Engine) BackupAsync(directory string) string {
	return e.jobs.Start("backup", func(ctx context.Context) (result, error) {
		obj, err := e.Backup(ctx, directory)
		if err != nil {
			return result{}, err
		}
		return result{key: obj.Key, size: obj.SizeBytes}, nil
	})
}

// RestoreAsync runs Restore in the background; poll the returned job id.
func (e *Engine) RestoreAsync(directory string) string {
	return e.jobs.Start("restore", func(ctx context.Context) (result, error) {
		return result{}, e.Restore(ctx, directory)
	})
}
