package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/projecteru2/warden/command"
	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/types"
)

type fakeEngine struct {
	mu         sync.Mutex
	restores   int
	backups    int
	prunes     int
	restoreErr error
	backupErr  error
	lastKey    string
}

func (f *fakeEngine) Restore(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restores++
	return f.restoreErr
}

func (f *fakeEngine) Backup(context.Context, string) (types.BackupObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backups++
	if f.backupErr != nil {
		return types.BackupObject{}, f.backupErr
	}
	f.lastKey = fmt.Sprintf("backups/%011d2026082412world.tar.gz", 99999999999-time.Now().Unix())
	return types.BackupObject{Key: f.lastKey, SizeBytes: 1 << 20, CreatedAt: time.Now()}, nil
}

func (f *fakeEngine) Prune(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunes++
	return nil
}

type fakeChannel struct {
	mu        sync.Mutex
	started   bool
	executed  []string
	startErr  error
	available bool
}

func (f *fakeChannel) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	f.available = true
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = false
	return nil
}

func (f *fakeChannel) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeChannel) Execute(_ context.Context, cmd string) (command.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available {
		return command.Result{}, types.ErrUnavailable
	}
	f.executed = append(f.executed, cmd)
	return command.Result{Success: true, Output: "ok"}, nil
}

type fakeProc struct {
	mu         sync.Mutex
	pid        int
	boots      int
	terminates int
	kills      int
	bootErr    error
}

func (f *fakeProc) Boot(context.Context, []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bootErr != nil {
		return 0, f.bootErr
	}
	f.boots++
	f.pid = 4242
	return f.pid, nil
}

func (f *fakeProc) PID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pid
}

func (f *fakeProc) Alive() bool { return f.PID() > 0 }

func (f *fakeProc) Terminate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminates++
	f.pid = 0
	return nil
}

func (f *fakeProc) Kill(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills++
	f.pid = 0
	return nil
}

func (f *fakeProc) die() {
	f.mu.Lock()
	f.pid = 0
	f.mu.Unlock()
}

type fakePlugins struct{ env []string }

func (f *fakePlugins) ReconcileOnBoot(context.Context) ([]string, error) { return f.env, nil }

type fixture struct {
	coord   *Coordinator
	engine  *fakeEngine
	channel *fakeChannel
	proc    *fakeProc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()
	conf.DataDir = t.TempDir()
	conf.Identity = "world"
	conf.Workload.Version = "1.21.4"
	conf.IdleStopMinutes = 0 // monitor exercised separately
	require.NoError(t, conf.EnsureDirs())

	f := &fixture{
		engine:  &fakeEngine{},
		channel: &fakeChannel{},
		proc:    &fakeProc{},
	}
	f.coord = New(conf, f.engine, f.channel, f.proc, &fakePlugins{})
	return f
}

func TestStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.coord.Start(ctx))
	require.Equal(t, types.StateRunning, f.coord.State())

	// A second start changes nothing.
	require.NoError(t, f.coord.Start(ctx))
	require.Equal(t, 1, f.proc.boots)
	require.Equal(t, 1, f.engine.restores)

	// Exactly one open session.
	cur, err := f.coord.CurrentSession(ctx)
	require.NoError(t, err)
	require.False(t, cur.Closed())
}

func TestFreshStartTreatsMissingBackupAsEmptyWorld(t *testing.T) {
	f := newFixture(t)
	f.engine.restoreErr = fmt.Errorf("listing: %w", types.ErrNotFound)

	require.NoError(t, f.coord.Start(context.Background()))
	require.Equal(t, types.StateRunning, f.coord.State())
}

func TestStartFailsOnRestoreError(t *testing.T) {
	f := newFixture(t)
	f.engine.restoreErr = errors.New("store unreachable")

	err := f.coord.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, types.StateStopped, f.coord.State())
	require.Zero(t, f.proc.boots)
}

func TestStopBacksUpThenKills(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.coord.Start(ctx))

	require.NoError(t, f.coord.Stop(ctx))
	require.Equal(t, types.StateStopped, f.coord.State())

	// Backup succeeded: hard kill, no graceful terminate, retention ran.
	require.Equal(t, 1, f.engine.backups)
	require.Equal(t, 1, f.proc.kills)
	require.Zero(t, f.proc.terminates)
	require.Equal(t, 1, f.engine.prunes)

	// World writes were quiesced over the console first.
	require.Equal(t, []string{"save-off", "save-all"}, f.channel.executed)

	last, err := f.coord.LastSession(ctx)
	require.NoError(t, err)
	require.True(t, last.Closed())
	require.GreaterOrEqual(t, last.DurationMs, int64(0))
}

func TestStopTerminatesGracefullyWhenBackupFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.coord.Start(ctx))

	f.engine.backupErr = errors.New("upload refused")
	err := f.coord.Stop(ctx)
	require.Error(t, err)

	// The workload still came down, just via SIGTERM.
	require.Equal(t, types.StateStopped, f.coord.State())
	require.Equal(t, 1, f.proc.terminates)
	require.Zero(t, f.proc.kills)
	require.Zero(t, f.engine.prunes)
}

func TestStopWhileStoppedIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.coord.Stop(context.Background()))
	require.Zero(t, f.engine.backups)
}

func TestStatusReconcilesDeadProcess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.coord.Start(ctx))

	f.proc.die()

	status := f.coord.GetStatus(ctx)
	require.Equal(t, types.StateStopped, status.State)

	// The orphaned session was closed during reconciliation.
	_, err := f.coord.CurrentSession(ctx)
	require.ErrorIs(t, err, types.ErrNotFound)
	last, err := f.coord.LastSession(ctx)
	require.NoError(t, err)
	require.True(t, last.Closed())
}

func TestExecuteRequiresRunning(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Execute(context.Background(), "list")
	require.ErrorIs(t, err, types.ErrUnavailable)
}

func TestUsageStatsAggregateClosedSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		require.NoError(t, f.coord.Start(ctx))
		require.NoError(t, f.coord.Stop(ctx))
	}

	stats, err := f.coord.UsageStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Sessions)
	require.GreaterOrEqual(t, stats.LongestMs, stats.AverageMs)
	require.Positive(t, stats.LastStartedUnix)
}

func TestRegistryReturnsSameInstancePerIdentity(t *testing.T) {
	built := 0
	reg := NewRegistry(func(identity string) (*Coordinator, error) {
		built++
		conf := config.DefaultConfig()
		conf.RootDir = t.TempDir()
		conf.Identity = identity
		if err := conf.EnsureDirs(); err != nil {
			return nil, err
		}
		return New(conf, &fakeEngine{}, &fakeChannel{}, &fakeProc{}, &fakePlugins{}), nil
	})

	a, err := reg.Get("alpha")
	require.NoError(t, err)
	b, err := reg.Get("alpha")
	require.NoError(t, err)
	require.Same(t, a, b)

	_, err = reg.Get("beta")
	require.NoError(t, err)
	require.Equal(t, 2, built)
}
