// Package coordinator owns the workload lifecycle for one identity. All
// start/stop transitions run through a single mutex, so concurrent
// requests observe an idempotent no-op or a conflict, never interleaving.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/warden/command"
	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/metrics"
	"github.com/projecteru2/warden/types"
)

// BackupEngine is what the coordinator needs from the backup engine.
type BackupEngine interface {
	Backup(ctx context.Context, directory string) (types.BackupObject, error)
	Restore(ctx context.Context, directory string) error
	Prune(ctx context.Context, directory string) error
}

// CommandChannel is the console channel to the running workload.
type CommandChannel interface {
	Start(ctx context.Context) error
	Close() error
	Available() bool
	Execute(ctx context.Context, cmd string) (command.Result, error)
}

// ProcessManager boots and kills the workload process.
type ProcessManager interface {
	Boot(ctx context.Context, extraEnv []string) (int, error)
	PID() int
	Alive() bool
	Terminate(ctx context.Context) error
	Kill(ctx context.Context) error
}

// PluginReconciler applies desired plugin state at boot.
type PluginReconciler interface {
	ReconcileOnBoot(ctx context.Context) ([]string, error)
}

// Coordinator serializes the lifecycle of one identity's workload.
type Coordinator struct {
	conf    *config.Config
	engine  BackupEngine
	channel CommandChannel
	proc    ProcessManager
	plugins PluginReconciler

	// opMu serializes Start and Stop end to end. stateMu guards the
	// snapshot fields so status reads never wait behind a backup.
	opMu    sync.Mutex
	stateMu sync.RWMutex
	state   types.LifecycleState

	sessions *sessionLog

	lastActivity time.Time
	idleCancel   context.CancelFunc
}

// New creates a Coordinator. A workload left running by a previous
// coordinator process is adopted as running rather than declared stopped.
func New(conf *config.Config, engine BackupEngine, channel CommandChannel, proc ProcessManager, plugins PluginReconciler) *Coordinator {
	c := &Coordinator{
		conf:     conf,
		engine:   engine,
		channel:  channel,
		proc:     proc,
		plugins:  plugins,
		state:    types.StateStopped,
		sessions: newSessionLog(conf),
	}
	if proc.Alive() {
		c.state = types.StateRunning
		c.lastActivity = time.Now()
	}
	return c
}

// Start brings the workload up: restore the world if the data directory is
// empty, apply plugin state, boot the process, open the console channel,
// and open a session. Starting while already starting or running is a
// no-op; starting during a stop is a conflict.
func (c *Coordinator) Start(ctx context.Context) error {
	logger := log.WithFunc("coordinator.Start")

	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch c.State() {
	case types.StateStarting, types.StateRunning:
		logger.Infof(ctx, "start requested while %s, nothing to do", c.State())
		return nil
	case types.StateStopping:
		return fmt.Errorf("start requested while stopping: %w", types.ErrConflict)
	case types.StateStopped:
	}
	c.setState(types.StateStarting)

	fail := func(err error) error {
		c.setState(types.StateStopped)
		return err
	}

	if err := c.engine.Restore(ctx, c.conf.DataDir); err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return fail(fmt.Errorf("restore world: %w", err))
		}
		logger.Infof(ctx, "no backup found, starting with a fresh world")
	}

	env, err := c.plugins.ReconcileOnBoot(ctx)
	if err != nil {
		return fail(fmt.Errorf("reconcile plugins: %w", err))
	}

	if _, err := c.proc.Boot(ctx, env); err != nil {
		return fail(fmt.Errorf("boot workload: %w", err))
	}

	if err := c.channel.Start(ctx); err != nil {
		logger.Warnf(ctx, "console unreachable after boot, rolling back: %v", err)
		_ = c.proc.Terminate(ctx)
		return fail(fmt.Errorf("open console channel: %w", err))
	}

	if err := c.sessions.open(ctx); err != nil {
		logger.Warnf(ctx, "open session record: %v", err)
	}

	c.setState(types.StateRunning)
	c.Touch()
	c.startIdleMonitor()
	logger.Infof(ctx, "workload %s running, pid %d", c.conf.Identity, c.proc.PID())
	return nil
}

// Stop takes the workload down: quiesce world writes over the console,
// back the world up, then kill hard on backup success or terminate
// gracefully on backup failure. The session closes and the state lands on
// stopped either way; a backup failure is returned after the workload is
// down. Stopping while stopped is a no-op; stopping mid-transition is a
// conflict.
func (c *Coordinator) Stop(ctx context.Context) error {
	logger := log.WithFunc("coordinator.Stop")

	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch c.State() {
	case types.StateStopped:
		logger.Infof(ctx, "stop requested while stopped, nothing to do")
		return nil
	case types.StateStarting, types.StateStopping:
		return fmt.Errorf("stop requested while %s: %w", c.State(), types.ErrConflict)
	case types.StateRunning:
	}
	c.setState(types.StateStopping)
	c.stopIdleMonitor()

	c.quiesce(ctx)
	if err := c.channel.Close(); err != nil {
		logger.Warnf(ctx, "close console channel: %v", err)
	}

	obj, backupErr := c.engine.Backup(ctx, c.conf.DataDir)
	if backupErr == nil {
		// The world is safely on the store: a clean process shutdown
		// would only rewrite the same bytes, so skip the grace period.
		logger.Infof(ctx, "backup %s uploaded, killing workload", obj.Key)
		if err := c.proc.Kill(ctx); err != nil {
			logger.Warnf(ctx, "kill workload: %v", err)
		}
		if err := c.engine.Prune(ctx, c.conf.DataDir); err != nil {
			logger.Warnf(ctx, "prune old backups: %v", err)
		}
	} else {
		// No backup: let the workload flush its own state on the way out.
		logger.Warnf(ctx, "backup failed, terminating gracefully: %v", backupErr)
		if err := c.proc.Terminate(ctx); err != nil {
			logger.Warnf(ctx, "terminate workload: %v", err)
		}
	}

	if err := c.sessions.closeCurrent(ctx, time.Now()); err != nil {
		logger.Warnf(ctx, "close session record: %v", err)
	}
	c.setState(types.StateStopped)

	if backupErr != nil {
		return fmt.Errorf("workload stopped, pre-stop backup failed: %w", backupErr)
	}
	return nil
}

// quiesce flushes and freezes world writes before the backup snapshot.
// Console failures are logged, not fatal: the stop proceeds regardless.
func (c *Coordinator) quiesce(ctx context.Context) {
	logger := log.WithFunc("coordinator.quiesce")
	if !c.channel.Available() {
		logger.Warnf(ctx, "console unavailable, skipping world flush")
		return
	}
	for _, cmd := range []string{"save-off", "save-all"} {
		if _, err := c.channel.Execute(ctx, cmd); err != nil {
			logger.Warnf(ctx, "console %q: %v", cmd, err)
		}
	}
}

// GetStatus returns a snapshot without side effects on the workload. A
// coordinator that believes the workload is running but finds the process
// gone reconciles to stopped and closes the stale session.
func (c *Coordinator) GetStatus(ctx context.Context) types.Status {
	c.reconcileStale(ctx)

	status := types.Status{
		State:   c.State(),
		Version: c.conf.Workload.Version,
	}
	if status.State == types.StateRunning {
		status.PID = c.proc.PID()
		if cur, err := c.sessions.current(ctx); err == nil {
			status.Session = cur
		}
	}
	return status
}

// State returns the current lifecycle state.
func (c *Coordinator) State() types.LifecycleState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Coordinator) setState(s types.LifecycleState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	metrics.StateTransitions.WithLabelValues(string(s)).Inc()
}

// reconcileStale detects a workload that died behind the coordinator's
// back and folds the bookkeeping back to stopped.
func (c *Coordinator) reconcileStale(ctx context.Context) {
	if c.State() != types.StateRunning || c.proc.Alive() {
		return
	}
	logger := log.WithFunc("coordinator.reconcileStale")
	logger.Warnf(ctx, "workload process gone while state was running, reconciling")

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.State() != types.StateRunning || c.proc.Alive() {
		return
	}
	c.stopIdleMonitor()
	_ = c.channel.Close()
	if err := c.sessions.closeCurrent(ctx, time.Now()); err != nil {
		logger.Warnf(ctx, "close stale session: %v", err)
	}
	c.setState(types.StateStopped)
}

// Execute forwards one console command to the running workload and counts
// as activity for the idle monitor.
func (c *Coordinator) Execute(ctx context.Context, cmd string) (command.Result, error) {
	if c.State() != types.StateRunning {
		return command.Result{}, fmt.Errorf("workload not running: %w", types.ErrUnavailable)
	}
	c.Touch()
	return c.channel.Execute(ctx, cmd)
}

// CurrentSession returns the open session, or ErrNotFound while stopped.
func (c *Coordinator) CurrentSession(ctx context.Context) (*types.WorkloadSession, error) {
	cur, err := c.sessions.current(ctx)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("no session in progress: %w", types.ErrNotFound)
	}
	return cur, nil
}

// LastSession returns the most recently closed session.
func (c *Coordinator) LastSession(ctx context.Context) (*types.WorkloadSession, error) {
	return c.sessions.lastClosed(ctx)
}

// UsageStats aggregates the session log.
func (c *Coordinator) UsageStats(ctx context.Context) (types.UsageStats, error) {
	return c.sessions.stats(ctx)
}
