// Package workload launches and supervises the game-server process. One
// manager owns at most one process; the PID file under RunDir survives
// coordinator restarts so an orphaned workload can be rediscovered.
package workload

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/types"
	"github.com/projecteru2/warden/utils"
)

const (
	bootTimeout  = 2 * time.Minute
	pollInterval = 500 * time.Millisecond
)

// Manager boots, watches, and kills the workload process.
type Manager struct {
	conf *config.Config

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewManager creates a Manager for the configured workload.
func NewManager(conf *config.Config) *Manager {
	return &Manager{conf: conf}
}

// Boot starts the workload process with extraEnv appended to its
// environment and waits for the console port to accept connections.
// Booting while a process is already alive is a conflict.
func (m *Manager) Boot(ctx context.Context, extraEnv []string) (int, error) {
	logger := log.WithFunc("workload.Boot")

	m.mu.Lock()
	defer m.mu.Unlock()

	if pid := m.pidLocked(); pid > 0 {
		return 0, fmt.Errorf("workload already running as pid %d: %w", pid, types.ErrConflict)
	}
	argv := m.conf.Workload.Command
	if len(argv) == 0 {
		return 0, fmt.Errorf("workload command not configured")
	}

	logFile, err := os.OpenFile(m.conf.WorkloadLogFile(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec
	if err != nil {
		return 0, fmt.Errorf("open workload log: %w", err)
	}
	defer logFile.Close() //nolint:errcheck

	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // argv from operator config
	cmd.Dir = m.conf.DataDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", m.conf.Workload.VersionEnv, m.conf.Workload.Version))
	cmd.Env = append(cmd.Env, extraEnv...)
	// Own process group so signals never leak back to the coordinator.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start workload: %w", err)
	}
	pid := cmd.Process.Pid
	m.cmd = cmd
	go cmd.Wait() //nolint:errcheck // reap; exit observed via PID liveness

	if err := utils.WritePIDFile(m.conf.WorkloadPIDFile(), pid); err != nil {
		logger.Warnf(ctx, "write PID file: %v", err)
	}
	logger.Infof(ctx, "workload started, pid %d, version %q", pid, m.conf.Workload.Version)

	if err := m.waitConsole(ctx, pid); err != nil {
		_ = utils.KillProcess(pid)
		m.clearLocked(pid)
		return 0, fmt.Errorf("workload console never came up: %w", err)
	}
	return pid, nil
}

// waitConsole polls the console port until it accepts a TCP connection.
func (m *Manager) waitConsole(ctx context.Context, pid int) error {
	return utils.WaitFor(ctx, bootTimeout, pollInterval, func() (bool, error) {
		if !utils.IsProcessAlive(pid) {
			return false, fmt.Errorf("workload pid %d exited during boot", pid)
		}
		conn, err := net.DialTimeout("tcp", m.conf.Console.Addr, pollInterval)
		if err != nil {
			return false, nil //nolint:nilerr // not up yet, keep polling
		}
		conn.Close() //nolint:errcheck,gosec
		return true, nil
	})
}

// PID returns the live workload PID, or 0 when none is running.
func (m *Manager) PID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pidLocked()
}

// Alive reports whether the workload process is currently running.
func (m *Manager) Alive() bool { return m.PID() > 0 }

// pidLocked resolves the PID file and checks liveness, clearing stale state.
// The PID must still belong to the configured binary: after a crash the
// kernel may hand the number to an unrelated process.
func (m *Manager) pidLocked() int {
	pid, err := utils.ReadPIDFile(m.conf.WorkloadPIDFile())
	if err != nil {
		return 0
	}
	alive := utils.IsProcessAlive(pid)
	if alive && m.commName() != "" {
		alive = utils.VerifyProcess(pid, m.commName())
	}
	if !alive {
		m.clearLocked(pid)
		return 0
	}
	return pid
}

// commName is the configured binary's name as /proc/<pid>/comm reports it,
// truncated to the kernel's 15-byte limit.
func (m *Manager) commName() string {
	if len(m.conf.Workload.Command) == 0 {
		return ""
	}
	name := filepath.Base(m.conf.Workload.Command[0])
	if len(name) > 15 {
		name = name[:15]
	}
	return name
}

// Terminate stops the workload with SIGTERM, escalating to SIGKILL after
// the configured grace period.
func (m *Manager) Terminate(ctx context.Context) error {
	logger := log.WithFunc("workload.Terminate")
	m.mu.Lock()
	defer m.mu.Unlock()

	pid := m.pidLocked()
	if pid == 0 {
		return nil
	}
	grace := time.Duration(m.conf.StopTimeoutSeconds) * time.Second
	logger.Infof(ctx, "terminating workload pid %d, grace %s", pid, grace)
	if err := utils.TerminateProcess(pid, grace); err != nil {
		return fmt.Errorf("terminate workload pid %d: %w", pid, err)
	}
	m.clearLocked(pid)
	return nil
}

// Kill stops the workload immediately with SIGKILL. Used when the world
// state is already safe on the object store.
func (m *Manager) Kill(ctx context.Context) error {
	logger := log.WithFunc("workload.Kill")
	m.mu.Lock()
	defer m.mu.Unlock()

	pid := m.pidLocked()
	if pid == 0 {
		return nil
	}
	logger.Infof(ctx, "killing workload pid %d", pid)
	if err := utils.KillProcess(pid); err != nil {
		return fmt.Errorf("kill workload pid %d: %w", pid, err)
	}
	m.clearLocked(pid)
	return nil
}

// clearLocked drops the PID file and the exec handle.
func (m *Manager) clearLocked(pid int) {
	if err := os.Remove(m.conf.WorkloadPIDFile()); err != nil && !os.IsNotExist(err) {
		log.WithFunc("workload.clear").Warnf(context.TODO(), "remove PID file: %v", err)
	}
	if m.cmd != nil && m.cmd.Process != nil && m.cmd.Process.Pid == pid {
		m.cmd = nil
	}
}

// LogPath returns the workload log file path.
func (m *Manager) LogPath() string {
	return filepath.Clean(m.conf.WorkloadLogFile())
}
