package config

import (
	"path/filepath"

	"github.com/projecteru2/warden/utils"
)

// EnsureDirs creates all static directories warden needs at startup.
func (c *Config) EnsureDirs() error {
	return utils.EnsureDirs(
		c.stateDir(),
		c.RunDir(),
		c.LogDir(),
		c.TempDir(),
		c.DataDir,
	)
}

func (c *Config) stateDir() string { return filepath.Join(c.RootDir, "state") }

// RunDir holds PID files and sockets for the current boot.
func (c *Config) RunDir() string { return filepath.Join(c.RootDir, "run") }

// LogDir holds workload process logs.
func (c *Config) LogDir() string { return filepath.Join(c.RootDir, "log") }

// TempDir holds multipart restore parts and staged archives.
func (c *Config) TempDir() string { return filepath.Join(c.RootDir, "tmp") }

// SessionsFile and SessionsLock are the session log store paths.
func (c *Config) SessionsFile() string { return filepath.Join(c.stateDir(), "sessions.json") }
func (c *Config) SessionsLock() string { return filepath.Join(c.stateDir(), "sessions.lock") }

// PluginsFile and PluginsLock are the plugin state store paths.
func (c *Config) PluginsFile() string { return filepath.Join(c.stateDir(), "plugins.json") }
func (c *Config) PluginsLock() string { return filepath.Join(c.stateDir(), "plugins.lock") }

// WorkloadPIDFile is the PID file for the booted workload process.
func (c *Config) WorkloadPIDFile() string { return filepath.Join(c.RunDir(), "workload.pid") }

// WorkloadLogFile captures the workload's stdout/stderr.
func (c *Config) WorkloadLogFile() string { return filepath.Join(c.LogDir(), "workload.log") }
