package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	coretypes "github.com/projecteru2/core/types"
)

// Config holds global warden configuration.
type Config struct {
	// RootDir is the base directory for persistent coordinator state.
	RootDir string `json:"root_dir" mapstructure:"root_dir"`
	// DataDir is the workload's data directory (the world being backed up).
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
	// Identity is the logical identity this coordinator instance owns.
	// Exactly one workload runs per identity.
	Identity string `json:"identity" mapstructure:"identity"`

	// APIAddr is the control API listen address.
	APIAddr string `json:"api_addr" mapstructure:"api_addr"`

	// IdleStopMinutes is the idle window after which the coordinator stops
	// the workload on its own. Zero disables auto-stop.
	IdleStopMinutes int `json:"idle_stop_minutes" mapstructure:"idle_stop_minutes"`

	// StopTimeoutSeconds is the graceful-terminate window before SIGKILL.
	StopTimeoutSeconds int `json:"stop_timeout_seconds" mapstructure:"stop_timeout_seconds"`

	// PoolSize bounds goroutine pools. Defaults to runtime.NumCPU() if zero.
	PoolSize int `json:"pool_size" mapstructure:"pool_size"`

	Workload WorkloadConfig `json:"workload" mapstructure:"workload"`
	Console  ConsoleConfig  `json:"console" mapstructure:"console"`
	Proxy    ProxyConfig    `json:"proxy" mapstructure:"proxy"`
	Store    StoreConfig    `json:"store" mapstructure:"store"`
	Backup   BackupConfig   `json:"backup" mapstructure:"backup"`

	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// WorkloadConfig describes how the game-server process is launched.
type WorkloadConfig struct {
	// Command is the argv used to boot the workload.
	Command []string `json:"command" mapstructure:"command"`
	// Version selects the active build; injected via VersionEnv before each
	// boot and read by the workload once at process start.
	Version    string `json:"version" mapstructure:"version"`
	VersionEnv string `json:"version_env" mapstructure:"version_env"`
}

// ConsoleConfig describes the workload's remote-console port.
type ConsoleConfig struct {
	Addr   string `json:"addr" mapstructure:"addr"`
	Secret string `json:"secret" mapstructure:"secret"`
	// TimeoutSeconds is the per-call deadline for console commands.
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// ProxyConfig describes the storage proxy multiplexer listeners.
type ProxyConfig struct {
	ControlAddr string `json:"control_addr" mapstructure:"control_addr"`
	DataAddr    string `json:"data_addr" mapstructure:"data_addr"`
	// MaxChannels caps concurrently leased data channels.
	MaxChannels int `json:"max_channels" mapstructure:"max_channels"`
	// PublicPrefix routes matching request paths to the public bucket.
	PublicPrefix string `json:"public_prefix" mapstructure:"public_prefix"`
}

// StoreConfig holds object store endpoint and credentials. The credentials
// live only in the coordinator; the sandboxed workload reaches the store
// through the proxy.
type StoreConfig struct {
	Endpoint      string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey     string `json:"access_key" mapstructure:"access_key"`
	SecretKey     string `json:"secret_key" mapstructure:"secret_key"`
	Region        string `json:"region" mapstructure:"region"`
	Secure        bool   `json:"secure" mapstructure:"secure"`
	PrivateBucket string `json:"private_bucket" mapstructure:"private_bucket"`
	PublicBucket  string `json:"public_bucket" mapstructure:"public_bucket"`
}

// BackupConfig tunes the backup/restore engine.
type BackupConfig struct {
	// Prefix is the object key prefix for backups.
	Prefix string `json:"prefix" mapstructure:"prefix"`
	// ExcludeDirs are transient subfolders skipped when archiving.
	ExcludeDirs []string `json:"exclude_dirs" mapstructure:"exclude_dirs"`
	// MultipartThreshold is the size above which restores download in chunks.
	MultipartThreshold int64 `json:"multipart_threshold" mapstructure:"multipart_threshold"`
	// ChunkSize is the ranged-GET chunk size for multipart restores.
	ChunkSize int64 `json:"chunk_size" mapstructure:"chunk_size"`
	// Concurrency bounds in-flight chunk downloads.
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`
	// Keep is how many backups the pruner retains. Zero disables pruning.
	Keep int `json:"keep" mapstructure:"keep"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RootDir:            "/var/lib/warden",
		DataDir:            "/var/lib/warden/world",
		Identity:           "default",
		APIAddr:            "127.0.0.1:7090",
		IdleStopMinutes:    20,
		StopTimeoutSeconds: 30,
		PoolSize:           runtime.NumCPU(),
		Workload: WorkloadConfig{
			VersionEnv: "WARDEN_WORKLOAD_VERSION",
		},
		Console: ConsoleConfig{
			Addr:           "127.0.0.1:25575",
			TimeoutSeconds: 10,
		},
		Proxy: ProxyConfig{
			ControlAddr:  "127.0.0.1:7091",
			DataAddr:     "127.0.0.1:7092",
			MaxChannels:  16,
			PublicPrefix: "/public/",
		},
		Backup: BackupConfig{
			Prefix:             "backups/",
			ExcludeDirs:        []string{"logs", "cache", "crash-reports"},
			MultipartThreshold: 100 << 20,
			ChunkSize:          50 << 20,
			Concurrency:        5,
			Keep:               10,
		},
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	conf := DefaultConfig()
	if path == "" {
		return conf, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // config path from CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return conf, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	conf.Normalize()
	return conf, nil
}

// Normalize fills zero values with defaults after external loading.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
	}
	if c.StopTimeoutSeconds <= 0 {
		c.StopTimeoutSeconds = d.StopTimeoutSeconds
	}
	if c.Console.TimeoutSeconds <= 0 {
		c.Console.TimeoutSeconds = d.Console.TimeoutSeconds
	}
	if c.Proxy.MaxChannels <= 0 {
		c.Proxy.MaxChannels = d.Proxy.MaxChannels
	}
	if c.Backup.Prefix == "" {
		c.Backup.Prefix = d.Backup.Prefix
	}
	if c.Backup.MultipartThreshold <= 0 {
		c.Backup.MultipartThreshold = d.Backup.MultipartThreshold
	}
	if c.Backup.ChunkSize <= 0 {
		c.Backup.ChunkSize = d.Backup.ChunkSize
	}
	if c.Backup.Concurrency <= 0 {
		c.Backup.Concurrency = d.Backup.Concurrency
	}
	if c.Workload.VersionEnv == "" {
		c.Workload.VersionEnv = d.Workload.VersionEnv
	}
}
