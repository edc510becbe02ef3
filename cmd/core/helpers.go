package core

import (
	"context"
	"fmt"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/projecteru2/warden/backup"
	"github.com/projecteru2/warden/command"
	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/coordinator"
	"github.com/projecteru2/warden/objstore"
	"github.com/projecteru2/warden/plugin"
	"github.com/projecteru2/warden/workload"
)

// BaseHandler provides shared config access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return CommandContext(cmd), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return conf, nil
}

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// InitStore connects to the object store.
func InitStore(conf *config.Config) (*objstore.MinioStore, error) {
	store, err := objstore.New(conf.Store)
	if err != nil {
		return nil, fmt.Errorf("init object store: %w", err)
	}
	return store, nil
}

// InitEngine builds the backup engine over the object store.
func InitEngine(conf *config.Config) (*backup.Engine, error) {
	store, err := InitStore(conf)
	if err != nil {
		return nil, err
	}
	return backup.NewEngine(conf, store), nil
}

// InitTracker builds the plugin tracker against the live workload state.
func InitTracker(conf *config.Config) *plugin.Tracker {
	proc := workload.NewManager(conf)
	return plugin.NewTracker(conf, plugin.Builtin(), proc.Alive)
}

// Stack is the fully wired coordinator with its collaborators, shared by
// the daemon and the direct CLI commands.
type Stack struct {
	Registry    *coordinator.Registry
	Coordinator *coordinator.Coordinator
	Tracker     *plugin.Tracker
	Engine      *backup.Engine
	Store       *objstore.MinioStore
	Workload    *workload.Manager
}

// InitStack wires the coordinator from config. Coordinators are only handed
// out through the registry, one per identity; the daemon serves the single
// identity named in config.
func InitStack(conf *config.Config) (*Stack, error) {
	if err := conf.EnsureDirs(); err != nil {
		return nil, err
	}
	store, err := InitStore(conf)
	if err != nil {
		return nil, err
	}
	engine := backup.NewEngine(conf, store)
	proc := workload.NewManager(conf)
	tracker := plugin.NewTracker(conf, plugin.Builtin(), proc.Alive)

	registry := coordinator.NewRegistry(func(identity string) (*coordinator.Coordinator, error) {
		if identity != conf.Identity {
			return nil, fmt.Errorf("identity %q is not served here, this instance owns %q", identity, conf.Identity)
		}
		return coordinator.New(conf, engine, command.New(conf.Console), proc, tracker), nil
	})
	coord, err := registry.Get(conf.Identity)
	if err != nil {
		return nil, err
	}
	return &Stack{
		Registry:    registry,
		Coordinator: coord,
		Tracker:     tracker,
		Engine:      engine,
		Store:       store,
		Workload:    proc,
	}, nil
}

// FormatSize renders byte counts for human-facing output.
func FormatSize(bytes int64) string {
	return units.HumanSize(float64(bytes))
}
