// Package plugin tracks desired versus applied enablement of workload
// plugins. Desired state changes at any time; applied state only changes
// when the workload boots, so the two can diverge between restarts.
package plugin

import (
	"context"
	"fmt"
	"sort"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/storage"
	storejson "github.com/projecteru2/warden/storage/json"
	"github.com/projecteru2/warden/types"
)

// pluginIndex is the persisted plugin table, keyed by filename.
type pluginIndex struct {
	Plugins map[string]*types.PluginRecord `json:"plugins"`
}

// Init implements storage.Initer.
func (i *pluginIndex) Init() {
	if i.Plugins == nil {
		i.Plugins = map[string]*types.PluginRecord{}
	}
}

// View is the externally visible state of one plugin.
type View struct {
	Filename string             `json:"filename"`
	Status   types.PluginStatus `json:"status"`
	Env      map[string]string  `json:"env,omitempty"`
}

// Tracker owns the plugin table. Whether the workload is running is
// injected so the tracker stays free of lifecycle knowledge.
type Tracker struct {
	store   storage.Store[pluginIndex]
	specs   map[string]types.PluginSpec
	running func() bool
}

// NewTracker creates a Tracker persisting under conf's state dir.
func NewTracker(conf *config.Config, specs []types.PluginSpec, running func() bool) *Tracker {
	byName := make(map[string]types.PluginSpec, len(specs))
	for _, s := range specs {
		byName[s.Filename] = s
	}
	return &Tracker{
		store:   storejson.New[pluginIndex](conf.PluginsLock(), conf.PluginsFile()),
		specs:   byName,
		running: running,
	}
}

// record returns the table entry for filename, creating it from the
// registered spec on first sight. Unknown filenames are rejected.
func (t *Tracker) record(idx *pluginIndex, filename string) (*types.PluginRecord, error) {
	if rec, ok := idx.Plugins[filename]; ok {
		return rec, nil
	}
	spec, ok := t.specs[filename]
	if !ok {
		return nil, fmt.Errorf("plugin %s: %w", filename, types.ErrNotFound)
	}
	rec := &types.PluginRecord{
		Filename:       filename,
		DesiredEnabled: spec.DefaultEnabled,
		CurrentEnabled: spec.DefaultEnabled,
	}
	idx.Plugins[filename] = rec
	return rec, nil
}

// List returns every registered plugin's view, sorted by filename.
func (t *Tracker) List(ctx context.Context) ([]View, error) {
	var views []View
	err := t.store.Update(ctx, func(idx *pluginIndex) error {
		for name := range t.specs {
			if _, err := t.record(idx, name); err != nil {
				return err
			}
		}
		for _, rec := range idx.Plugins {
			views = append(views, View{Filename: rec.Filename, Status: rec.Status(), Env: rec.Env})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Filename < views[j].Filename })
	return views, nil
}

// Get returns one plugin's view.
func (t *Tracker) Get(ctx context.Context, filename string) (View, error) {
	var view View
	err := t.store.Update(ctx, func(idx *pluginIndex) error {
		rec, err := t.record(idx, filename)
		if err != nil {
			return err
		}
		view = View{Filename: rec.Filename, Status: rec.Status(), Env: rec.Env}
		return nil
	})
	return view, err
}

// SetDesired records the intent to enable or disable a plugin. The change
// is applied at the next workload boot.
func (t *Tracker) SetDesired(ctx context.Context, filename string, enabled bool) (View, error) {
	var view View
	err := t.store.Update(ctx, func(idx *pluginIndex) error {
		rec, err := t.record(idx, filename)
		if err != nil {
			return err
		}
		rec.DesiredEnabled = enabled
		view = View{Filename: rec.Filename, Status: rec.Status(), Env: rec.Env}
		return nil
	})
	return view, err
}

// SetEnv replaces one env variable for a plugin. The workload reads plugin
// env once at boot, so edits are only accepted while it is stopped.
func (t *Tracker) SetEnv(ctx context.Context, filename, key, value string) error {
	if t.running() {
		return fmt.Errorf("plugin env is read at boot, stop the workload first: %w", types.ErrConflict)
	}
	return t.store.Update(ctx, func(idx *pluginIndex) error {
		rec, err := t.record(idx, filename)
		if err != nil {
			return err
		}
		if rec.Env == nil {
			rec.Env = map[string]string{}
		}
		rec.Env[key] = value
		return nil
	})
}

// UnsetEnv removes one env variable for a plugin, under the same
// stopped-only rule as SetEnv.
func (t *Tracker) UnsetEnv(ctx context.Context, filename, key string) error {
	if t.running() {
		return fmt.Errorf("plugin env is read at boot, stop the workload first: %w", types.ErrConflict)
	}
	return t.store.Update(ctx, func(idx *pluginIndex) error {
		rec, err := t.record(idx, filename)
		if err != nil {
			return err
		}
		delete(rec.Env, key)
		return nil
	})
}

// ReconcileOnBoot applies every desired state, making it current, and
// returns the merged KEY=VALUE env of all enabled plugins for injection
// into the workload process.
func (t *Tracker) ReconcileOnBoot(ctx context.Context) ([]string, error) {
	logger := log.WithFunc("plugin.ReconcileOnBoot")
	var env []string
	err := t.store.Update(ctx, func(idx *pluginIndex) error {
		for name := range t.specs {
			if _, err := t.record(idx, name); err != nil {
				return err
			}
		}
		names := make([]string, 0, len(idx.Plugins))
		for name := range idx.Plugins {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			rec := idx.Plugins[name]
			if rec.CurrentEnabled != rec.DesiredEnabled {
				logger.Infof(ctx, "plugin %s: %v -> %v", name, rec.CurrentEnabled, rec.DesiredEnabled)
			}
			rec.CurrentEnabled = rec.DesiredEnabled
			if !rec.CurrentEnabled {
				continue
			}
			if spec, ok := t.specs[name]; ok {
				for _, key := range spec.RequiredEnv {
					if _, set := rec.Env[key]; !set {
						return fmt.Errorf("plugin %s: required env %s unset: %w", name, key, types.ErrConflict)
					}
				}
			}
			keys := make([]string, 0, len(rec.Env))
			for k := range rec.Env {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				env = append(env, k+"="+rec.Env[k])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}
