package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/types"
)

var testSpecs = []types.PluginSpec{
	{Filename: "dynmap.jar", DefaultEnabled: true},
	{Filename: "discord-bridge.jar", DefaultEnabled: false, RequiredEnv: []string{"DISCORD_TOKEN"}},
}

func newTestTracker(t *testing.T, running *bool) *Tracker {
	t.Helper()
	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()
	require.NoError(t, conf.EnsureDirs())
	return NewTracker(conf, testSpecs, func() bool { return *running })
}

func TestStatusTransitions(t *testing.T) {
	ctx := context.Background()
	running := false
	tr := newTestTracker(t, &running)

	// Defaults: dynmap ships enabled, the bridge disabled.
	v, err := tr.Get(ctx, "dynmap.jar")
	require.NoError(t, err)
	require.Equal(t, types.PluginEnabled, v.Status)

	v, err = tr.Get(ctx, "discord-bridge.jar")
	require.NoError(t, err)
	require.Equal(t, types.PluginDisabled, v.Status)

	// Desired flips diverge from current until the next boot.
	v, err = tr.SetDesired(ctx, "dynmap.jar", false)
	require.NoError(t, err)
	require.Equal(t, types.PluginDisableAfterRestart, v.Status)

	v, err = tr.SetDesired(ctx, "discord-bridge.jar", true)
	require.NoError(t, err)
	require.Equal(t, types.PluginEnableAfterRestart, v.Status)

	// Flipping back converges without a restart.
	v, err = tr.SetDesired(ctx, "dynmap.jar", true)
	require.NoError(t, err)
	require.Equal(t, types.PluginEnabled, v.Status)
}

func TestUnknownPluginIsNotFound(t *testing.T) {
	running := false
	tr := newTestTracker(t, &running)
	_, err := tr.Get(context.Background(), "nope.jar")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestEnvEditsRequireStoppedWorkload(t *testing.T) {
	ctx := context.Background()
	running := true
	tr := newTestTracker(t, &running)

	err := tr.SetEnv(ctx, "discord-bridge.jar", "DISCORD_TOKEN", "tok")
	require.ErrorIs(t, err, types.ErrConflict)
	err = tr.UnsetEnv(ctx, "discord-bridge.jar", "DISCORD_TOKEN")
	require.ErrorIs(t, err, types.ErrConflict)

	running = false
	require.NoError(t, tr.SetEnv(ctx, "discord-bridge.jar", "DISCORD_TOKEN", "tok"))

	v, err := tr.Get(ctx, "discord-bridge.jar")
	require.NoError(t, err)
	require.Equal(t, "tok", v.Env["DISCORD_TOKEN"])
}

func TestReconcileOnBootAppliesDesiredAndCollectsEnv(t *testing.T) {
	ctx := context.Background()
	running := false
	tr := newTestTracker(t, &running)

	require.NoError(t, tr.SetEnv(ctx, "discord-bridge.jar", "DISCORD_TOKEN", "tok"))
	_, err := tr.SetDesired(ctx, "discord-bridge.jar", true)
	require.NoError(t, err)

	env, err := tr.ReconcileOnBoot(ctx)
	require.NoError(t, err)
	require.Contains(t, env, "DISCORD_TOKEN=tok")

	v, err := tr.Get(ctx, "discord-bridge.jar")
	require.NoError(t, err)
	require.Equal(t, types.PluginEnabled, v.Status)
}

func TestReconcileRejectsMissingRequiredEnv(t *testing.T) {
	ctx := context.Background()
	running := false
	tr := newTestTracker(t, &running)

	_, err := tr.SetDesired(ctx, "discord-bridge.jar", true)
	require.NoError(t, err)

	_, err = tr.ReconcileOnBoot(ctx)
	require.ErrorIs(t, err, types.ErrConflict)
}

func TestListSortedWithStatuses(t *testing.T) {
	ctx := context.Background()
	running := false
	tr := newTestTracker(t, &running)

	views, err := tr.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.Equal(t, "discord-bridge.jar", views[0].Filename)
	require.Equal(t, "dynmap.jar", views[1].Filename)
}
