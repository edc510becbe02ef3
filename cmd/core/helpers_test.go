package core

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/projecteru2/warden/config"
)

func testConf(t *testing.T) *config.Config {
	t.Helper()
	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()
	conf.DataDir = filepath.Join(conf.RootDir, "world")
	conf.Identity = "sandbox-7"
	conf.Store.Endpoint = "127.0.0.1:9000"
	conf.Store.AccessKey = "test"
	conf.Store.SecretKey = "test"
	conf.Store.PrivateBucket = "warden"
	return conf
}

func TestInitStackResolvesCoordinatorThroughRegistry(t *testing.T) {
	conf := testConf(t)

	stack, err := InitStack(conf)
	require.NoError(t, err)

	// The stack coordinator is the registry's instance, not a sibling.
	got, err := stack.Registry.Get(conf.Identity)
	require.NoError(t, err)
	require.Same(t, stack.Coordinator, got)

	// Repeated lookups keep handing out the same coordinator.
	again, err := stack.Registry.Get(conf.Identity)
	require.NoError(t, err)
	require.Same(t, got, again)
}

func TestRegistryRejectsForeignIdentity(t *testing.T) {
	conf := testConf(t)

	stack, err := InitStack(conf)
	require.NoError(t, err)

	_, err = stack.Registry.Get("someone-else")
	require.Error(t, err)
}
