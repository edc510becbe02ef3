package plugin

import "github.com/projecteru2/warden/types"

// Builtin returns the statically registered plugin catalog. Only files in
// this catalog can be tracked; anything else is rejected as not found.
func Builtin() []types.PluginSpec {
	return []types.PluginSpec{
		{Filename: "dynmap.jar", DefaultEnabled: true},
		{Filename: "worldedit.jar", DefaultEnabled: true},
		{Filename: "discord-bridge.jar", DefaultEnabled: false, RequiredEnv: []string{"DISCORD_TOKEN"}},
		{Filename: "stats-exporter.jar", DefaultEnabled: false},
	}
}
