package types

// PluginStatus is the four-state display label derived from the desired and
// currently-applied enablement of a plugin. Current only changes when the
// workload boots, so a divergence always means "after restart".
type PluginStatus string

const (
	PluginEnabled             PluginStatus = "ENABLED"
	PluginDisabled            PluginStatus = "DISABLED"
	PluginEnableAfterRestart  PluginStatus = "DISABLED_WILL_ENABLE_AFTER_RESTART"
	PluginDisableAfterRestart PluginStatus = "ENABLED_WILL_DISABLE_AFTER_RESTART"
)

// PluginRecord is the persisted desired/applied state for one plugin file.
type PluginRecord struct {
	Filename       string `json:"filename"`
	DesiredEnabled bool   `json:"desired_enabled"`
	CurrentEnabled bool   `json:"current_enabled"`

	// Env holds per-plugin environment variables injected at boot.
	// Mutations are rejected unless the workload is stopped.
	Env map[string]string `json:"env,omitempty"`
}

// Status derives the display label from desired vs current enablement.
func (r *PluginRecord) Status() PluginStatus {
	switch {
	case r.DesiredEnabled && r.CurrentEnabled:
		return PluginEnabled
	case !r.DesiredEnabled && !r.CurrentEnabled:
		return PluginDisabled
	case r.DesiredEnabled:
		return PluginEnableAfterRestart
	default:
		return PluginDisableAfterRestart
	}
}

// PluginSpec describes a known plugin: its file name, whether it ships
// enabled, and the environment variables it requires when enabled.
// Specs are registered statically and looked up by filename.
type PluginSpec struct {
	Filename       string
	DefaultEnabled bool
	RequiredEnv    []string
}
