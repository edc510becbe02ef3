package plugin

import "github.com/spf13/cobra"

// Actions defines plugin state operations.
type Actions interface {
	List(cmd *cobra.Command, args []string) error
	Enable(cmd *cobra.Command, args []string) error
	Disable(cmd *cobra.Command, args []string) error
	SetEnv(cmd *cobra.Command, args []string) error
	UnsetEnv(cmd *cobra.Command, args []string) error
}

// Commands builds the "plugin" parent command with all subcommands.
func Commands(h Actions) []*cobra.Command {
	pluginCmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage plugin enablement and environment",
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List plugins with desired/applied status",
		RunE:    h.List,
	}

	enableCmd := &cobra.Command{
		Use:   "enable PLUGIN",
		Short: "Enable a plugin (takes effect at next boot)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Enable,
	}

	disableCmd := &cobra.Command{
		Use:   "disable PLUGIN",
		Short: "Disable a plugin (takes effect at next boot)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Disable,
	}

	setEnvCmd := &cobra.Command{
		Use:   "set-env PLUGIN KEY VALUE",
		Short: "Set a plugin env variable (workload must be stopped)",
		Args:  cobra.ExactArgs(3),
		RunE:  h.SetEnv,
	}

	unsetEnvCmd := &cobra.Command{
		Use:   "unset-env PLUGIN KEY",
		Short: "Remove a plugin env variable (workload must be stopped)",
		Args:  cobra.ExactArgs(2),
		RunE:  h.UnsetEnv,
	}

	pluginCmd.AddCommand(listCmd, enableCmd, disableCmd, setEnvCmd, unsetEnvCmd)
	return []*cobra.Command{pluginCmd}
}
