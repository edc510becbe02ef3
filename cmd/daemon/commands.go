package daemon

import "github.com/spf13/cobra"

// Actions defines the daemon operation.
type Actions interface {
	Run(cmd *cobra.Command, args []string) error
}

// Commands builds the "daemon" command.
func Commands(h Actions) []*cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the coordinator daemon (control API, storage proxy, idle monitor)",
		RunE:  h.Run,
	}
	daemonCmd.Flags().Bool("start-workload", false, "start the workload immediately after boot")
	return []*cobra.Command{daemonCmd}
}
