package workload

import "github.com/spf13/cobra"

// Actions defines workload lifecycle operations.
type Actions interface {
	Start(cmd *cobra.Command, args []string) error
	Stop(cmd *cobra.Command, args []string) error
	Status(cmd *cobra.Command, args []string) error
	Command(cmd *cobra.Command, args []string) error
	Console(cmd *cobra.Command, args []string) error
	Sessions(cmd *cobra.Command, args []string) error
	Usage(cmd *cobra.Command, args []string) error
}

// Commands builds the "workload" parent command with all subcommands.
func Commands(h Actions) []*cobra.Command {
	workloadCmd := &cobra.Command{
		Use:   "workload",
		Short: "Manage the game-server workload",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Restore the world if needed and boot the workload",
		RunE:  h.Start,
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Back the world up and stop the workload",
		RunE:  h.Stop,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show lifecycle state, PID and current session",
		RunE:  h.Status,
	}

	commandCmd := &cobra.Command{
		Use:   "command COMMAND [ARG...]",
		Short: "Run one console command on the running workload",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.Command,
	}

	consoleCmd := &cobra.Command{
		Use:   "console",
		Short: "Attach an interactive console to the running workload",
		RunE:  h.Console,
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show the current and last sessions",
		RunE:  h.Sessions,
	}

	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "Show aggregated session usage",
		RunE:  h.Usage,
	}

	workloadCmd.AddCommand(
		startCmd,
		stopCmd,
		statusCmd,
		commandCmd,
		consoleCmd,
		sessionsCmd,
		usageCmd,
	)
	return []*cobra.Command{workloadCmd}
}
