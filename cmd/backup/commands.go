package backup

import "github.com/spf13/cobra"

// Actions defines backup and restore operations.
type Actions interface {
	Create(cmd *cobra.Command, args []string) error
	Restore(cmd *cobra.Command, args []string) error
	List(cmd *cobra.Command, args []string) error
	Prune(cmd *cobra.Command, args []string) error
	Jobs(cmd *cobra.Command, args []string) error
}

// Commands builds the "backup" parent command with all subcommands.
func Commands(h Actions) []*cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage world backups on the object store",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Archive the data directory and upload it",
		RunE:  h.Create,
	}

	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "Populate an empty data directory from the newest backup",
		RunE:  h.Restore,
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backups, newest first",
		RunE:    h.List,
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete backups beyond the retention count",
		RunE:  h.Prune,
	}

	jobsCmd := &cobra.Command{
		Use:   "jobs [JOB-ID]",
		Short: "Show background backup/restore jobs from the running daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE:  h.Jobs,
	}

	backupCmd.AddCommand(createCmd, restoreCmd, listCmd, pruneCmd, jobsCmd)
	return []*cobra.Command{backupCmd}
}
