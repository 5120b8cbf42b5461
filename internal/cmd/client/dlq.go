package client

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/paradoxical-io/cassieq-sub001/api"
	"github.com/paradoxical-io/cassieq-sub001/id"
)

// NewDLQCommand constructs the `dlq` command group and subcommands.
func NewDLQCommand() *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Poison message reports",
	}
	addConnFlags(dlqCmd)
	dlqCmd.AddCommand(
		newDLQListCommand(),
		newDLQReplayCommand(),
		newDLQCountCommand(),
		newDLQPurgeCommand(),
	)
	return dlqCmd
}

func newDLQListCommand() *cobra.Command {
	var (
		queueName     string
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the account's poison reports, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			entries, err := c.ListDLQ(cmd.Context(), queueName, limit, offset)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", "", "Only reports from this queue")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum reports to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Reports to skip")
	return cmd
}

func newDLQReplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay ENTRY_ID",
		Short: "Put a poison report's payload back into its queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := id.ParseDLQID(args[0])
			if err != nil {
				return fmt.Errorf("invalid entry id: %w", err)
			}
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			index, err := c.ReplayDLQ(cmd.Context(), entryID)
			if err != nil {
				return err
			}
			return printJSON(cmd, api.ReplayDLQResponse{Index: index})
		},
	}
}

func newDLQCountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count poison reports on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			n, err := c.CountDLQ(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, api.DLQCountResponse{Count: n})
		},
	}
}

func newDLQPurgeCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove poison reports older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			n, err := c.PurgeDLQ(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			return printJSON(cmd, api.PurgeDLQResponse{Purged: n})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Minimum report age")
	return cmd
}
