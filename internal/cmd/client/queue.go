package client

import (
	"github.com/spf13/cobra"

	"github.com/paradoxical-io/cassieq-sub001/api"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// NewQueueCommand constructs the `queue` command group and subcommands.
func NewQueueCommand() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:     "queue",
		Aliases: []string{"q"},
		Short:   "Queue operations",
	}
	addConnFlags(queueCmd)
	queueCmd.AddCommand(
		newQueueCreateCommand(),
		newQueueGetCommand(),
		newQueueListCommand(),
		newQueueDeleteCommand(),
		newQueueSizeCommand(),
		newQueueRepairCommand(),
	)
	return queueCmd
}

func newQueueCreateCommand() *cobra.Command {
	var req api.CreateQueueRequest
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a queue, or a new version of a deleted one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			req.QueueName = args[0]
			q, err := c.CreateQueue(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, q)
		},
	}
	f := cmd.Flags()
	f.IntVar(&req.BucketSize, "bucket-size", 0, "Messages per bucket (server default when 0)")
	f.IntVar(&req.MaxDeliveryCount, "max-delivery-count", 0, "Deliveries before a message is poison (server default when 0)")
	f.IntVar(&req.RepairIntervalSeconds, "repair-interval", 0, "Repair sweep period in seconds")
	f.IntVar(&req.TombstoneGraceSeconds, "tombstone-grace", 0, "Seconds before a passed bucket is reclaimed")
	f.BoolVar(&req.DeleteBucketsAfterRetire, "delete-buckets", false, "Delete a bucket's rows once it is retired")
	f.StringVar(&req.DeadLetterQueue, "dead-letter-queue", "", "Queue receiving poison messages")
	return cmd
}

func newQueueGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME",
		Short: "Show the active version of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			q, err := c.GetQueue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, q)
		},
	}
}

func newQueueListCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the account's queue versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			qs, err := c.ListQueues(cmd.Context(), queue.Status(status))
			if err != nil {
				return err
			}
			return printJSON(cmd, qs)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: active|deleting|deleted")
	return cmd
}

func newQueueDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a queue; its messages are erased in the background",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			q, err := c.DeleteQueue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, q)
		},
	}
}

func newQueueSizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "size NAME",
		Short: "Count a queue's unacknowledged messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			size, err := c.QueueSize(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, api.QueueStatisticsResponse{Size: size})
		},
	}
}

func newQueueRepairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repair NAME",
		Short: "Run one repair sweep over a queue now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			res, err := c.RepairQueue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}
