package server

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
)

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// NewCommand constructs the `server` command group.
func NewCommand() *cobra.Command {
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverCmd.AddCommand(newStartCommand())
	return serverCmd
}

// newStartCommand constructs the `server start` subcommand.
func newStartCommand() *cobra.Command {
	opts := DefaultOptions()
	hostname, _ := os.Hostname()
	var allocation string

	cmd := &cobra.Command{
		Use:     "start",
		Short:   "Start a cassieq node serving the HTTP API",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Config.Allocation = cassieq.AllocationStrategy(allocation)
			opts.Output = cmd.ErrOrStderr()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := Run(ctx, opts); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.HTTPAddr, "http", getenvDefault("CASSIEQ_HTTP_ADDR", opts.HTTPAddr), "HTTP listen address")
	f.StringVar(&opts.Store, "store", getenvDefault("CASSIEQ_STORE", opts.Store), "Store backend: memory|redis|postgres")
	f.StringVar(&opts.RedisAddr, "redis-addr", getenvDefault("CASSIEQ_REDIS_ADDR", opts.RedisAddr), "Redis address for --store=redis")
	f.StringVar(&opts.RedisPrefix, "redis-prefix", opts.RedisPrefix, "Key prefix for --store=redis")
	f.StringVar(&opts.PostgresDSN, "postgres-dsn", os.Getenv("CASSIEQ_POSTGRES_DSN"), "Connection string for --store=postgres")
	f.StringVar(&opts.Cluster, "cluster", opts.Cluster, "Cluster provider: store|kubernetes")
	f.StringVar(&opts.KubeNamespace, "kube-namespace", getenvDefault("POD_NAMESPACE", "default"), "Namespace for --cluster=kubernetes")
	f.StringVar(&opts.LogLevel, "log-level", getenvDefault("CASSIEQ_LOG_LEVEL", opts.LogLevel), "Log level: debug|info|warn|error")
	f.StringVar(&opts.LogFormat, "log-format", getenvDefault("CASSIEQ_LOG_FORMAT", opts.LogFormat), "Log format: text|json")
	f.BoolVar(&opts.Audit, "audit", false, "Log audit events for queue lifecycle, poison messages and cluster changes")

	f.StringVar(&opts.Config.NodeName, "node-name", hostname, "Human readable node label")
	f.StringVar(&allocation, "allocation", string(opts.Config.Allocation), "Allocation strategy: cluster|manual|none")
	f.IntVar(&opts.Config.ManualSlot, "manual-slot", 0, "This node's slot for --allocation=manual")
	f.IntVar(&opts.Config.ManualTotal, "manual-total", 0, "Slot count for --allocation=manual")
	f.IntVar(&opts.Config.DefaultBucketSize, "bucket-size", opts.Config.DefaultBucketSize, "Bucket size for new queues")
	f.IntVar(&opts.Config.DefaultMaxDeliveryCount, "max-delivery-count", opts.Config.DefaultMaxDeliveryCount, "Deliveries before a message is poison")
	f.DurationVar(&opts.Config.DefaultRepairInterval, "repair-interval", opts.Config.DefaultRepairInterval, "Repair sweep period for new queues")
	f.StringVar(&opts.Config.JanitorSchedule, "janitor-schedule", opts.Config.JanitorSchedule, "Cron expression for purging deleted queues; empty disables")

	return cmd
}
