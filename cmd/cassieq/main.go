// Command cassieq runs a cassieq node and talks to one over HTTP.
package main

import (
	"os"

	"github.com/spf13/cobra"

	clientcmd "github.com/paradoxical-io/cassieq-sub001/internal/cmd/client"
	servercmd "github.com/paradoxical-io/cassieq-sub001/internal/cmd/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "cassieq",
		Short:        "cassieq queue server and client",
		Long:         "cassieq is a durable, at-least-once, multi-tenant queue. This CLI runs a node and manages queues, messages and dead letters.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(servercmd.NewCommand())
	for _, c := range clientcmd.Commands() {
		rootCmd.AddCommand(c)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
