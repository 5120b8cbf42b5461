package client

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	cq "github.com/paradoxical-io/cassieq-sub001/client"
)

// NewRoot constructs a root Cobra command holding every client command
// group.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "cassieq",
		Short: "cassieq client commands",
	}
	for _, c := range Commands() {
		root.AddCommand(c)
	}
	return root
}

// Commands returns the client command groups.
func Commands() []*cobra.Command {
	return []*cobra.Command{
		NewQueueCommand(),
		NewMessageCommand(),
		NewDLQCommand(),
	}
}

// urlFromEnv returns the server URL from CASSIEQ_URL or a default.
func urlFromEnv() string {
	if v := os.Getenv("CASSIEQ_URL"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// addConnFlags registers the server and account flags on a command group.
func addConnFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("url", urlFromEnv(), "cassieq server URL (env CASSIEQ_URL)")
	cmd.PersistentFlags().String("account", os.Getenv("CASSIEQ_ACCOUNT"), "Account name (env CASSIEQ_ACCOUNT)")
}

// newClient builds an HTTP client from the connection flags.
func newClient(cmd *cobra.Command) (*cq.Client, error) {
	url, _ := cmd.Flags().GetString("url")
	account, _ := cmd.Flags().GetString("account")
	if account == "" {
		return nil, errors.New("--account is required")
	}
	return cq.New(url, account, cq.WithRetry(3, 100*time.Millisecond)), nil
}

// printJSON writes v as indented JSON to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
