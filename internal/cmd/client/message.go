package client

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/paradoxical-io/cassieq-sub001/api"
)

// NewMessageCommand constructs the `message` command group and subcommands.
func NewMessageCommand() *cobra.Command {
	msgCmd := &cobra.Command{
		Use:     "message",
		Aliases: []string{"msg"},
		Short:   "Message operations",
		Long: `Message operations on a queue's active version.

Message Lifecycle:
  put → [next] → invisible → [ack]     → gone
                     ↓ (visibility runs out)
                  visible again; poison after the max delivery count`,
	}
	addConnFlags(msgCmd)
	msgCmd.AddCommand(
		newMessagePutCommand(),
		newMessageNextCommand(),
		newMessageAckCommand(),
		newMessageUpdateCommand(),
	)
	return msgCmd
}

func newMessagePutCommand() *cobra.Command {
	var (
		data      string
		invisible time.Duration
	)
	cmd := &cobra.Command{
		Use:   "put QUEUE",
		Short: "Put a message; the body is --data or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			body := []byte(data)
			if !cmd.Flags().Changed("data") {
				if body, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}
			index, err := c.Put(cmd.Context(), args[0], body, invisible)
			if err != nil {
				return err
			}
			return printJSON(cmd, api.PutMessageResponse{Index: index})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "Message body")
	cmd.Flags().DurationVar(&invisible, "invisible", 0, "Hide the message for this long after the put")
	return cmd
}

func newMessageNextCommand() *cobra.Command {
	var visibility time.Duration
	cmd := &cobra.Command{
		Use:   "next QUEUE",
		Short: "Consume the next message and hide it for --visibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			msg, err := c.Consume(cmd.Context(), args[0], visibility)
			if err != nil {
				return err
			}
			if msg == nil {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no message")
				return err
			}
			return printJSON(cmd, msg)
		},
	}
	cmd.Flags().DurationVar(&visibility, "visibility", 30*time.Second, "Invisibility after delivery")
	return cmd
}

func newMessageAckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ack QUEUE POP_RECEIPT",
		Short: "Acknowledge a delivered message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			if err := c.Ack(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "acked")
			return err
		},
	}
}

func newMessageUpdateCommand() *cobra.Command {
	var (
		data       string
		visibility time.Duration
	)
	cmd := &cobra.Command{
		Use:   "update QUEUE POP_RECEIPT",
		Short: "Extend a delivery's invisibility and optionally replace its body",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			var body *string
			if cmd.Flags().Changed("data") {
				body = &data
			}
			receipt, err := c.Update(cmd.Context(), args[0], args[1], body, visibility)
			if err != nil {
				return err
			}
			return printJSON(cmd, api.UpdateMessageResponse{PopReceipt: receipt})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "Replacement body")
	cmd.Flags().DurationVar(&visibility, "visibility", 30*time.Second, "New invisibility from now")
	return cmd
}
