package main

import (
	"os"

	"github.com/aretw0/sessionstate/internal/cli"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and remove stored sessions",
	Long:  `Reads and deletes sessions directly in the configured store.`,
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Show the items of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.InspectSession(cmd.Context(), options(cmd), os.Stdout, args[0])
	},
}

var sessionTTLCmd = &cobra.Command{
	Use:   "ttl <session-id>",
	Short: "Show the time left before a session expires",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.SessionTTL(cmd.Context(), options(cmd), os.Stdout, args[0])
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.RemoveSessions(cmd.Context(), options(cmd), os.Stdout, args...)
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionTTLCmd)
	sessionCmd.AddCommand(sessionRmCmd)
}
