package main

import (
	"os"

	"github.com/aretw0/sessionstate/internal/cli"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of sessionstate and the session version in use",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.PrintVersion(options(cmd), os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
