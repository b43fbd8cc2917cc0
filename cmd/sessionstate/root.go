package main

import (
	"fmt"
	"os"

	"github.com/aretw0/sessionstate/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sessionstate",
	Short: "sessionstate keeps Redis-backed session state consistent across releases",
	Long: `sessionstate serves session state over HTTP and inspects sessions stored in Redis.
Sessions written by another release are cleared on read, and sessions that time out are reported once.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "sessionstate.yaml", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().Bool("memory", false, "Use a process-local store instead of Redis")
	rootCmd.PersistentFlags().Bool("json", false, "Print machine-readable output")
}

func options(cmd *cobra.Command) cli.Options {
	configPath, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")
	memory, _ := cmd.Flags().GetBool("memory")
	jsonMode, _ := cmd.Flags().GetBool("json")
	return cli.Options{
		ConfigPath: configPath,
		Debug:      debug,
		Memory:     memory,
		JSON:       jsonMode,
	}
}
