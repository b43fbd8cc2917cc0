package main

import (
	"context"
	"net"
	"os"

	"github.com/aretw0/sessionstate/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session HTTP server",
	Long:  `Exposes the session pipeline as a JSON API, streams session ends on /events and metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetString("port")
		opts := options(cmd)

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		return cli.Serve(sigCtx, cli.ServeOptions{
			Options: opts,
			Addr:    net.JoinHostPort(host, port),
			Quiet:   opts.JSON,
			Out:     os.Stdout,
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	serveCmd.Flags().String("host", "", "Interface to bind")
}
