package cli

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"

	"github.com/aretw0/sessionstate/pkg/adapters/mcp"
)

// MCP transports.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// ServeMCP runs the MCP adapter until ctx is cancelled (sse) or stdin closes (stdio).
func ServeMCP(ctx context.Context, opts Options, transport, addr string) error {
	if transport != TransportStdio && transport != TransportSSE {
		return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
	}

	env, err := NewEnvironment(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := env.Close(); err != nil {
			env.Logger.Warn("Failed to close provider", "err", err)
		}
	}()

	srv := mcp.NewServer(env.Provider, mcp.WithLogger(env.Logger))

	switch transport {
	case TransportStdio:
		// Ensure logs don't corrupt JSON-RPC on Stdout
		log.SetOutput(os.Stderr)
		env.Logger.Info("Starting sessionstate MCP Server (Stdio)")
		return srv.ServeStdio()
	default:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		env.Logger.Info("Starting sessionstate MCP Server (SSE)", "addr", ln.Addr().String())
		return srv.ServeSSE(ctx, ln)
	}
}
