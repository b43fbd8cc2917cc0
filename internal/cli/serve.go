package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/sessionstate"
	"github.com/aretw0/sessionstate/internal/presentation/tui"
	httpAdapter "github.com/aretw0/sessionstate/pkg/adapters/http"
)

// ShutdownTimeout bounds how long outstanding requests may run after a stop signal.
const ShutdownTimeout = 5 * time.Second

// ServeOptions configures the HTTP server command.
type ServeOptions struct {
	Options
	Addr string
	// Quiet suppresses the banner and system messages.
	Quiet bool
	Out   io.Writer
}

// Serve runs the HTTP adapter on opts.Addr until ctx is cancelled.
func Serve(ctx context.Context, opts ServeOptions) error {
	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", opts.Addr, err)
	}
	return serve(ctx, opts, ln)
}

func serve(ctx context.Context, opts ServeOptions, ln net.Listener) error {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	env, err := NewEnvironment(ctx, opts.Options)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		if err := env.Close(); err != nil {
			env.Logger.Warn("Failed to close provider", "err", err)
		}
	}()

	if !opts.Quiet {
		tui.PrintBanner(out, sessionstate.Version)
	}

	handler := httpAdapter.NewHandler(env.Provider,
		httpAdapter.WithLogger(env.Logger),
		httpAdapter.WithGatherer(env.Registry),
	)

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	go handler.Pump(pumpCtx)

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Serve(ln)
	}()

	if !opts.Quiet {
		printSystemMessage(out, "Serving sessions on %s (store: %s, version: %s)",
			ln.Addr(), storeName(opts.Options), displayVersion(env.Provider.Version()))
	}
	env.Logger.Info("Server started", "addr", ln.Addr().String())

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		env.Logger.Info("Shutting down", "timeout", ShutdownTimeout)

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			env.Logger.Warn("Graceful shutdown did not complete", "err", err)
			if err := srv.Close(); err != nil {
				return fmt.Errorf("error killing server: %w", err)
			}
		}
		if !opts.Quiet {
			printSystemMessage(out, "Server stopped gracefully")
		}
		return nil
	}
}

func displayVersion(v string) string {
	if strings.TrimSpace(v) == "" {
		return "untagged"
	}
	return v
}
