package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/sessionstate"
	"github.com/aretw0/sessionstate/internal/logging"
	"github.com/aretw0/sessionstate/internal/presentation/tui"
	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/aretw0/sessionstate/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// VersionURI is the resource describing the session version in use.
const VersionURI = "sessionstate://version"

// Provider defines what the MCP server needs from the session pipeline.
type Provider interface {
	GetItem(ctx context.Context, id string) (*domain.GetItemResult, error)
	GetItemExclusive(ctx context.Context, id string) (*domain.GetItemResult, error)
	ReleaseItemExclusive(ctx context.Context, id string, lockID domain.LockID) error
	RemoveItem(ctx context.Context, id string, lockID domain.LockID) error
	ResetItemTimeout(ctx context.Context, id string) error
	Version() string
	Store() ports.SessionStore
}

// TTLResponse reports the remaining lifetime of a session.
type TTLResponse struct {
	ID        string `json:"id" jsonschema_description:"Session ID"`
	Remaining string `json:"remaining" jsonschema_description:"Time left before the store expires the session, or 'never'"`
	Exists    bool   `json:"exists" jsonschema_description:"Whether the store holds the session"`
}

// RemoveResponse reports a session removal.
type RemoveResponse struct {
	ID      string `json:"id" jsonschema_description:"Session ID"`
	Removed bool   `json:"removed" jsonschema_description:"Whether a stored session was deleted"`
}

// Server exposes session inspection to MCP clients.
type Server struct {
	provider  Provider
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(provider Provider, opts ...Option) *Server {
	s := &Server{
		provider:  provider,
		mcpServer: server.NewMCPServer("sessionstate-mcp", strings.TrimSpace(sessionstate.Version)),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on ln until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, ln net.Listener) error {
	baseURL := "http://" + ln.Addr().String()
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", ln.Addr().String())
		serverErrors <- httpServer.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		// Create a timeout context for the graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: get_session
	getTool := mcp.NewTool("get_session",
		mcp.WithDescription("Read a session's items. Sessions written by another release come back empty."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithOutputSchema[tui.SessionSummary](),
	)
	s.mcpServer.AddTool(getTool, mcp.NewStructuredToolHandler(s.handleGetSession))

	// TOOL: session_ttl
	ttlTool := mcp.NewTool("session_ttl",
		mcp.WithDescription("Report how long the store keeps a session before it expires."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithOutputSchema[TTLResponse](),
	)
	s.mcpServer.AddTool(ttlTool, mcp.NewStructuredToolHandler(s.handleTTL))

	// TOOL: touch_session
	touchTool := mcp.NewTool("touch_session",
		mcp.WithDescription("Restart a session's sliding expiry."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithOutputSchema[TTLResponse](),
	)
	s.mcpServer.AddTool(touchTool, mcp.NewStructuredToolHandler(s.handleTouch))

	// TOOL: remove_session
	removeTool := mcp.NewTool("remove_session",
		mcp.WithDescription("Delete a session that no request currently holds."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithOutputSchema[RemoveResponse](),
	)
	s.mcpServer.AddTool(removeTool, mcp.NewStructuredToolHandler(s.handleRemove))
}

// Handler methods for structured tools

func sessionID(args map[string]interface{}) (string, error) {
	id, _ := args["id"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("id is required")
	}
	return id, nil
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (tui.SessionSummary, error) {
	id, err := sessionID(args)
	if err != nil {
		return tui.SessionSummary{}, err
	}

	res, err := s.provider.GetItem(ctx, id)
	if err != nil {
		return tui.SessionSummary{}, fmt.Errorf("read failed: %w", err)
	}
	if res.Record == nil && !res.Locked {
		return tui.SessionSummary{}, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}

	ttl, err := s.provider.Store().GetRemainingTTL(ctx, id)
	if err != nil {
		return tui.SessionSummary{}, fmt.Errorf("ttl failed: %w", err)
	}
	return tui.Summarize(id, res, ttl), nil
}

func (s *Server) handleTTL(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (TTLResponse, error) {
	id, err := sessionID(args)
	if err != nil {
		return TTLResponse{}, err
	}
	return s.ttl(ctx, id)
}

func (s *Server) handleTouch(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (TTLResponse, error) {
	id, err := sessionID(args)
	if err != nil {
		return TTLResponse{}, err
	}
	if err := s.provider.ResetItemTimeout(ctx, id); err != nil {
		return TTLResponse{}, fmt.Errorf("touch failed: %w", err)
	}
	return s.ttl(ctx, id)
}

func (s *Server) ttl(ctx context.Context, id string) (TTLResponse, error) {
	ttl, err := s.provider.Store().GetRemainingTTL(ctx, id)
	if err != nil {
		return TTLResponse{}, fmt.Errorf("ttl failed: %w", err)
	}
	return TTLResponse{
		ID:        id,
		Remaining: tui.FormatTTL(ttl),
		Exists:    ttl != 0,
	}, nil
}

func (s *Server) handleRemove(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RemoveResponse, error) {
	id, err := sessionID(args)
	if err != nil {
		return RemoveResponse{}, err
	}

	res, err := s.provider.GetItemExclusive(ctx, id)
	if err != nil {
		return RemoveResponse{}, fmt.Errorf("lock failed: %w", err)
	}
	if res.Locked {
		return RemoveResponse{}, fmt.Errorf("session %s is held by another request: %w", id, domain.ErrLockNotHeld)
	}
	if res.Record == nil {
		return RemoveResponse{ID: id}, nil
	}
	if err := s.provider.RemoveItem(ctx, id, res.LockID); err != nil {
		_ = s.provider.ReleaseItemExclusive(context.WithoutCancel(ctx), id, res.LockID)
		return RemoveResponse{}, fmt.Errorf("remove failed: %w", err)
	}
	s.logger.Info("Session removed", "session_id", id, "via", "mcp")
	return RemoveResponse{ID: id, Removed: true}, nil
}

func (s *Server) registerResources() {
	// EXPOSE: sessionstate://version
	s.mcpServer.AddResource(mcp.NewResource(VersionURI, "Session Version",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.versionInfo())
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      VersionURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}

func (s *Server) versionInfo() map[string]string {
	return map[string]string{
		"app":             strings.TrimSpace(sessionstate.Version),
		"session_version": s.provider.Version(),
	}
}
