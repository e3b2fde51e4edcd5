// Package mcp exposes the query engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

// Server wraps the mcp-go MCPServer.
type Server struct {
	mcp     *server.MCPServer
	version string
	logger  *zap.Logger
}

// NewServer creates a new MCP server instance. Panics in tool handlers are
// recovered and reported as tool errors.
func NewServer(name, version string, logger *zap.Logger) *Server {
	logger = logger.Named("mcp")

	hooks := &server.Hooks{}
	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		logger.Warn("MCP request failed",
			zap.String("method", string(method)),
			zap.Any("id", id),
			zap.Error(err))
	})

	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)

	return &Server{
		mcp:     mcpServer,
		version: version,
		logger:  logger,
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// RegisterEngineTools registers the connection, ask and health tools backed by engine.
func (s *Server) RegisterEngineTools(engine services.QueryEngine, allowConnect bool) {
	deps := &tools.EngineToolDeps{Engine: engine, Logger: s.logger, AllowConnect: allowConnect}
	tools.RegisterConnectionTools(s.mcp, deps)
	tools.RegisterAskTools(s.mcp, deps)
	tools.RegisterHealthTool(s.mcp, s.version, deps)
}

// NewStreamableHTTPServer creates an HTTP transport server wrapping this MCP server.
// The HTTP mux handles routing to /mcp, so no endpoint path is configured here.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}

// ServeStdio serves the tools over stdin and stdout until ctx ends.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// RegisterTool is a convenience wrapper for registering a tool.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}
