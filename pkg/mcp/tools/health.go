package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type healthResult struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Connections int    `json:"connections"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status, version and connection count.
func RegisterHealthTool(s *server.MCPServer, version string, deps *EngineToolDeps) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version and the number of registered connections"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(healthResult{
			Status:      "ok",
			Version:     version,
			Connections: len(deps.Engine.Connections()),
		})
	})
}
