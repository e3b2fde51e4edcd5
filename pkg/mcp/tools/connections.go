package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

// EngineToolDeps contains dependencies for the engine tools.
type EngineToolDeps struct {
	Engine services.QueryEngine
	Logger *zap.Logger
	// AllowConnect exposes the connect and disconnect tools. Deployments that
	// preload connections from a descriptors file usually leave it off.
	AllowConnect bool
}

// RegisterConnectionTools registers tools that manage connections and schemas.
func RegisterConnectionTools(s *server.MCPServer, deps *EngineToolDeps) {
	registerListConnectionsTool(s, deps)
	registerGetSchemaTool(s, deps)
	if deps.AllowConnect {
		registerConnectTool(s, deps)
		registerDisconnectTool(s, deps)
	}
}

func registerListConnectionsTool(s *server.MCPServer, deps *EngineToolDeps) {
	tool := mcp.NewTool(
		"list_connections",
		mcp.WithDescription("List registered data source connections with their type, family and status. "+
			"Use a connection's id with get_schema, ask and execute."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		response := struct {
			Connections []models.ConnectionDescriptor `json:"connections"`
		}{Connections: deps.Engine.Connections()}
		if response.Connections == nil {
			response.Connections = []models.ConnectionDescriptor{}
		}
		return jsonResult(response)
	})
}

func registerGetSchemaTool(s *server.MCPServer, deps *EngineToolDeps) {
	tool := mcp.NewTool(
		"get_schema",
		mcp.WithDescription("Get the entities (tables, collections, key patterns), fields and relationship hints of a connection. "+
			"The schema is cached; set refresh to re-introspect the backend."),
		mcp.WithString("connection_id", mcp.Required(), mcp.Description("Connection id from list_connections")),
		mcp.WithBoolean("refresh", mcp.Description("Re-introspect instead of using the cached schema (default: false)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("connection_id")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		refresh, _ := getOptionalBool(req, "refresh")

		schema, err := deps.Engine.GetSchema(ctx, trimString(id), refresh)
		if err != nil {
			return engineErrorResult(err)
		}
		return jsonResult(schema)
	})
}

func registerConnectTool(s *server.MCPServer, deps *EngineToolDeps) {
	tool := mcp.NewTool(
		"connect",
		mcp.WithDescription("Connect a data source and return its connection id. "+
			"Supply either discrete fields (host, port, database, username, password) or a connection_string."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Backend type, e.g. postgres, mysql, sqlite, mongodb, redis, cassandra")),
		mcp.WithString("nickname", mcp.Description("Display name for the connection")),
		mcp.WithString("host", mcp.Description("Server host")),
		mcp.WithNumber("port", mcp.Description("Server port")),
		mcp.WithString("database", mcp.Description("Database, schema or numeric Redis database")),
		mcp.WithString("username", mcp.Description("User name")),
		mcp.WithString("password", mcp.Description("Password")),
		mcp.WithString("connection_string", mcp.Description("Full connection URI; overrides discrete fields")),
		mcp.WithString("file_path", mcp.Description("Database file for file-based backends")),
		mcp.WithString("keyspace", mcp.Description("Keyspace for wide-column backends")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		backend, err := req.RequireString("type")
		if err != nil || trimString(backend) == "" {
			return NewErrorResult("invalid_parameters", "type is required"), nil
		}
		port, err := getOptionalInt(req, "port")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		desc := models.ConnectionDescriptor{
			Type:     trimString(backend),
			Nickname: getOptionalString(req, "nickname"),
			Credentials: models.Credentials{
				Host:             getOptionalString(req, "host"),
				Port:             port,
				Database:         getOptionalString(req, "database"),
				Username:         getOptionalString(req, "username"),
				Password:         getOptionalString(req, "password"),
				ConnectionString: getOptionalString(req, "connection_string"),
				FilePath:         getOptionalString(req, "file_path"),
				Keyspace:         getOptionalString(req, "keyspace"),
			},
		}

		id, err := deps.Engine.Connect(ctx, desc)
		if err != nil {
			return engineErrorResult(err)
		}
		registered, err := deps.Engine.Connection(id)
		if err != nil {
			return engineErrorResult(err)
		}
		deps.Logger.Info("Connection registered over MCP",
			zap.String("connection_id", id),
			zap.String("type", registered.Type))
		return jsonResult(registered)
	})
}

func registerDisconnectTool(s *server.MCPServer, deps *EngineToolDeps) {
	tool := mcp.NewTool(
		"disconnect",
		mcp.WithDescription("Close a connection and forget it. Runs already queued on it finish first."),
		mcp.WithString("connection_id", mcp.Required(), mcp.Description("Connection id from list_connections")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("connection_id")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if err := deps.Engine.Disconnect(ctx, trimString(id)); err != nil {
			return engineErrorResult(err)
		}
		return jsonResult(map[string]any{"connection_id": trimString(id), "disconnected": true})
	})
}
