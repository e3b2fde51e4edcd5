package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

// RegisterAskTools registers the question, native query and explain tools.
func RegisterAskTools(s *server.MCPServer, deps *EngineToolDeps) {
	registerAskTool(s, deps)
	registerExecuteTool(s, deps)
	registerExplainTool(s, deps)
}

// runOptions reads the shared timeout_ms and result_limit arguments.
func runOptions(req mcp.CallToolRequest) (services.AskOptions, error) {
	timeout, err := getOptionalInt(req, "timeout_ms")
	if err != nil {
		return services.AskOptions{}, err
	}
	limit, err := getOptionalInt(req, "result_limit")
	if err != nil {
		return services.AskOptions{}, err
	}
	return services.AskOptions{TimeoutMs: timeout, ResultLimit: limit}, nil
}

// envelopeResult returns the envelope as the tool result, flagged as an
// error when the run failed so the caller sees the failure kind.
func envelopeResult(env *models.ResultEnvelope) (*mcp.CallToolResult, error) {
	result, err := jsonResult(env)
	if err != nil {
		return nil, err
	}
	result.IsError = env.Failed()
	return result, nil
}

func registerAskTool(s *server.MCPServer, deps *EngineToolDeps) {
	tool := mcp.NewTool(
		"ask",
		mcp.WithDescription("Answer a natural-language question against a connection. "+
			"Returns the generated native query, columns, rows and row count. "+
			"Only read queries are generated; results are capped."),
		mcp.WithString("connection_id", mcp.Required(), mcp.Description("Connection id from list_connections")),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question, e.g. \"top 5 customers by total spend\"")),
		mcp.WithArray("recent_entities",
			mcp.Description("Entities discussed most recently, newest first; used to break ties"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithNumber("timeout_ms", mcp.Description("Run timeout in milliseconds (default 30000)")),
		mcp.WithNumber("result_limit", mcp.Description("Maximum rows to return")),
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
		question, err := req.RequireString("question")
		if err != nil || trimString(question) == "" {
			return NewErrorResult("invalid_parameters", "question is required"), nil
		}
		opts, err := runOptions(req)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		opts.RecentEntities = getStringSlice(req, "recent_entities")

		env := deps.Engine.Ask(ctx, trimString(id), trimString(question), opts)
		deps.Logger.Debug("Answered question over MCP",
			zap.String("connection_id", env.ConnectionID),
			zap.Int("rows", env.RowCount),
			zap.Bool("failed", env.Failed()))
		return envelopeResult(env)
	})
}

func registerExecuteTool(s *server.MCPServer, deps *EngineToolDeps) {
	tool := mcp.NewTool(
		"execute",
		mcp.WithDescription("Re-run a native query, typically an edited query from an earlier ask result. "+
			"The query is validated as read-only and bounded before it runs."),
		mcp.WithString("connection_id", mcp.Required(), mcp.Description("Connection id from list_connections")),
		mcp.WithObject("query", mcp.Required(),
			mcp.Description("Native query as returned by ask: {dialect, native, target, params}. "+
				"native is statement text or a pipeline/command document")),
		mcp.WithNumber("timeout_ms", mcp.Description("Run timeout in milliseconds (default 30000)")),
		mcp.WithNumber("result_limit", mcp.Description("Maximum rows to return")),
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
		var q models.NativeQuery
		if err := decodeArgument(req, "query", &q); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if q.Native() == nil {
			return NewErrorResult("invalid_parameters", "query.native is required"), nil
		}
		opts, err := runOptions(req)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		return envelopeResult(deps.Engine.Execute(ctx, trimString(id), &q, opts))
	})
}

func registerExplainTool(s *server.MCPServer, deps *EngineToolDeps) {
	tool := mcp.NewTool(
		"explain",
		mcp.WithDescription("Summarize an ask or execute result in plain language."),
		mcp.WithObject("envelope", mcp.Required(), mcp.Description("The result returned by ask or execute")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var env models.ResultEnvelope
		if err := decodeArgument(req, "envelope", &env); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		text, err := deps.Engine.Explain(ctx, &env)
		if err != nil {
			return engineErrorResult(err)
		}
		return jsonResult(map[string]string{"explanation": text})
	})
}
