package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

// fakeEngine is a configurable QueryEngine for tool tests.
type fakeEngine struct {
	connections []models.ConnectionDescriptor
	schema      *models.SchemaModel
	envelope    models.ResultEnvelope
	err         error

	lastDesc     models.ConnectionDescriptor
	lastQuestion string
	lastOptions  services.AskOptions
	lastQuery    *models.NativeQuery
	lastRefresh  bool
	lastExplain  *models.ResultEnvelope
}

func (f *fakeEngine) Connect(ctx context.Context, desc models.ConnectionDescriptor) (string, error) {
	f.lastDesc = desc
	if f.err != nil {
		return "", f.err
	}
	desc.ID = "c-new"
	desc.Status = models.StatusConnected
	f.connections = append(f.connections, desc.Redacted())
	return desc.ID, nil
}

func (f *fakeEngine) Disconnect(ctx context.Context, id string) error { return f.err }

func (f *fakeEngine) GetSchema(ctx context.Context, id string, forceRefresh bool) (*models.SchemaModel, error) {
	f.lastRefresh = forceRefresh
	return f.schema, f.err
}

func (f *fakeEngine) Ask(ctx context.Context, id, question string, opts services.AskOptions) *models.ResultEnvelope {
	f.lastQuestion = question
	f.lastOptions = opts
	env := f.envelope
	env.ConnectionID = id
	env.Question = question
	return &env
}

func (f *fakeEngine) Explain(ctx context.Context, env *models.ResultEnvelope) (string, error) {
	f.lastExplain = env
	return "Found 2 orders.", f.err
}

func (f *fakeEngine) Execute(ctx context.Context, id string, q *models.NativeQuery, opts services.AskOptions) *models.ResultEnvelope {
	f.lastQuery = q
	f.lastOptions = opts
	env := f.envelope
	env.ConnectionID = id
	env.Query = q
	return &env
}

func (f *fakeEngine) Test(ctx context.Context, desc models.ConnectionDescriptor) error { return f.err }

func (f *fakeEngine) Connection(id string) (models.ConnectionDescriptor, error) {
	for _, c := range f.connections {
		if c.ID == id {
			return c, nil
		}
	}
	return models.ConnectionDescriptor{}, apperrors.Wrap(apperrors.KindConnection, apperrors.StageConnect, apperrors.ErrNotFound, "connection %s", id)
}

func (f *fakeEngine) Connections() []models.ConnectionDescriptor { return f.connections }

func (f *fakeEngine) Reconnect(ctx context.Context, id string, creds *models.Credentials) error {
	return f.err
}

func (f *fakeEngine) AdapterTypes() []datasource.AdapterInfo { return nil }

// newToolServer registers every engine tool against engine.
func newToolServer(t *testing.T, engine *fakeEngine, allowConnect bool) *server.MCPServer {
	t.Helper()
	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	deps := &EngineToolDeps{Engine: engine, Logger: zaptest.NewLogger(t), AllowConnect: allowConnect}
	RegisterConnectionTools(s, deps)
	RegisterAskTools(s, deps)
	RegisterHealthTool(s, "1.0.0", deps)
	return s
}

// callTool executes an MCP tool via the server's HandleMessage method and
// returns the tool result, failing on a protocol error.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, rpcErr := callToolRaw(t, s, name, args)
	require.Nil(t, rpcErr, "unexpected protocol error")
	require.NotNil(t, result)
	return result
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func callToolRaw(t *testing.T, s *server.MCPServer, name string, args map[string]any) (*mcp.CallToolResult, *rpcError) {
	t.Helper()
	reqBytes, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"id":      1,
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	resultBytes, err := json.Marshal(s.HandleMessage(context.Background(), reqBytes))
	require.NoError(t, err)

	var response struct {
		Result *mcp.CallToolResult `json:"result,omitempty"`
		Error  *rpcError           `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))
	return response.Result, response.Error
}

func listTools(t *testing.T, s *server.MCPServer) map[string]bool {
	t.Helper()
	resultBytes, err := json.Marshal(s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)))
	require.NoError(t, err)
	var response struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))
	names := make(map[string]bool)
	for _, tool := range response.Result.Tools {
		names[tool.Name] = true
	}
	return names
}
