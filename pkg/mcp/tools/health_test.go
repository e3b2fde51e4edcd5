package tools

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegisterHealthTool(t *testing.T) {
	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(s, "1.0.0", &EngineToolDeps{Engine: &fakeEngine{}, Logger: zaptest.NewLogger(t)})

	tools := listTools(t, s)
	assert.True(t, tools["health"])
	assert.Len(t, tools, 1)
}

func TestHealthTool_VersionWithSpecialChars(t *testing.T) {
	// Version strings with quotes must survive JSON encoding.
	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	versionWithQuotes := `1.0.0-beta"test`
	RegisterHealthTool(s, versionWithQuotes, &EngineToolDeps{Engine: &fakeEngine{}, Logger: zaptest.NewLogger(t)})

	result := callTool(t, s, "health", nil)

	var health healthResult
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, versionWithQuotes, health.Version)
	assert.Zero(t, health.Connections)
}
