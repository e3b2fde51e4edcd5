package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	extism "github.com/extism/go-sdk"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// pluginEntryPoint is the export a plugin must provide. It receives a
// pluginRequest as JSON and answers with the intent JSON.
const pluginEntryPoint = "infer"

type pluginRequest struct {
	RequestID      string              `json:"request_id"`
	Question       string              `json:"question"`
	Schema         *models.SchemaModel `json:"schema"`
	RecentEntities []string            `json:"recent_entities,omitempty"`
}

// PluginInferrer runs inference inside a WebAssembly plugin. Calls are
// serialized because a plugin instance is not safe for concurrent use.
type PluginInferrer struct {
	mu     sync.Mutex
	plugin *extism.Plugin
	path   string
	logger *zap.Logger
}

// NewPluginInferrer loads the plugin at path with WASI enabled.
func NewPluginInferrer(ctx context.Context, path string, logger *zap.Logger) (*PluginInferrer, error) {
	if path == "" {
		return nil, fmt.Errorf("inference plugin path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("inference plugin: %w", err)
	}
	manifest := extism.Manifest{Wasm: []extism.Wasm{extism.WasmFile{Path: path}}}
	plugin, err := extism.NewPlugin(ctx, manifest, extism.PluginConfig{EnableWasi: true}, nil)
	if err != nil {
		return nil, fmt.Errorf("load inference plugin %s: %w", path, err)
	}
	if !plugin.FunctionExists(pluginEntryPoint) {
		_ = plugin.Close(ctx)
		return nil, fmt.Errorf("inference plugin %s does not export %q", path, pluginEntryPoint)
	}
	return &PluginInferrer{plugin: plugin, path: path, logger: logger.Named("plugin-inferrer")}, nil
}

func (p *PluginInferrer) Infer(ctx context.Context, req InferRequest) (*Inference, error) {
	input, err := json.Marshal(pluginRequest{
		RequestID:      req.RequestID,
		Question:       req.Question,
		Schema:         req.Schema,
		RecentEntities: req.RecentEntities,
	})
	if err != nil {
		return nil, fmt.Errorf("encode plugin request: %w", err)
	}

	p.mu.Lock()
	exit, output, err := p.plugin.CallWithContext(ctx, pluginEntryPoint, input)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference plugin call: %w", err)
	}
	if exit != 0 {
		return nil, fmt.Errorf("inference plugin exited with code %d", exit)
	}

	inf, err := decodeInference(string(output))
	if err != nil {
		p.logger.Warn("Unusable plugin reply", zap.String("plugin", p.path), zap.Error(err))
		return nil, err
	}
	return inf, nil
}

// Close releases the plugin runtime.
func (p *PluginInferrer) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plugin.Close(ctx)
}
