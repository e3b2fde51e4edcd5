package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-ask.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (API keys, encryption keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Query engine policy (limits, timeouts, thresholds)
	Engine EngineConfig `yaml:"engine"`

	// Datasource connection management configuration
	Datasource DatasourceConfig `yaml:"datasource"`

	// Natural-language inference provider
	Inference InferenceConfig `yaml:"inference"`

	// MCP server exposed at /mcp
	MCP MCPConfig `yaml:"mcp"`

	// DescriptorsFile optionally points at a YAML file of connection descriptors that
	// are connected at startup and watched for credential changes.
	DescriptorsFile string `yaml:"descriptors_file" env:"DESCRIPTORS_FILE" env-default:""`

	// Credential encryption key for connection credential bundles held in memory.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	// A random key is generated when unset.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// EngineConfig holds the query engine's safety and execution policy.
type EngineConfig struct {
	// DefaultTimeout bounds materialize+execute+normalize for one run.
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"ENGINE_DEFAULT_TIMEOUT" env-default:"30s"`
	// CancelGrace is how long the coordinator waits for a cancelled backend call to return.
	CancelGrace time.Duration `yaml:"cancel_grace" env:"ENGINE_CANCEL_GRACE" env-default:"200ms"`
	// DefaultLimit is applied when the inferred intent has no limit.
	DefaultLimit int `yaml:"default_limit" env:"ENGINE_DEFAULT_LIMIT" env-default:"100"`
	// MaxLimit is the upper bound on any intent's result limit.
	MaxLimit int `yaml:"max_limit" env:"ENGINE_MAX_LIMIT" env-default:"1000"`
	// MaxPredicateDepth bounds the depth of the filter predicate tree.
	MaxPredicateDepth int `yaml:"max_predicate_depth" env:"ENGINE_MAX_PREDICATE_DEPTH" env-default:"10"`
	// MaxPipelineStages bounds pipeline dialects (document stores).
	MaxPipelineStages int `yaml:"max_pipeline_stages" env:"ENGINE_MAX_PIPELINE_STAGES" env-default:"12"`
	// ConfidenceThreshold is the minimum inference confidence that is executed.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"ENGINE_CONFIDENCE_THRESHOLD" env-default:"0.5"`
	// DocumentSampleSize is the number of documents sampled per collection during introspection.
	DocumentSampleSize int `yaml:"document_sample_size" env:"ENGINE_DOCUMENT_SAMPLE_SIZE" env-default:"30"`
	// KeyScanCount is the COUNT hint used for bounded key-value scans.
	KeyScanCount int `yaml:"key_scan_count" env:"ENGINE_KEY_SCAN_COUNT" env-default:"100"`
	// MaxDecimalDigits is the significant-digit bound preserved for decimal values.
	MaxDecimalDigits int `yaml:"max_decimal_digits" env:"ENGINE_MAX_DECIMAL_DIGITS" env-default:"38"`
}

// DatasourceConfig holds datasource connection management settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle datasource connections are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// MaxConnections limits concurrently pooled datasource connections.
	MaxConnections int `yaml:"max_connections" env:"DATASOURCE_MAX_CONNECTIONS" env-default:"50"`
	// PoolMaxConns is the maximum number of connections per datasource pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of connections per datasource pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
}

// MCPConfig controls the MCP tool surface.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"MCP_ENABLED" env-default:"true"`
	// AllowConnect exposes the connect and disconnect tools. Off by default so
	// agents can only query connections the operator registered.
	AllowConnect bool `yaml:"allow_connect" env:"MCP_ALLOW_CONNECT" env-default:"false"`
}

// InferenceConfig selects and configures the natural-language inference capability.
type InferenceConfig struct {
	// Provider is one of: keyword, openai, anthropic, wasm.
	Provider string `yaml:"provider" env:"INFERENCE_PROVIDER" env-default:"keyword"`
	Model    string `yaml:"model" env:"INFERENCE_MODEL" env-default:""`
	Endpoint string `yaml:"endpoint" env:"INFERENCE_ENDPOINT" env-default:""`
	APIKey   string `yaml:"-" env:"INFERENCE_API_KEY"` // Secret - not in YAML
	// PluginPath is the WebAssembly module used by the wasm provider.
	PluginPath string `yaml:"plugin_path" env:"INFERENCE_PLUGIN_PATH" env-default:""`
	// LLMExplain makes explain() use the same provider instead of templates.
	LLMExplain bool `yaml:"llm_explain" env:"INFERENCE_LLM_EXPLAIN" env-default:"false"`
	// Circuit breaker around provider calls.
	BreakerThreshold  int           `yaml:"breaker_threshold" env:"INFERENCE_BREAKER_THRESHOLD" env-default:"5"`
	BreakerResetAfter time.Duration `yaml:"breaker_reset_after" env:"INFERENCE_BREAKER_RESET_AFTER" env-default:"30s"`
}

// UsesLLM returns true if the provider talks to a language model endpoint.
func (c *InferenceConfig) UsesLLM() bool {
	return c.Provider == "openai" || c.Provider == "anthropic"
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit path. A missing file falls back to
// environment variables and defaults.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if err := cfg.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// Validate checks that engine limits are internally consistent.
func (e *EngineConfig) Validate() error {
	if e.MaxLimit <= 0 {
		return fmt.Errorf("max_limit must be positive, got %d", e.MaxLimit)
	}
	if e.DefaultLimit <= 0 || e.DefaultLimit > e.MaxLimit {
		return fmt.Errorf("default_limit must be in [1, %d], got %d", e.MaxLimit, e.DefaultLimit)
	}
	if e.MaxPredicateDepth <= 0 {
		return fmt.Errorf("max_predicate_depth must be positive, got %d", e.MaxPredicateDepth)
	}
	if e.ConfidenceThreshold < 0 || e.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0, 1], got %v", e.ConfidenceThreshold)
	}
	if e.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be positive, got %s", e.DefaultTimeout)
	}
	return nil
}

// DefaultEngineConfig returns the engine policy used when no configuration is loaded.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultTimeout:      30 * time.Second,
		CancelGrace:         200 * time.Millisecond,
		DefaultLimit:        100,
		MaxLimit:            1000,
		MaxPredicateDepth:   10,
		MaxPipelineStages:   12,
		ConfidenceThreshold: 0.5,
		DocumentSampleSize:  30,
		KeyScanCount:        100,
		MaxDecimalDigits:    38,
	}
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}
