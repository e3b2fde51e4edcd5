package postgres

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "prefer", "require", "verify-ca", "verify-full"

	// ConnectionString is used verbatim when set; hosted services such as
	// Supabase and Neon hand out URLs with their own parameters.
	ConnectionString string
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// FromCredentials creates a Config from a connection's credential bundle.
func FromCredentials(creds models.Credentials) (*Config, error) {
	cfg := &Config{
		Host:             creds.Host,
		Port:             creds.Port,
		User:             creds.Username,
		Password:         creds.Password,
		Database:         creds.Database,
		SSLMode:          creds.SSLMode,
		ConnectionString: creds.ConnectionString,
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = DefaultSSLMode()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config has what a connection needs.
func (c *Config) Validate() error {
	if c.ConnectionString != "" {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}
