package mssql

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Authentication methods.
const (
	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string

	// AuthMethod determines which authentication to use: "sql" or "service_principal".
	AuthMethod string

	// SQL Authentication fields
	Username string
	Password string

	// Service Principal (Azure AD) fields
	TenantID     string
	ClientID     string
	ClientSecret string

	// Connection options
	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromCredentials creates a Config from a credential bundle and auto-detects
// the auth method. Azure fields and connection flags come from Options.
func FromCredentials(creds models.Credentials) (*Config, error) {
	cfg := &Config{
		Host:                   creds.Host,
		Port:                   creds.Port,
		Database:               creds.Database,
		Username:               creds.Username,
		Password:               creds.Password,
		TenantID:               creds.Option("tenant_id", ""),
		ClientID:               creds.Option("client_id", ""),
		ClientSecret:           creds.Option("client_secret", ""),
		Encrypt:                creds.Option("encrypt", "true") != "false" && creds.SSLMode != "disable",
		TrustServerCertificate: creds.Option("trust_server_certificate", "false") == "true",
		ConnectionTimeout:      DefaultConnectionTimeout(),
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}
	if t, err := strconv.Atoi(creds.Option("connection_timeout", "")); err == nil && t > 0 {
		cfg.ConnectionTimeout = t
	}

	// Priority: explicit option > client_id > username
	switch {
	case creds.Option("auth_method", "") != "":
		cfg.AuthMethod = creds.Option("auth_method", "")
	case cfg.ClientID != "":
		cfg.AuthMethod = AuthServicePrincipal
	case cfg.Username != "":
		cfg.AuthMethod = AuthSQL
	default:
		return nil, fmt.Errorf("could not auto-detect auth method; no credentials provided")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the config has all required fields for the selected auth method.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.AuthMethod {
	case AuthSQL:
		if c.Username == "" {
			return fmt.Errorf("username is required for SQL authentication")
		}
	case AuthServicePrincipal:
		if c.TenantID == "" {
			return fmt.Errorf("tenant_id is required for service principal")
		}
		if c.ClientID == "" {
			return fmt.Errorf("client_id is required for service principal")
		}
		if c.ClientSecret == "" {
			return fmt.Errorf("client_secret is required for service principal")
		}
	default:
		return fmt.Errorf("invalid auth method: %s (must be sql or service_principal)", c.AuthMethod)
	}
	return nil
}

// DriverName returns the database/sql driver for the auth method.
// Azure AD service principals go through the azuresql driver.
func (c *Config) DriverName() string {
	if c.AuthMethod == AuthServicePrincipal {
		return "azuresql"
	}
	return "sqlserver"
}

// ConnectionString builds the sqlserver:// URL for the auth method.
func (c *Config) ConnectionString() string {
	query := url.Values{}
	query.Add("database", c.Database)
	if c.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}
	if c.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if c.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(c.ConnectionTimeout))
	}
	host := config.ResolveHostForDocker(c.Host)

	if c.AuthMethod == AuthServicePrincipal {
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", c.ClientID+"@"+c.TenantID)
		query.Add("password", c.ClientSecret)
		return fmt.Sprintf("sqlserver://%s:%d?%s", host, c.Port, query.Encode())
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", host, c.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}
