package mongodb

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Config contains MongoDB connection options.
type Config struct {
	URI        string
	Host       string
	Port       int
	Username   string
	Password   string
	Database   string
	AuthSource string
	TLS        bool
}

// DefaultPort returns the default MongoDB port.
func DefaultPort() int {
	return 27017
}

// FromCredentials creates a Config. A connection string (mongodb:// or
// mongodb+srv://) is used verbatim; the database then comes from Database or
// the URI path.
func FromCredentials(creds models.Credentials) (*Config, error) {
	cfg := &Config{
		URI:        creds.ConnectionString,
		Host:       creds.Host,
		Port:       creds.Port,
		Username:   creds.Username,
		Password:   creds.Password,
		Database:   creds.Database,
		AuthSource: creds.Option("auth_source", ""),
		TLS:        creds.SSLMode == "require" || creds.Option("tls", "") == "true",
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}
	if cfg.URI != "" && cfg.Database == "" {
		cfg.Database = databaseFromURI(cfg.URI)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config has what a connection needs.
func (c *Config) Validate() error {
	if c.URI != "" {
		if !strings.HasPrefix(c.URI, "mongodb://") && !strings.HasPrefix(c.URI, "mongodb+srv://") {
			return fmt.Errorf("connection string must start with mongodb:// or mongodb+srv://")
		}
	} else if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// ConnectionURI returns the URI handed to the driver. User info is escaped.
func (c *Config) ConnectionURI() string {
	if c.URI != "" {
		return c.URI
	}
	u := &url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(config.ResolveHostForDocker(c.Host), strconv.Itoa(c.Port)),
		Path:   "/",
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	q := url.Values{}
	if c.AuthSource != "" {
		q.Set("authSource", c.AuthSource)
	}
	if c.TLS {
		q.Set("tls", "true")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}
