package redis

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Config contains Redis connection options.
type Config struct {
	URL      string
	Host     string
	Port     int
	Username string
	Password string
	DB       int
	TLS      bool
	// Separator splits a key into its entity prefix and id, e.g. "user:42".
	Separator string
}

// DefaultPort returns the default Redis port.
func DefaultPort() int {
	return 6379
}

// DefaultSeparator is the conventional Redis key namespace separator.
const DefaultSeparator = ":"

// FromCredentials creates a Config. The database index comes from the
// "db" option, falling back to Database when it is numeric.
func FromCredentials(creds models.Credentials) (*Config, error) {
	cfg := &Config{
		URL:       creds.ConnectionString,
		Host:      creds.Host,
		Port:      creds.Port,
		Username:  creds.Username,
		Password:  creds.Password,
		TLS:       creds.SSLMode == "require" || creds.Option("tls", "") == "true",
		Separator: creds.Option("separator", DefaultSeparator),
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}
	db := creds.Option("db", creds.Database)
	if db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("db index must be a number, got %q", db)
		}
		cfg.DB = n
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config has what a connection needs.
func (c *Config) Validate() error {
	if c.URL != "" {
		if !strings.HasPrefix(c.URL, "redis://") && !strings.HasPrefix(c.URL, "rediss://") {
			return fmt.Errorf("connection string must start with redis:// or rediss://")
		}
	} else if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.DB < 0 {
		return fmt.Errorf("invalid db index: %d", c.DB)
	}
	if c.Separator == "" {
		return fmt.Errorf("key separator must not be empty")
	}
	return nil
}

// Options returns driver options. A connection URL wins over discrete fields.
func (c *Config) Options() (*redis.Options, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opts, nil
	}
	opts := &redis.Options{
		Addr:     net.JoinHostPort(config.ResolveHostForDocker(c.Host), strconv.Itoa(c.Port)),
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
	}
	if c.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: c.Host}
	}
	return opts, nil
}
