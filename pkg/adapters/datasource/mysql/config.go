package mysql

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Config contains MySQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// TLS is a go-sql-driver tls value: "true", "false", "skip-verify" or "preferred".
	TLS string
	// DSN is used verbatim when set.
	DSN string
}

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// tlsFromSSLMode maps libpq-style ssl modes onto driver tls values so every
// relational connection accepts the same credential vocabulary.
func tlsFromSSLMode(mode string) string {
	switch mode {
	case "", "prefer", "preferred":
		return "preferred"
	case "disable", "false":
		return "false"
	case "skip-verify", "allow":
		return "skip-verify"
	default:
		return "true"
	}
}

// FromCredentials creates a Config from a connection's credential bundle.
func FromCredentials(creds models.Credentials) (*Config, error) {
	cfg := &Config{
		Host:     creds.Host,
		Port:     creds.Port,
		User:     creds.Username,
		Password: creds.Password,
		Database: creds.Database,
		TLS:      tlsFromSSLMode(creds.SSLMode),
		DSN:      creds.ConnectionString,
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}
	if cfg.DSN != "" {
		return cfg, nil
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database is required")
	}
	return cfg, nil
}

// FormatDSN renders the driver DSN. Times are parsed into time.Time in UTC.
func (c *Config) FormatDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	dc := mysql.NewConfig()
	dc.User = c.User
	dc.Passwd = c.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(config.ResolveHostForDocker(c.Host), strconv.Itoa(c.Port))
	dc.DBName = c.Database
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.Timeout = 10 * time.Second
	dc.TLSConfig = c.TLS
	return dc.FormatDSN()
}
