package cassandra

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Config contains Cassandra/Scylla cluster options.
type Config struct {
	Hosts          []string
	Port           int
	Keyspace       string
	Username       string
	Password       string
	TLS            bool
	LocalDC        string
	Consistency    gocql.Consistency
	ConnectTimeout time.Duration
}

// DefaultPort returns the default CQL native protocol port.
func DefaultPort() int {
	return 9042
}

// FromCredentials creates a Config. Hosts come from a comma-separated
// connection string or Host; the keyspace from Keyspace or Database.
func FromCredentials(creds models.Credentials) (*Config, error) {
	cfg := &Config{
		Port:           creds.Port,
		Keyspace:       creds.Keyspace,
		Username:       creds.Username,
		Password:       creds.Password,
		TLS:            creds.SSLMode == "require",
		LocalDC:        creds.Option("local_dc", ""),
		Consistency:    gocql.LocalOne,
		ConnectTimeout: 10 * time.Second,
	}
	hosts := creds.ConnectionString
	if hosts == "" {
		hosts = creds.Host
	}
	for _, h := range strings.Split(hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			cfg.Hosts = append(cfg.Hosts, h)
		}
	}
	if cfg.Keyspace == "" {
		cfg.Keyspace = creds.Database
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}
	if c := creds.Option("consistency", ""); c != "" {
		level, err := gocql.ParseConsistencyWrapper(c)
		if err != nil {
			return nil, fmt.Errorf("invalid consistency %q: %w", c, err)
		}
		cfg.Consistency = level
	}
	if s := creds.Option("connect_timeout", ""); s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("connect_timeout must be a positive number of seconds, got %q", s)
		}
		cfg.ConnectTimeout = time.Duration(secs) * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config has what a connection needs.
func (c *Config) Validate() error {
	if len(c.Hosts) == 0 {
		return fmt.Errorf("at least one host is required")
	}
	if c.Keyspace == "" {
		return fmt.Errorf("keyspace is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// Cluster returns a cluster config. The driver never retries; a failed read
// is reported to the caller as is.
func (c *Config) Cluster(numConns int) *gocql.ClusterConfig {
	hosts := make([]string, len(c.Hosts))
	for i, h := range c.Hosts {
		hosts[i] = config.ResolveHostForDocker(h)
	}
	cluster := gocql.NewCluster(hosts...)
	cluster.Port = c.Port
	cluster.Keyspace = c.Keyspace
	cluster.ProtoVersion = 4
	cluster.Consistency = c.Consistency
	cluster.ConnectTimeout = c.ConnectTimeout
	cluster.Timeout = c.ConnectTimeout
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 0}
	if numConns > 0 {
		cluster.NumConns = numConns
	}
	if c.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: c.Username, Password: c.Password}
	}
	if c.TLS {
		cluster.SslOpts = &gocql.SslOptions{EnableHostVerification: true}
	}
	if c.LocalDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(c.LocalDC))
	}
	return cluster
}
