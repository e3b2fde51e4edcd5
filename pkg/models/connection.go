package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// BackendFamily is a class of database technology sharing a query model.
type BackendFamily string

const (
	FamilyRelational BackendFamily = "relational"
	FamilyDocument   BackendFamily = "document"
	FamilyKeyValue   BackendFamily = "keyvalue"
	FamilyWideColumn BackendFamily = "widecolumn"
)

// ValidFamilies contains all backend families in display order.
var ValidFamilies = []BackendFamily{FamilyRelational, FamilyDocument, FamilyKeyValue, FamilyWideColumn}

// IsValid returns true if f is a known backend family.
func (f BackendFamily) IsValid() bool {
	for _, v := range ValidFamilies {
		if f == v {
			return true
		}
	}
	return false
}

// ConnectionStatus is the lifecycle state of a registered connection.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// statusTransitions lists the allowed next states for each status.
var statusTransitions = map[ConnectionStatus][]ConnectionStatus{
	StatusConnecting:   {StatusConnected, StatusError, StatusDisconnected},
	StatusConnected:    {StatusConnecting, StatusError, StatusDisconnected},
	StatusError:        {StatusConnecting, StatusDisconnected},
	StatusDisconnected: {},
}

// CanTransition reports whether a connection may move from s to next.
func (s ConnectionStatus) CanTransition(next ConnectionStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Credentials is the credential bundle for one backend. The core treats it as
// opaque; only adapters read individual fields. It never renders its contents
// through fmt or JSON.
type Credentials struct {
	Host             string            `json:"host,omitempty" yaml:"host,omitempty"`
	Port             int               `json:"port,omitempty" yaml:"port,omitempty"`
	Database         string            `json:"database,omitempty" yaml:"database,omitempty"`
	Username         string            `json:"username,omitempty" yaml:"username,omitempty"`
	Password         string            `json:"password,omitempty" yaml:"password,omitempty"`
	ConnectionString string            `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`
	FilePath         string            `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	SSLMode          string            `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
	Keyspace         string            `json:"keyspace,omitempty" yaml:"keyspace,omitempty"`
	Options          map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// String implements fmt.Stringer without exposing any field.
func (c Credentials) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer so %#v cannot leak secrets either.
func (c Credentials) GoString() string { return "models.Credentials{[REDACTED]}" }

// MarshalJSON renders only the non-secret fields. Use SecretBundle to serialize
// the full bundle for sealing.
func (c Credentials) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Host     string `json:"host,omitempty"`
		Port     int    `json:"port,omitempty"`
		Database string `json:"database,omitempty"`
		Username string `json:"username,omitempty"`
		FilePath string `json:"file_path,omitempty"`
		Keyspace string `json:"keyspace,omitempty"`
	}{c.Host, c.Port, c.Database, c.Username, c.FilePath, c.Keyspace})
}

// MarshalYAML mirrors MarshalJSON for YAML output.
func (c Credentials) MarshalYAML() (any, error) {
	return map[string]any{
		"host":     c.Host,
		"port":     c.Port,
		"database": c.Database,
		"username": c.Username,
	}, nil
}

// SecretBundle is the unredacted serialization form of Credentials. It exists
// only so the registry can seal the bundle; never log or return it.
type SecretBundle Credentials

// IsZero returns true if no credential field is set.
func (c Credentials) IsZero() bool {
	return c.Host == "" && c.Port == 0 && c.Database == "" && c.Username == "" &&
		c.Password == "" && c.ConnectionString == "" && c.FilePath == "" &&
		c.SSLMode == "" && c.Keyspace == "" && len(c.Options) == 0
}

// Option returns a named adapter option or def when unset.
func (c Credentials) Option(name, def string) string {
	if v, ok := c.Options[name]; ok && v != "" {
		return v
	}
	return def
}

// ConnectionDescriptor describes one user-supplied connection.
// Owned by the connection registry; callers receive redacted copies.
type ConnectionDescriptor struct {
	ID            string           `json:"id" yaml:"-"`
	Type          string           `json:"type" yaml:"type"` // postgres, mysql, mongodb, redis, ...
	Family        BackendFamily    `json:"family" yaml:"family,omitempty"`
	Nickname      string           `json:"nickname" yaml:"nickname"`
	Credentials   Credentials      `json:"credentials,omitempty" yaml:"credentials"`
	Status        ConnectionStatus `json:"status" yaml:"-"`
	StatusMessage string           `json:"status_message,omitempty" yaml:"-"`
	CreatedAt     time.Time        `json:"created_at" yaml:"-"`
	LastUsed      *time.Time       `json:"last_used,omitempty" yaml:"-"`
}

// Redacted returns a copy safe to hand outside the core: credentials are cleared.
func (d ConnectionDescriptor) Redacted() ConnectionDescriptor {
	out := d
	out.Credentials = Credentials{}
	if d.LastUsed != nil {
		t := *d.LastUsed
		out.LastUsed = &t
	}
	return out
}

// Validate checks the caller-supplied parts of the descriptor.
func (d ConnectionDescriptor) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("connection type is required")
	}
	if d.Family != "" && !d.Family.IsValid() {
		return fmt.Errorf("unknown backend family %q", d.Family)
	}
	return nil
}

// DisplayName returns the nickname, falling back to the type.
func (d ConnectionDescriptor) DisplayName() string {
	if d.Nickname != "" {
		return d.Nickname
	}
	return d.Type
}
