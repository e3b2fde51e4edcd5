package redis

import (
	"encoding/json"
	"fmt"

	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// Redis value types as reported by TYPE.
const (
	TypeString = "string"
	TypeHash   = "hash"
	TypeList   = "list"
	TypeSet    = "set"
	TypeZSet   = "zset"
)

// KeyField is the synthetic field holding the id part of a key.
const KeyField = "key"

// ValueField holds the value of non-hash keys.
const ValueField = "value"

// Command is a materialized key-value read: either a fixed list of keys or
// a SCAN over a MATCH pattern, followed by a value fetch per key.
type Command struct {
	// Name is the primary command: GET, MGET, HGETALL, HMGET or SCAN.
	Name string `json:"command"`
	// Prefix is the entity prefix including the separator, e.g. "user:".
	Prefix string   `json:"prefix"`
	Keys   []string `json:"keys,omitempty"`
	Match  string   `json:"match,omitempty"`
	// Count is the SCAN COUNT hint.
	Count int64 `json:"count,omitempty"`
	// ValueType selects the fetch command; empty means probe each key with TYPE.
	ValueType string `json:"value_type,omitempty"`
	// Fields restricts hash fetches to HMGET of these fields.
	Fields []string `json:"fields,omitempty"`
	// Columns are output names; Sources holds the field each one reads.
	Columns  []string `json:"columns,omitempty"`
	Sources  []string `json:"sources,omitempty"`
	Limit    int      `json:"limit"`
	SortDesc bool     `json:"sort_desc,omitempty"`
}

// CommandName implements safety.Command.
func (c *Command) CommandName() string { return c.Name }

// IsScan reports whether keys come from SCAN.
func (c *Command) IsScan() bool { return len(c.Keys) == 0 }

// decodeCommand accepts a typed command or a hand-edited one decoded as generic JSON.
func decodeCommand(doc any) (*Command, error) {
	if c, ok := doc.(*Command); ok {
		return c, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	var c Command
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("command document is invalid: %w", err)
	}
	if c.Name == "" {
		return nil, fmt.Errorf("command document has no command")
	}
	if c.IsScan() && c.Match == "" {
		return nil, fmt.Errorf("scan command has no match pattern")
	}
	return &c, nil
}

var _ safety.Command = (*Command)(nil)
