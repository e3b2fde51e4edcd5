package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NativeQuery is the backend-specific materialization of one QueryIntent:
// statement text for SQL/CQL dialects or a structured document for pipeline
// and command dialects. Bound values live in Params, never in Statement.
type NativeQuery struct {
	Dialect   string        `json:"dialect"`
	Family    BackendFamily `json:"family,omitempty"`
	Statement string        `json:"-"`
	Document  any           `json:"-"`
	Params    []any         `json:"params,omitempty"`
	// Target is the collection, table or key prefix a structured document applies to.
	Target   string `json:"target,omitempty"`
	IntentID string `json:"intent_id,omitempty"`
	// MaxRows caps how many rows the executor reads.
	MaxRows int `json:"max_rows,omitempty"`
}

// Native returns the statement text or the structured document.
func (n *NativeQuery) Native() any {
	if n.Statement != "" {
		return n.Statement
	}
	return n.Document
}

// IsStructured reports whether the query is a document rather than text.
func (n *NativeQuery) IsStructured() bool {
	return n.Statement == "" && n.Document != nil
}

// String renders the native form for logs and explanations.
func (n *NativeQuery) String() string {
	if n == nil {
		return ""
	}
	if n.Statement != "" {
		return n.Statement
	}
	raw, err := json.Marshal(n.Document)
	if err != nil {
		return fmt.Sprintf("%v", n.Document)
	}
	return string(raw)
}

type nativeQueryJSON struct {
	Dialect  string          `json:"dialect"`
	Family   BackendFamily   `json:"family,omitempty"`
	Native   json.RawMessage `json:"native"`
	Params   []any           `json:"params,omitempty"`
	Target   string          `json:"target,omitempty"`
	IntentID string          `json:"intent_id,omitempty"`
	MaxRows  int             `json:"max_rows,omitempty"`
}

// MarshalJSON renders {dialect, native, ...} where native is a string or an object.
func (n NativeQuery) MarshalJSON() ([]byte, error) {
	native, err := json.Marshal(n.Native())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal native query: %w", err)
	}
	return json.Marshal(nativeQueryJSON{
		Dialect:  n.Dialect,
		Family:   n.Family,
		Native:   native,
		Params:   n.Params,
		Target:   n.Target,
		IntentID: n.IntentID,
		MaxRows:  n.MaxRows,
	})
}

// UnmarshalJSON accepts a string native (statement) or an object/array
// native (document decoded as generic JSON). Numbers decode as json.Number.
func (n *NativeQuery) UnmarshalJSON(data []byte) error {
	var raw nativeQueryJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*n = NativeQuery{
		Dialect:  raw.Dialect,
		Family:   raw.Family,
		Params:   raw.Params,
		Target:   raw.Target,
		IntentID: raw.IntentID,
		MaxRows:  raw.MaxRows,
	}
	trimmed := bytes.TrimSpace(raw.Native)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &n.Statement)
	}
	var doc any
	docDec := json.NewDecoder(bytes.NewReader(trimmed))
	docDec.UseNumber()
	if err := docDec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid native document: %w", err)
	}
	n.Document = doc
	return nil
}

// Dialect identifies the native query language an adapter speaks.
type Dialect struct {
	Name   string        `json:"name"`
	Family BackendFamily `json:"family"`
}

// IsPipeline reports whether the dialect materializes to a stage pipeline.
func (d Dialect) IsPipeline() bool { return d.Family == FamilyDocument }
