package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Cell is one named value of a row.
type Cell struct {
	Name  string
	Value any
}

// Row is an ordered mapping from field name to value. It serializes as a JSON
// object whose keys keep projection order.
type Row []Cell

// Get returns the value of the named field.
func (r Row) Get(name string) (any, bool) {
	for _, c := range r {
		if c.Name == name {
			return c.Value, true
		}
	}
	return nil, false
}

// Names returns the field names in order.
func (r Row) Names() []string {
	names := make([]string, len(r))
	for i, c := range r {
		names[i] = c.Name
	}
	return names
}

// MarshalJSON writes the row as an object preserving field order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", c.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object preserving key order. Numbers decode as json.Number.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("row must be a JSON object")
	}
	var out Row
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("row key must be a string")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		out = append(out, Cell{Name: key, Value: value})
	}
	*r = out
	return nil
}

// Note kinds recorded in envelope metadata for lossy or re-encoded values.
const (
	NotePrecisionTruncated = "precision_truncated"
	NoteBinaryEncoded      = "binary_base64"
	NoteNonFinite          = "non_finite_as_null"
	NoteRowCap             = "row_cap_reached"
)

// Note documents a lossy or re-encoded conversion applied during normalization.
type Note struct {
	Column string `json:"column,omitempty"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// EnvelopeError is the wire form of a failed run.
type EnvelopeError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Stage      string `json:"stage"`
	Suggestion string `json:"suggestion,omitempty"`
	// Retryable marks failures a caller may re-run manually (e.g. timeouts).
	Retryable bool `json:"retryable,omitempty"`
}

// ResultEnvelope is the uniform response of a run, successful or not.
type ResultEnvelope struct {
	ConnectionID    string         `json:"connectionId,omitempty"`
	Question        string         `json:"question,omitempty"`
	Query           *NativeQuery   `json:"query"`
	Columns         []string       `json:"columns"`
	Rows            []Row          `json:"rows"`
	RowCount        int            `json:"rowCount"`
	HasMore         bool           `json:"hasMore"`
	ExecutionTimeMs float64        `json:"executionTimeMs"`
	Error           *EnvelopeError `json:"error"`
	Notes           []Note         `json:"notes,omitempty"`
	Intent          *QueryIntent   `json:"intent,omitempty"`
}

// Failed reports whether the envelope carries an error.
func (e *ResultEnvelope) Failed() bool { return e.Error != nil }

// AddNote appends a note unless an identical one is already present.
func (e *ResultEnvelope) AddNote(n Note) {
	for _, existing := range e.Notes {
		if existing == n {
			return
		}
	}
	e.Notes = append(e.Notes, n)
}

// MarshalJSON guarantees rows and columns serialize as arrays, never null.
func (e ResultEnvelope) MarshalJSON() ([]byte, error) {
	type alias ResultEnvelope
	out := alias(e)
	if out.Rows == nil {
		out.Rows = []Row{}
	}
	if out.Columns == nil {
		out.Columns = []string{}
	}
	return json.Marshal(out)
}
