// Package descriptors loads connection descriptors from a YAML file and keeps
// the engine's connections in step with it.
package descriptors

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Entry is one named connection in a descriptors file. Name is the stable key
// used to match entries across reloads; the engine assigns its own id.
type Entry struct {
	Name                        string `yaml:"name"`
	models.ConnectionDescriptor `yaml:",inline"`
}

// File is the parsed descriptors file.
//
//	connections:
//	  - name: warehouse
//	    type: postgres
//	    nickname: Warehouse
//	    credentials:
//	      host: db.internal
//	      username: reader
//	      password: ${WAREHOUSE_PASSWORD}
type File struct {
	Connections []Entry `yaml:"connections"`
}

// Load reads and validates the descriptors file at path. ${VAR} references
// are expanded from the environment so secrets need not live in the file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptors file: %w", err)
	}
	f, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("descriptors file %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes descriptors from YAML. Unknown keys are rejected.
func Parse(raw []byte) (*File, error) {
	expanded := os.ExpandEnv(string(raw))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every entry is named uniquely and describes a connection.
func (f *File) Validate() error {
	seen := make(map[string]bool, len(f.Connections))
	for i, e := range f.Connections {
		if e.Name == "" {
			return fmt.Errorf("connection %d: name is required", i)
		}
		if seen[e.Name] {
			return fmt.Errorf("connection %q is defined more than once", e.Name)
		}
		seen[e.Name] = true
		if err := e.ConnectionDescriptor.Validate(); err != nil {
			return fmt.Errorf("connection %q: %w", e.Name, err)
		}
	}
	return nil
}

// Descriptor returns the entry's descriptor, defaulting the nickname to the name.
func (e Entry) Descriptor() models.ConnectionDescriptor {
	d := e.ConnectionDescriptor
	if d.Nickname == "" {
		d.Nickname = e.Name
	}
	return d
}
