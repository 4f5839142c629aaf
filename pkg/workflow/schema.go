package workflow

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed bindings.schema.yaml
var bindingsSchemaYAML []byte

var (
	schemaOnce     sync.Once
	bindingsSchema *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var doc any
		if err := yaml.Unmarshal(bindingsSchemaYAML, &doc); err != nil {
			schemaErr = fmt.Errorf("parse bindings schema: %w", err)
			return
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			schemaErr = fmt.Errorf("marshal bindings schema: %w", err)
			return
		}
		bindingsSchema, schemaErr = jsonschema.CompileString("bindings.schema.json", string(raw))
	})
	return bindingsSchema, schemaErr
}

// ParseBindings decodes a binding table from JSON or YAML and checks it
// against the embedded schema. Schema violations wrap ErrSchema.
func ParseBindings(data []byte) (*Bindings, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse bindings: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("parse bindings: empty document")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse bindings: %w", err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var inst any
	if err := dec.Decode(&inst); err != nil {
		return nil, fmt.Errorf("parse bindings: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return DecodeBindings(raw)
}

// LoadBindings reads and parses a binding table file.
func LoadBindings(path string) (*Bindings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bindings: %w", err)
	}
	b, err := ParseBindings(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}
