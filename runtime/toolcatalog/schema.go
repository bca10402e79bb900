package toolcatalog

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compiledSchema wraps a compiled JSON Schema validator, or nil when a
// descriptor carries no schema (validation then always passes).
type compiledSchema struct {
	schema *jsonschema.Schema
}

// compile parses and compiles a descriptor's ArgsSchema once. resourceID
// just needs to be a stable, unique URI for the compiler's internal cache.
func compile(resourceID string, raw json.RawMessage) (compiledSchema, error) {
	if len(raw) == 0 {
		return compiledSchema{}, nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return compiledSchema{}, fmt.Errorf("toolcatalog: parse schema %s: %w", resourceID, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, doc); err != nil {
		return compiledSchema{}, fmt.Errorf("toolcatalog: add schema %s: %w", resourceID, err)
	}
	sch, err := compiler.Compile(resourceID)
	if err != nil {
		return compiledSchema{}, fmt.Errorf("toolcatalog: compile schema %s: %w", resourceID, err)
	}
	return compiledSchema{schema: sch}, nil
}

// validate checks args against the compiled schema, returning a
// human-readable detail string on failure (the validator's instance
// location) per SPEC_FULL.md's "structured tool-call argument validation
// errors carry the JSON Schema validator's path" supplement.
func (c compiledSchema) validate(args json.RawMessage) error {
	if c.schema == nil {
		return nil
	}
	var instance any
	if len(args) == 0 {
		instance = map[string]any{}
	} else if err := json.Unmarshal(args, &instance); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := c.schema.Validate(instance); err != nil {
		return err
	}
	return nil
}
