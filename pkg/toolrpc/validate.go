package toolrpc

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compiledSchema validates tool arguments. A nil inner schema accepts
// anything, which is what a tool with an empty inputSchema declares.
type compiledSchema struct {
	schema *jsonschema.Schema
}

// compileSchema compiles a tool's inputSchema document. The document is
// round-tripped through encoding/json first so the compiler sees the same
// value shapes (float64 numbers, map[string]any objects) it would see for a
// schema arriving off the wire.
func compileSchema(doc map[string]any) (*compiledSchema, error) {
	if len(doc) == 0 {
		return &compiledSchema{}, nil
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("normalize schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool.json", normalized); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("tool.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &compiledSchema{schema: schema}, nil
}

// validate checks args against the schema. Arguments built in process may
// carry native Go numbers, so they are normalized through encoding/json the
// same way the schema was.
func (s *compiledSchema) validate(args map[string]any) error {
	if s == nil || s.schema == nil {
		return nil
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return fmt.Errorf("normalize arguments: %w", err)
	}

	if err := s.schema.Validate(normalized); err != nil {
		return fmt.Errorf("arguments do not match schema: %v", err)
	}
	return nil
}
