package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache holds compiled schemas keyed by tool name. Schemas are
// fixed at registration time, so compiling once per tool is enough.
var schemaCache sync.Map

// ValidateArgs checks args against the tool's inlined JSON Schema.
// The args are round-tripped through JSON first so provider-decoded
// values and hand-built test maps validate identically.
func ValidateArgs(toolName string, schema map[string]any, args map[string]any) error {
	compiled, err := compiledSchema(toolName, schema)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshaling arguments: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("unmarshaling arguments: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("arguments do not match schema: %w", err)
	}
	return nil
}

func compiledSchema(toolName string, schema map[string]any) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(toolName); ok {
		return cached.(*jsonschema.Schema), nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema for %s: %w", toolName, err)
	}

	compiled, err := jsonschema.CompileString(toolName+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compiling schema for %s: %w", toolName, err)
	}

	schemaCache.Store(toolName, compiled)
	return compiled, nil
}

// DecodeArgs maps validated arguments onto a typed struct using its
// json tags. Numeric kinds convert across the JSON float64 boundary.
func DecodeArgs[T any](args map[string]any) (T, error) {
	var out T

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "json",
	})
	if err != nil {
		return out, fmt.Errorf("building decoder: %w", err)
	}

	if err := decoder.Decode(args); err != nil {
		return out, fmt.Errorf("decoding arguments: %w", err)
	}
	return out, nil
}
