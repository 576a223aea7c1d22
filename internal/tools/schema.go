package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema generates an inlined JSON Schema for an argument struct using
// its json and jsonschema tags. The result has no $ref indirection and
// no $schema/$id/title noise, so it can go straight into a provider
// tool definition.
func Schema[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling schema: %w", err)
	}

	delete(m, "$schema")
	delete(m, "$id")
	delete(m, "title")

	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}

	return m, nil
}

// MustSchema is Schema for package-level tool construction, where a
// malformed argument struct is a programming error.
func MustSchema[T any]() map[string]any {
	m, err := Schema[T]()
	if err != nil {
		panic(fmt.Sprintf("tools: schema generation failed: %v", err))
	}
	return m
}
