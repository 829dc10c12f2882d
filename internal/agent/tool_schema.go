package agent

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// ReflectSchema builds a tool parameter schema from a Go struct. Fields
// without omitempty are required and unknown properties are rejected.
func ReflectSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	// Provider function-calling APIs reject meta keywords.
	schema.Version = ""
	schema.ID = ""

	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}
