// Package schema reflects Go argument structs into the JSON-Schema
// payloads tool definitions carry.
package schema

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Reflect builds an inline object schema from the struct's fields and
// json/jsonschema tags. Falls back to a bare object schema if marshalling
// fails, so a tool never registers without one.
func Reflect(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(v)
	s.Version = ""
	payload, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
