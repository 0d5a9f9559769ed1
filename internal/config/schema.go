package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	schemavalidate "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// JSONSchema returns the JSON Schema reflected from the Config struct,
// keyed by yaml field names. Useful for editor completion and for
// `locus config schema`.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:               "yaml",
			RequiredFromJSONSchemaTags: true,
		}
		schema := r.Reflect(&Config{})
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

// ValidateRawSchema checks a raw config map against the reflected schema.
// Decode errors from Load already reject unknown keys; this catches type
// mismatches with friendlier JSON-pointer locations.
func ValidateRawSchema(raw map[string]any) error {
	data, err := JSONSchema()
	if err != nil {
		return err
	}
	compiled, err := schemavalidate.CompileString("config.schema.json", string(data))
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	// The validator wants plain JSON values, so round-trip the map.
	payload, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return err
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}
	return nil
}
