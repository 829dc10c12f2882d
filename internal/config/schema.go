package config

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/man-su-97/rag-chatbot/pkg/models"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

var durationType = reflect.TypeOf(time.Duration(0))

// schemaEnums lists the closed value sets per definition and property.
func schemaEnums() map[string]map[string][]any {
	providers := make([]any, 0, len(models.Providers))
	for _, p := range models.Providers {
		providers = append(providers, string(p))
	}
	return map[string]map[string][]any{
		"LLMConfig":      {"default_provider": providers},
		"FallbackConfig": {"provider": providers},
		"MemoryConfig":   {"backend": {BackendMemory, BackendPostgres, BackendSQLite}},
		"SQLiteMemoryConfig": {
			"driver": {"sqlite", "sqlite3"},
		},
		"LocksConfig":   {"backend": {BackendLocal, BackendPostgres}},
		"LoggingConfig": {"level": {"debug", "info", "warn", "error"}, "format": {"json", "text"}},
	}
}

// JSONSchema returns the JSON Schema for the config file, keyed by its yaml
// field names. Durations are strings such as "30s".
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag: "yaml",
			Mapper: func(t reflect.Type) *jsonschema.Schema {
				if t == durationType {
					return &jsonschema.Schema{
						Type:        "string",
						Pattern:     `^(\d+(\.\d+)?(ns|us|µs|ms|s|m|h))+$`,
						Description: "Go duration, for example 500ms or 5m",
					}
				}
				return nil
			},
		}
		schema := r.Reflect(&Config{})
		schema.Title = "chatbot configuration"
		for def, props := range schemaEnums() {
			d, ok := schema.Definitions[def]
			if !ok || d.Properties == nil {
				continue
			}
			for name, values := range props {
				if p, ok := d.Properties.Get(name); ok {
					p.Enum = values
				}
			}
		}
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}
