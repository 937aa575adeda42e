package config

import (
	_ "embed"
	"fmt"
	"sync"

	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed config_schema_v1.json
var schemaV1Bytes []byte

var (
	schemaV1   *gojsonschema.Schema
	schemaOnce sync.Once
	schemaErr  error
)

// loadSchema compiles the embedded config schema once.
func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if len(schemaV1Bytes) == 0 {
			schemaErr = aserrors.NewConfigError("embedded schema 'config_schema_v1.json' is empty", nil)
			return
		}
		schemaV1, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaV1Bytes))
		if schemaErr != nil {
			schemaErr = aserrors.NewConfigError("failed to compile embedded schema 'config_schema_v1.json'", schemaErr)
		}
	})
	return schemaV1, schemaErr
}

// ValidateWithSchema validates config YAML against the embedded schema.
func ValidateWithSchema(configYAML []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	var data interface{}
	if err := yaml.Unmarshal(configYAML, &data); err != nil {
		return aserrors.NewConfigError("failed to parse config YAML for schema validation", err)
	}
	if data == nil {
		// An empty document is an empty config.
		data = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return aserrors.NewConfigError("schema validation process failed", err)
	}
	if !result.Valid() {
		errMsg := "config failed JSON schema validation:"
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "(root)" || field == "" {
				field = desc.Context().String()
			}
			errMsg += fmt.Sprintf("\n  - Field '%s': %s", field, desc.Description())
		}
		return aserrors.NewValidationError(errMsg, nil)
	}
	return nil
}
