// Package schema decides whether a state document is structurally well
// formed enough to be written to, or trusted from, the primary slot.
package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/state"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed state_document_v1.json
var documentSchemaBytes []byte

var (
	documentSchema *gojsonschema.Schema
	schemaOnce     sync.Once
	schemaErr      error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if len(documentSchemaBytes) == 0 {
			schemaErr = aserrors.NewConfigError("embedded schema 'state_document_v1.json' is empty", nil)
			return
		}
		documentSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(documentSchemaBytes))
		if schemaErr != nil {
			schemaErr = aserrors.NewConfigError("failed to compile embedded schema 'state_document_v1.json'", schemaErr)
		}
	})
	return documentSchema, schemaErr
}

// Validate reports whether document passes the basic shape checks: it is a
// mapping, state_version (if present) is a string, and metadata (if present)
// is a mapping carrying timestamp and expires.
func Validate(document interface{}) bool {
	return Check(document) == nil
}

// Check is Validate with an explanation. The returned error is a
// *ValidationError listing every violation.
func Check(document interface{}) error {
	doc, ok := asMapping(document)
	if !ok {
		return aserrors.NewValidationError(fmt.Sprintf("document must be a JSON object, got %T", document), nil)
	}

	s, err := loadSchema()
	if err != nil {
		return err
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		// Values the loader cannot represent as JSON (channels, funcs ...).
		return aserrors.NewValidationError("document is not JSON-representable", err)
	}
	if result.Valid() {
		return nil
	}

	var b strings.Builder
	b.WriteString("document failed schema validation:")
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "(root)" || field == "" {
			field = desc.Context().String()
		}
		fmt.Fprintf(&b, "\n  - Field '%s': %s", field, desc.Description())
	}
	return aserrors.NewValidationError(b.String(), nil)
}

// asMapping accepts the two mapping types a document can arrive as.
// gojsonschema's Go loader round-trips through encoding/json, so nested
// named maps need no conversion.
func asMapping(document interface{}) (map[string]interface{}, bool) {
	switch v := document.(type) {
	case state.Document:
		return map[string]interface{}(v), v != nil
	case map[string]interface{}:
		return v, v != nil
	default:
		return nil, false
	}
}
