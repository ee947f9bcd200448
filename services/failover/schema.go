package failover

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// compiledSchema is a JSON Schema compiled once per GenerateObject call
type compiledSchema struct {
	raw    json.RawMessage
	schema *gojsonschema.Schema
}

func compileSchema(raw json.RawMessage) (*compiledSchema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: schema is empty", ErrInvalidSchema)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	return &compiledSchema{raw: raw, schema: schema}, nil
}

// validate checks a generated object and returns a *SchemaValidationError
// when it does not conform
func (s *compiledSchema) validate(providerID string, object json.RawMessage) error {
	if !json.Valid(object) {
		var v any
		return &SchemaValidationError{ProviderID: providerID, Cause: json.Unmarshal(object, &v)}
	}

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(object))
	if err != nil {
		return &SchemaValidationError{ProviderID: providerID, Cause: err}
	}
	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	return &SchemaValidationError{ProviderID: providerID, Errors: messages}
}
