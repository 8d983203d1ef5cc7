// Package contract validates inbound request bodies against a JSON schema
// before they reach the engine, so malformed requests are rejected with a
// precise error list instead of surfacing as mid-orchestration failures.
package contract

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Validator checks documents against one compiled schema. Safe for
// concurrent use.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the schema from its JSON source.
func NewValidator(schemaJSON []byte) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compiling request schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// NewValidatorFromFile compiles the schema at the given path.
func NewValidatorFromFile(path string) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + path))
	if err != nil {
		return nil, fmt.Errorf("compiling request schema %s: %w", path, err)
	}
	return &Validator{schema: schema}, nil
}

// ValidationError lists everything wrong with one document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "request validation failed: " + strings.Join(e.Problems, "; ")
}

// Validate returns nil for a conforming document, a *ValidationError for a
// non-conforming one, and a plain error if the document is not valid JSON.
func (v *Validator) Validate(document []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return fmt.Errorf("validating request: %w", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &ValidationError{Problems: problems}
}
