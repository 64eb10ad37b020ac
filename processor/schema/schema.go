// Package schema checks decoded events against an optional JSON Schema.
//
// A Validator is plugged into the pipeline with pipeline.WithValidator. Events
// that fail are reported on the diagnostic error channel and are not
// broadcast; the stream continues with the next line.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/framerelay/errors"
	"github.com/c360/framerelay/processor/parser"
)

// maxReported caps the violations quoted in one error.
const maxReported = 5

// ValidationError lists why an event did not match the schema.
type ValidationError struct {
	Seq        uint64
	Violations []string
}

func (e *ValidationError) Error() string {
	shown := e.Violations
	suffix := ""
	if len(shown) > maxReported {
		suffix = fmt.Sprintf("; and %d more", len(shown)-maxReported)
		shown = shown[:maxReported]
	}
	return fmt.Sprintf("event does not match schema: %s%s", strings.Join(shown, "; "), suffix)
}

// Validator validates events against a compiled schema.
type Validator struct {
	schema *gojsonschema.Schema
	source string
}

// Load compiles the schema file at path.
func Load(path string) (*Validator, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "schema", "Load", "resolve schema path")
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, errors.WrapInvalid(err, "schema", "Load", "read schema file")
	}
	v, err := New(data)
	if err != nil {
		return nil, err
	}
	v.source = abs
	return v, nil
}

// New compiles an in-memory schema document.
func New(schemaJSON []byte) (*Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"schema", "New", "compile schema")
	}
	return &Validator{schema: compiled, source: "inline"}, nil
}

// Source names where the schema came from
func (v *Validator) Source() string {
	return v.source
}

// Validate returns a *ValidationError when ev does not match.
func (v *Validator) Validate(ev parser.Event) error {
	var doc gojsonschema.JSONLoader
	if len(ev.Raw) > 0 {
		doc = gojsonschema.NewBytesLoader(ev.Raw)
	} else {
		doc = gojsonschema.NewGoLoader(ev.Value)
	}

	result, err := v.schema.Validate(doc)
	if err != nil {
		return errors.WrapInvalid(err, "schema", "Validate", "evaluate event")
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return &ValidationError{Seq: ev.Seq, Violations: violations}
}
