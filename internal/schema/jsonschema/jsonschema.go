// Package jsonschema wraps github.com/xeipuuv/gojsonschema as a
// schema.Compiler/schema.CompiledSchema pair bound to a fixed draft.
package jsonschema

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mqttgov/proxy/internal/schema"
)

// Compiler compiles JSON Schema documents via gojsonschema.
type Compiler struct{}

// New returns a JSON Schema compiler.
func New() *Compiler { return &Compiler{} }

// Kind implements schema.Compiler.
func (c *Compiler) Kind() schema.Kind { return schema.JSONSchema }

// Compile implements schema.Compiler.
func (c *Compiler) Compile(def schema.Definition) (schema.CompiledSchema, error) {
	draft := def.Draft
	if draft == "" {
		draft = "draft-07"
	}

	loader := gojsonschema.NewBytesLoader(def.Source)
	sl := gojsonschema.NewSchemaLoader()
	switch draft {
	case "draft-04":
		sl.Draft = gojsonschema.Draft4
	case "draft-06":
		sl.Draft = gojsonschema.Draft6
	case "draft-07":
		sl.Draft = gojsonschema.Draft7
	default:
		return nil, fmt.Errorf("jsonschema: unsupported draft %q", draft)
	}
	sl.AutoDetect = false

	compiled, err := sl.Compile(loader)
	if err != nil {
		return nil, fmt.Errorf("jsonschema: compile %s: %w", def.ID, err)
	}

	// Precompute a lenient variant with additionalProperties stripped so
	// that "lenient" mode validation does not need to re-parse the schema
	// document on every call.
	var relaxed map[string]any
	if err := json.Unmarshal(def.Source, &relaxed); err != nil {
		return nil, fmt.Errorf("jsonschema: parse %s for lenient variant: %w", def.ID, err)
	}
	stripAdditionalProperties(relaxed)
	relaxedSrc, err := json.Marshal(relaxed)
	if err != nil {
		return nil, fmt.Errorf("jsonschema: marshal lenient variant of %s: %w", def.ID, err)
	}
	lenientSL := gojsonschema.NewSchemaLoader()
	lenientSL.Draft = sl.Draft
	lenientSL.AutoDetect = false
	lenientCompiled, err := lenientSL.Compile(gojsonschema.NewBytesLoader(relaxedSrc))
	if err != nil {
		return nil, fmt.Errorf("jsonschema: compile lenient variant of %s: %w", def.ID, err)
	}

	return &compiledSchema{id: def.ID, strict: compiled, lenient: lenientCompiled}, nil
}

func stripAdditionalProperties(m map[string]any) {
	delete(m, "additionalProperties")
	for _, v := range m {
		if sub, ok := v.(map[string]any); ok {
			stripAdditionalProperties(sub)
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for _, v := range props {
			if sub, ok := v.(map[string]any); ok {
				stripAdditionalProperties(sub)
			}
		}
	}
}

type compiledSchema struct {
	id      string
	strict  *gojsonschema.Schema
	lenient *gojsonschema.Schema
}

// Validate implements schema.CompiledSchema.
func (c *compiledSchema) Validate(payload []byte, lenient bool) error {
	target := c.strict
	if lenient {
		target = c.lenient
	}

	result, err := target.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return &schema.ValidationError{Code: schema.CodeTypeMismatch, Message: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	first := result.Errors()[0]
	return &schema.ValidationError{
		Path:    first.Field(),
		Message: first.Description(),
		Code:    classify(first),
	}
}

func classify(re gojsonschema.ResultError) schema.Code {
	switch re.Type() {
	case "required":
		return schema.CodeMissingRequired
	case "additional_property_not_allowed":
		return schema.CodeAdditionalProperty
	case "invalid_type":
		return schema.CodeTypeMismatch
	case "number_gte", "number_lte", "number_gt", "number_lt", "array_min_items", "array_max_items", "string_gte", "string_lte":
		return schema.CodeOutOfRange
	default:
		return schema.CodeTypeMismatch
	}
}
