package validator

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemasFS embed.FS

const completionSchemaFile = "schemas/completion.schema.json"

// SchemaViolation is a single schema validation failure.
type SchemaViolation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// SchemaResult holds the result of schema validation.
type SchemaResult struct {
	Valid      bool              `json:"valid"`
	Violations []SchemaViolation `json:"violations,omitempty"`
}

// Error joins the violations into one message.
func (r SchemaResult) Error() string {
	msgs := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		msgs[i] = v.Path + ": " + v.Message
	}
	return strings.Join(msgs, "; ")
}

// Validator validates generated JSON documents against embedded schemas.
type Validator struct {
	completionSchema *jsonschema.Schema
}

// New creates a new Validator with the embedded schemas compiled.
func New() (*Validator, error) {
	schemaData, err := schemasFS.ReadFile(completionSchemaFile)
	if err != nil {
		return nil, fmt.Errorf("read completion schema: %w", err)
	}

	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaData))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("completion.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	schema, err := c.Compile("completion.json")
	if err != nil {
		return nil, fmt.Errorf("compile completion schema: %w", err)
	}

	return &Validator{completionSchema: schema}, nil
}

// CompletionSchema returns the raw completion schema, as sent to the generator.
func CompletionSchema() json.RawMessage {
	data, err := schemasFS.ReadFile(completionSchemaFile)
	if err != nil {
		panic(fmt.Sprintf("embedded completion schema: %v", err))
	}
	return json.RawMessage(data)
}

// ValidateCompletion validates a generated completion document.
func (v *Validator) ValidateCompletion(doc []byte) SchemaResult {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return SchemaResult{
			Violations: []SchemaViolation{{
				Path:    "/",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			}},
		}
	}

	err = v.completionSchema.Validate(inst)
	if err == nil {
		return SchemaResult{Valid: true}
	}

	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		return SchemaResult{Violations: extractViolations(ve)}
	}
	return SchemaResult{Violations: []SchemaViolation{{Path: "/", Message: err.Error()}}}
}

func extractViolations(ve *jsonschema.ValidationError) []SchemaViolation {
	if len(ve.Causes) == 0 {
		return []SchemaViolation{{
			Path:    "/" + strings.Join(ve.InstanceLocation, "/"),
			Message: ve.Error(),
		}}
	}
	var out []SchemaViolation
	for _, cause := range ve.Causes {
		out = append(out, extractViolations(cause)...)
	}
	return out
}
