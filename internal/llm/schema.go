package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ReceiptJSONSchema describes the receipt object the extraction prompt asks for.
// Item-level checks that can drop a single line (positive quantity, non-empty
// description) are left to post-validation so one bad line does not fail the
// whole receipt.
func ReceiptJSONSchema() map[string]any {
	number := map[string]any{"type": "number"}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"items"},
		"properties": map[string]any{
			"merchantName": map[string]any{"type": "string"},
			"purchaseDate": map[string]any{"type": "string"},
			"currency":     map[string]any{"type": "string", "pattern": `^[A-Z]{3}$`},
			"subtotal":     number,
			"tax":          number,
			"total":        number,
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"description": map[string]any{"type": "string"},
						"quantity":    number,
						"unitPrice":   number,
						"totalPrice":  number,
					},
				},
			},
		},
	}
}

// MatchVerdictJSONSchema describes the product-match verdict.
func MatchVerdictJSONSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"confidence"},
		"properties": map[string]any{
			"productId":  map[string]any{"type": []string{"string", "null"}},
			"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"reason":     map[string]any{"type": "string"},
		},
	}
}

var (
	compiledMu sync.Mutex
	compiled   = map[string]*jsonschema.Schema{}
)

// CompileSchema compiles a schema map once per name.
func CompileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()
	if s, ok := compiled[name]; ok {
		return s, nil
	}
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	compiled[name] = s
	return s, nil
}

// ValidateJSONAgainstSchema validates data against the named schema.
func ValidateJSONAgainstSchema(name string, schemaMap map[string]any, data []byte) error {
	schema, err := CompileSchema(name, schemaMap)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
