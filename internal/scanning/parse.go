package scanning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// stripCodeFence removes markdown code fences some models wrap JSON in
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// decodeResponse decodes the model's answer into a generic JSON value.
// When the text is not JSON as a whole, the outermost {...} is tried.
func decodeResponse(text string) (any, error) {
	text = stripCodeFence(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrExtractionFailed)
	}

	var doc any
	err := json.Unmarshal([]byte(text), &doc)
	if err == nil {
		return doc, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return nil, fmt.Errorf("%w: malformed JSON: %w", ErrExtractionFailed, err)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %w", ErrExtractionFailed, err)
	}
	return doc, nil
}

// parseResponse validates the answer against the expected variant's schema
// and flattens it into a Result
func parseResponse(text string, expected Variant, schemas map[Variant]*jsonschema.Schema) (*Result, error) {
	doc, err := decodeResponse(text)
	if err != nil {
		return nil, err
	}

	fields, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON object, got %s", ErrSchemaMismatch, jsonKind(doc))
	}

	variant := expected
	if variant == VariantAuto {
		variant = sniffVariant(fields)
	}

	schema, ok := schemas[variant]
	if !ok {
		return nil, fmt.Errorf("%w: no schema for variant %q", ErrSchemaMismatch, variant)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s variant: %w", ErrSchemaMismatch, variant, err)
	}

	result := &Result{
		Variant: variant,
		Fields:  make(map[string]string, len(variant.Keys())),
	}
	for _, key := range variant.Keys() {
		// null and absent both become ""
		s, _ := fields[key].(string)
		result.Fields[key] = strings.TrimSpace(s)
	}
	return result, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}
