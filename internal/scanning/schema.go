package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ResponseSchema returns the JSON Schema of a concrete variant's response.
// It is sent to backends that support structured output and used locally to validate.
func ResponseSchema(v Variant) map[string]any {
	props := map[string]any{}
	for _, key := range v.Keys() {
		props[key] = map[string]any{
			"type":        []string{"string", "null"},
			"description": fieldDescriptions[key],
		}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}

var fieldDescriptions = map[string]string{
	"name":         "The full name of the contact.",
	"fullName":     "The full name of the contact.",
	"firstName":    "The first (given) name of the contact.",
	"lastName":     "The last (family) name of the contact.",
	"phone":        "The phone number of the contact.",
	"email":        "The email address of the contact.",
	"organization": "The organization of the contact, if any.",
	"company":      "The company of the contact, if any.",
	"title":        "The job title of the contact, if any.",
	"address":      "The postal address of the contact, if any.",
	"website":      "The website of the contact, if any.",
}

// compileSchema compiles the response schema of a concrete variant
func compileSchema(v Variant) (*jsonschema.Schema, error) {
	b, err := json.Marshal(ResponseSchema(v))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	url := string(v) + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// sniffVariant picks the variant whose distinctive keys appear in the response
func sniffVariant(fields map[string]any) Variant {
	for _, key := range []string{"firstName", "lastName", "company"} {
		if _, ok := fields[key]; ok {
			return VariantSplit
		}
	}
	return VariantCombined
}
