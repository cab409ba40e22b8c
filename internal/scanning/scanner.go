package scanning

import (
	"context"
	"errors"
	"fmt"

	"github.com/zombor/cardsnap/internal/capture"
)

var (
	// ErrExtractionFailed covers transport, provider and malformed-JSON failures
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrSchemaMismatch is returned when the response is not the declared shape
	ErrSchemaMismatch = errors.New("extraction response does not match schema")
)

// Request is the extraction service input: { "photoUrl": string }.
// PhotoURL is a data URI or a URL the model can fetch.
type Request struct {
	PhotoURL string `json:"photoUrl"`
}

// Variant selects which response shape the service is expected to return
type Variant string

const (
	// VariantCombined returns a single "name" plus "organization"
	VariantCombined Variant = "combined"
	// VariantSplit returns "firstName"/"lastName" plus "company"
	VariantSplit Variant = "split"
	// VariantAuto accepts either shape, chosen by the keys present
	VariantAuto Variant = "auto"
)

// ParseVariant parses a variant name
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case VariantCombined, VariantSplit, VariantAuto:
		return v, nil
	}
	return "", fmt.Errorf("unknown schema variant %q (valid: combined, split, auto)", s)
}

// Keys returns the response keys of a concrete variant
func (v Variant) Keys() []string {
	switch v {
	case VariantCombined:
		return []string{"name", "fullName", "phone", "email", "organization", "title", "address", "website"}
	case VariantSplit:
		return []string{"firstName", "lastName", "phone", "email", "company", "title", "address", "website"}
	}
	return nil
}

// Result contains the fields extracted from a business card. Every key of
// the variant is present; values the service left out are empty strings.
type Result struct {
	Variant Variant           `json:"variant"`
	Fields  map[string]string `json:"fields"`
}

// Get returns a field value or "" when absent
func (r *Result) Get(key string) string {
	if r == nil {
		return ""
	}
	return r.Fields[key]
}

// Prompt is everything a model backend needs for one call
type Prompt struct {
	Request Request
	Image   capture.Image
	Text    string
	Schema  map[string]any
}

// Model is a generative model backend that answers with JSON text
type Model interface {
	// Generate sends the prompt and returns the raw text answer
	Generate(ctx context.Context, prompt Prompt) (string, error)
	// Close releases the backend
	Close() error
}

// Extractor defines the interface for business card extraction
type Extractor interface {
	// Extract sends the image to the extraction service and returns a schema-valid result
	Extract(ctx context.Context, img capture.Image) (*Result, error)
	// Close closes the extractor and releases resources
	Close() error
}
