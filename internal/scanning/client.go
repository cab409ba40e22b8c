package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zombor/cardsnap/internal/capture"
)

// DefaultTimeout bounds a single extraction call
const DefaultTimeout = 60 * time.Second

// Client implements Extractor on top of a Model backend. It declares the
// response variant it expects and rejects anything else.
type Client struct {
	model   Model
	variant Variant
	timeout time.Duration
	schemas map[Variant]*jsonschema.Schema
}

// NewClient creates a Client for the given variant
func NewClient(model Model, variant Variant, timeout time.Duration) (*Client, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if _, err := ParseVariant(string(variant)); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	schemas := make(map[Variant]*jsonschema.Schema, 2)
	for _, v := range []Variant{VariantCombined, VariantSplit} {
		schema, err := compileSchema(v)
		if err != nil {
			return nil, fmt.Errorf("compiling %s schema: %w", v, err)
		}
		schemas[v] = schema
	}

	return &Client{
		model:   model,
		variant: variant,
		timeout: timeout,
		schemas: schemas,
	}, nil
}

// Variant returns the response variant the client expects
func (c *Client) Variant() Variant {
	return c.variant
}

// Extract sends the image to the model and validates its answer.
// It is never retried; callers decide whether the user retakes the photo.
func (c *Client) Extract(ctx context.Context, img capture.Image) (*Result, error) {
	if img.IsZero() {
		return nil, fmt.Errorf("%w: empty image", ErrExtractionFailed)
	}

	// auto still asks for the combined shape; the split shape is accepted on the way back
	promptVariant := c.variant
	if promptVariant == VariantAuto {
		promptVariant = VariantCombined
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	text, err := c.model.Generate(ctx, Prompt{
		Request: Request{PhotoURL: img.DataURI()},
		Image:   img,
		Text:    buildPrompt(promptVariant),
		Schema:  ResponseSchema(promptVariant),
	})
	if err != nil {
		slog.Error("Extraction call failed",
			"variant", c.variant,
			"image_size", len(img.Data),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	result, err := parseResponse(text, c.variant, c.schemas)
	if err != nil {
		slog.Error("Extraction response rejected",
			"variant", c.variant,
			"response_len", len(text),
			"error", err,
		)
		return nil, err
	}

	slog.Info("Contact details extracted",
		"variant", result.Variant,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// Close closes the underlying model
func (c *Client) Close() error {
	return c.model.Close()
}
