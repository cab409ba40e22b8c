package scanning

import (
	"fmt"
	"strings"
)

// contactScanPrompt is the shared prompt used by all model backends
const contactScanPrompt = `You are an expert in extracting contact information from images of business cards.

Given the image, extract the following fields from the business card: %s.

Return ONLY valid JSON in this exact format:
%s

Important:
- Copy text exactly as printed; do not translate or invent values
- Put the complete phone number including country or area code in "phone"; if several are printed, prefer the mobile or direct line
- If you cannot find a field, use an empty string for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// buildPrompt renders the prompt text for a concrete variant
func buildPrompt(v Variant) string {
	keys := v.Keys()
	if v == VariantCombined {
		// fullName is accepted on input but never asked for
		keys = []string{"name", "phone", "email", "organization", "title", "address", "website"}
	}

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("  %q: \"\"", key))
	}
	format := "{\n" + strings.Join(lines, ",\n") + "\n}"
	return fmt.Sprintf(contactScanPrompt, strings.Join(keys, ", "), format)
}
