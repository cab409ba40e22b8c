package contact

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/zombor/cardsnap/internal/scanning"
)

// Reconciler maps extraction results onto a Record
type Reconciler struct {
	// DisplayNameOnly keeps the name whole in DisplayName instead of
	// splitting it into first and last name
	DisplayNameOnly bool
}

// Reconcile builds a complete Record from an extraction result. The photo is
// left empty; the caller attaches the image that was extracted.
func (rc Reconciler) Reconcile(result *scanning.Result) (Record, error) {
	if result == nil || result.Fields == nil {
		return Record{}, fmt.Errorf("%w: no result", ErrInvalidExtractionResult)
	}

	switch result.Variant {
	case scanning.VariantCombined:
		return rc.fromCombined(result), nil
	case scanning.VariantSplit:
		return rc.fromSplit(result), nil
	}
	return Record{}, fmt.Errorf("%w: unknown variant %q", ErrInvalidExtractionResult, result.Variant)
}

// fromCombined adapts the name/organization variant
func (rc Reconciler) fromCombined(result *scanning.Result) Record {
	name := clean(result.Get("name"))
	if name == "" {
		name = clean(result.Get("fullName"))
	}

	r := Record{
		Organization: clean(result.Get("organization")),
	}
	if rc.DisplayNameOnly {
		r.DisplayName = name
	} else {
		r.FirstName, r.LastName = SplitName(name)
	}
	rc.common(&r, result)
	return r
}

// fromSplit adapts the firstName/lastName/company variant
func (rc Reconciler) fromSplit(result *scanning.Result) Record {
	first := clean(result.Get("firstName"))
	last := clean(result.Get("lastName"))

	r := Record{
		Organization: clean(result.Get("company")),
	}
	if rc.DisplayNameOnly {
		r.DisplayName = strings.TrimSpace(first + " " + last)
	} else {
		r.FirstName, r.LastName = first, last
	}
	rc.common(&r, result)
	return r
}

func (rc Reconciler) common(r *Record, result *scanning.Result) {
	r.Phone = clean(result.Get("phone"))
	r.Email = clean(result.Get("email"))
	r.Title = clean(result.Get("title"))
	r.Address = clean(result.Get("address"))
	r.Website = clean(result.Get("website"))
}

// SplitName splits a full name on its first whitespace run
func SplitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	i := strings.IndexFunc(name, unicode.IsSpace)
	if i < 0 {
		return name, ""
	}
	return name[:i], strings.TrimSpace(name[i:])
}

func clean(s string) string {
	return strings.TrimSpace(s)
}
