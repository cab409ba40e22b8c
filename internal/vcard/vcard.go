// Package vcard renders contact records as vCard 3.0 documents (RFC 2426).
package vcard

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zombor/cardsnap/internal/capture"
	"github.com/zombor/cardsnap/internal/contact"
)

// ErrSerialization is returned for records that cannot be encoded, such as
// non-UTF-8 text or an unusable photo. It signals a defect, not a user error.
var ErrSerialization = errors.New("vcard serialization failed")

const (
	// Filename is the suggested download name
	Filename = "contact.vcf"
	// ContentType is the MIME type of the document
	ContentType = "text/vcard"

	// foldWidth is the maximum line length in octets before folding
	foldWidth = 75
)

// Document is a generated vCard plus its download hand-off metadata
type Document struct {
	Body        string
	Filename    string
	ContentType string
}

// Serializer renders Records as vCard 3.0 text
type Serializer struct {
	// FoldLines folds lines longer than 75 octets onto continuation lines
	FoldLines bool
}

var escaper = strings.NewReplacer(`\`, `\\`, "\r\n", `\n`, "\r", `\n`, "\n", `\n`, ",", `\,`, ";", `\;`)

// Escape escapes a text value: backslash, newline, comma and semicolon
func Escape(s string) string {
	return escaper.Replace(s)
}

// Serialize renders the record. Empty fields produce no line at all.
func (s Serializer) Serialize(r contact.Record) (Document, error) {
	for _, f := range contact.Fields {
		if v, _ := r.Get(f); !utf8.ValidString(v) {
			return Document{}, fmt.Errorf("%w: %s is not valid UTF-8", ErrSerialization, f)
		}
	}

	var b strings.Builder
	write := func(line string) {
		if s.FoldLines {
			line = fold(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	write("BEGIN:VCARD")
	write("VERSION:3.0")

	switch {
	case r.FirstName != "" || r.LastName != "":
		write("N:" + Escape(r.LastName) + ";" + Escape(r.FirstName) + ";;;")
		write("FN:" + Escape(joinName(r.FirstName, r.LastName)))
	case r.DisplayName != "":
		write("N:" + Escape(r.DisplayName) + ";;;;")
		write("FN:" + Escape(r.DisplayName))
	}

	if r.Organization != "" {
		write("ORG:" + Escape(r.Organization))
	}
	if r.Title != "" {
		write("TITLE:" + Escape(r.Title))
	}
	if r.Phone != "" {
		write("TEL:" + Escape(r.Phone))
	}
	if r.Email != "" {
		write("EMAIL:" + Escape(r.Email))
	}
	if r.Address != "" {
		// free-form address goes in the street component
		write("ADR:;;" + Escape(r.Address) + ";;;;")
	}
	if r.Website != "" {
		write("URL:" + Escape(r.Website))
	}

	if r.Photo != nil {
		subtype := strings.ToLower(r.Photo.Subtype)
		if r.Photo.IsZero() {
			return Document{}, fmt.Errorf("%w: empty photo", ErrSerialization)
		}
		if !capture.ValidSubtype(subtype) {
			return Document{}, fmt.Errorf("%w: invalid photo subtype %q", ErrSerialization, r.Photo.Subtype)
		}
		write("PHOTO;ENCODING=b;TYPE=" + strings.ToUpper(subtype) + ":" + r.Photo.Base64())
	}

	write("END:VCARD")

	return Document{
		Body:        b.String(),
		Filename:    Filename,
		ContentType: ContentType,
	}, nil
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}

// fold splits a line into 75-octet chunks, continuation lines starting with
// a space. Multi-byte characters are never split.
func fold(line string) string {
	if len(line) <= foldWidth {
		return line
	}

	var b strings.Builder
	width := foldWidth
	for len(line) > width {
		cut := width
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		b.WriteString(line[:cut])
		b.WriteString("\n ")
		line = line[cut:]
		// the leading space counts toward the next line
		width = foldWidth - 1
	}
	b.WriteString(line)
	return b.String()
}
