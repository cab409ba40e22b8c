package contact

import (
	"errors"

	"github.com/zombor/cardsnap/internal/capture"
)

var (
	// ErrInvalidExtractionResult is returned when there is no usable result to reconcile
	ErrInvalidExtractionResult = errors.New("invalid extraction result")

	// ErrUnknownField is returned when editing a field that does not exist
	ErrUnknownField = errors.New("unknown contact field")
)

// Field names a user-editable contact field. Values match the JSON keys.
type Field string

const (
	FirstName    Field = "firstName"
	LastName     Field = "lastName"
	DisplayName  Field = "displayName"
	Phone        Field = "phone"
	Email        Field = "email"
	Organization Field = "organization"
	Title        Field = "title"
	Address      Field = "address"
	Website      Field = "website"
)

// Fields lists every editable field in form order
var Fields = []Field{FirstName, LastName, DisplayName, Title, Organization, Address, Website, Phone, Email}

// Record is the editable contact. Every field is a string, never absent.
type Record struct {
	FirstName    string         `json:"firstName"`
	LastName     string         `json:"lastName"`
	DisplayName  string         `json:"displayName"`
	Phone        string         `json:"phone"`
	Email        string         `json:"email"`
	Organization string         `json:"organization"`
	Title        string         `json:"title"`
	Address      string         `json:"address"`
	Website      string         `json:"website"`
	Photo        *capture.Image `json:"-"`
}

// field returns a pointer to the string backing f
func (r *Record) field(f Field) (*string, bool) {
	switch f {
	case FirstName:
		return &r.FirstName, true
	case LastName:
		return &r.LastName, true
	case DisplayName:
		return &r.DisplayName, true
	case Phone:
		return &r.Phone, true
	case Email:
		return &r.Email, true
	case Organization:
		return &r.Organization, true
	case Title:
		return &r.Title, true
	case Address:
		return &r.Address, true
	case Website:
		return &r.Website, true
	}
	return nil, false
}

// Get returns the value of a field
func (r Record) Get(f Field) (string, bool) {
	p, ok := r.field(f)
	if !ok {
		return "", false
	}
	return *p, true
}

// IsEmpty reports whether no field and no photo is set
func (r Record) IsEmpty() bool {
	for _, f := range Fields {
		if v, _ := r.Get(f); v != "" {
			return false
		}
	}
	return r.Photo == nil
}
