package capture

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vincent-petithory/dataurl"
)

var (
	// ErrDeviceUnavailable is returned when no camera exists or access was denied.
	// Callers should offer the file-input path instead.
	ErrDeviceUnavailable = errors.New("camera unavailable")

	// ErrDecode is returned when an image file cannot be read or decoded
	ErrDecode = errors.New("image decode failed")
)

var subtypeToken = regexp.MustCompile(`^[a-z0-9][a-z0-9.+-]*$`)

// Image is an encoded raster image plus its MIME subtype (png, jpeg, ...)
type Image struct {
	Subtype string
	Data    []byte
}

// MIMEType returns the full MIME type, e.g. image/png
func (i Image) MIMEType() string {
	return "image/" + i.Subtype
}

// Base64 returns the raw base64 payload without any data URI prefix
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURI renders the image as data:image/<subtype>;base64,<data>
func (i Image) DataURI() string {
	return "data:" + i.MIMEType() + ";base64," + i.Base64()
}

// IsZero reports whether the image carries no data
func (i Image) IsZero() bool {
	return len(i.Data) == 0
}

// ValidSubtype reports whether s is a bare lowercase media subtype token
// such as png, jpeg or svg+xml
func ValidSubtype(s string) bool {
	return subtypeToken.MatchString(s)
}

// ParseDataURI parses a data:image/<subtype>[;params][;base64],<data> string.
// Media type parameters are dropped; the payload is not decoded as an image.
func ParseDataURI(uri string) (Image, error) {
	du, err := dataurl.DecodeString(uri)
	if err != nil {
		return Image{}, fmt.Errorf("%w: parsing data URI: %w", ErrDecode, err)
	}
	if !strings.EqualFold(du.Type, "image") {
		return Image{}, fmt.Errorf("%w: not an image data URI", ErrDecode)
	}
	subtype := strings.ToLower(du.Subtype)
	if !ValidSubtype(subtype) {
		return Image{}, fmt.Errorf("%w: invalid image subtype %q", ErrDecode, du.Subtype)
	}
	if len(du.Data) == 0 {
		return Image{}, fmt.Errorf("%w: empty image", ErrDecode)
	}
	return Image{Subtype: subtype, Data: du.Data}, nil
}
