package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// ReadFile reads a local image file and decodes it into an Image.
// The content type is guessed from the file extension.
func ReadFile(ctx context.Context, path string) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("%w: reading %s: %w", ErrDecode, filepath.Base(path), err)
	}
	return DecodeFile(data, ContentTypeFor(path))
}

// ContentTypeFor guesses a MIME type from a filename extension
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// DecodeFile turns an uploaded file into an Image.
// JPEG and PNG are kept as-is once they decode cleanly; GIF, HEIC/HEIF and PDF
// (first page) are converted to PNG. Corrupt or empty input fails with ErrDecode.
func DecodeFile(data []byte, contentType string) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty file", ErrDecode)
	}

	mimeType := strings.ToLower(strings.TrimSpace(contentType))

	switch {
	case isPDFFormat(data) || mimeType == "application/pdf":
		pngData, err := pdfToPNG(data)
		if err != nil {
			return Image{}, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return Image{Subtype: "png", Data: pngData}, nil
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return Image{}, fmt.Errorf("%w: decoding HEIC/HEIF image: %w", ErrDecode, err)
		}
		pngData, err := encodePNG(img)
		if err != nil {
			return Image{}, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return Image{Subtype: "png", Data: pngData}, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return Image{}, fmt.Errorf("%w: unsupported image format (supported: JPEG, PNG, GIF, HEIC, HEIF, PDF)", ErrDecode)
		}
		return Image{}, fmt.Errorf("%w: decoding image: %w", ErrDecode, err)
	}

	switch format {
	case "jpeg", "png":
		return Image{Subtype: format, Data: data}, nil
	}

	pngData, err := encodePNG(img)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return Image{Subtype: "png", Data: pngData}, nil
}

// pdfToPNG renders the first page of a PDF as PNG
func pdfToPNG(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Business cards are single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func isPDFFormat(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
