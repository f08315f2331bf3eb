// Package extract transforms raw file bytes into a structured document.
//
// Extraction is polymorphic over the MIME family: native word-processor
// documents arrive as a heading-preserving markdown export, PDFs and
// images go through the remote OCR service, spreadsheets arrive as CSV,
// and plain text is split on paragraphs. Each extractor emits blocks
// carrying the text plus a structural location descriptor so chunks and
// citations can deep-link back into the source.
package extract

import (
	"errors"

	"github.com/foliolabs/folio/internal/store"
)

// ErrUnsupportedFormat indicates no extractor handles the MIME type.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Block is one structural unit of a source file.
type Block struct {
	Text     string
	Location store.Location
}

// Document is the ordered block sequence extracted from one file.
type Document struct {
	Blocks []Block
}

// Text concatenates all block text with paragraph separators. Used for
// augmentation excerpts.
func (d *Document) Text() string {
	total := 0
	for _, b := range d.Blocks {
		total += len(b.Text) + 2
	}
	buf := make([]byte, 0, total)
	for i, b := range d.Blocks {
		if i > 0 {
			buf = append(buf, '\n', '\n')
		}
		buf = append(buf, b.Text...)
	}
	return string(buf)
}

// Family is the coarse MIME classification driving extractor dispatch
// and the fetch strategy (download vs. native export).
type Family int

const (
	FamilyUnknown Family = iota
	FamilyText
	FamilyMarkedUp
	FamilyPDF
	FamilyImage
	FamilySpreadsheet
)

// nativeDocMimes are provider-native formats fetched via export rather
// than raw download.
var nativeDocMimes = map[string]Family{
	"application/vnd.drive.document":                                          FamilyMarkedUp,
	"application/vnd.drive.spreadsheet":                                       FamilySpreadsheet,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FamilyMarkedUp,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       FamilySpreadsheet,
	"application/msword": FamilyMarkedUp,
	"text/csv":           FamilySpreadsheet,
}

// FamilyOf classifies a MIME type.
func FamilyOf(mime string) Family {
	if f, ok := nativeDocMimes[mime]; ok {
		return f
	}
	switch {
	case mime == "application/pdf":
		return FamilyPDF
	case mime == "image/png" || mime == "image/jpeg" || mime == "image/tiff":
		return FamilyImage
	case mime == "text/markdown":
		return FamilyMarkedUp
	case len(mime) >= 5 && mime[:5] == "text/":
		return FamilyText
	case mime == "application/json" || mime == "application/xml":
		return FamilyText
	default:
		return FamilyUnknown
	}
}

// NeedsNativeExport reports whether the file must be fetched through
// the provider's export endpoint, and the export target MIME.
func NeedsNativeExport(mime string) (string, bool) {
	switch FamilyOf(mime) {
	case FamilyMarkedUp:
		if mime == "text/markdown" {
			return "", false
		}
		return "text/markdown", true
	case FamilySpreadsheet:
		if mime == "text/csv" {
			return "", false
		}
		return "text/csv", true
	default:
		return "", false
	}
}
