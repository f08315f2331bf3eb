package extract

import (
	"context"

	"github.com/foliolabs/folio/internal/fault"
)

// Service dispatches file bytes to the extractor for their MIME family.
type Service struct {
	ocr *OCRClient
}

// NewService creates the extraction dispatcher. The OCR client may be
// nil, in which case PDFs and images fail permanently.
func NewService(ocr *OCRClient) *Service {
	return &Service{ocr: ocr}
}

// Extract converts raw bytes to a structured document. The file name is
// used to label spreadsheet locations. Unknown MIME types fail
// permanently so the indexing job does not retry them.
func (s *Service) Extract(ctx context.Context, fileName, mime string, data []byte) (*Document, error) {
	switch FamilyOf(mime) {
	case FamilyMarkedUp:
		return MarkupExtractor{}.Extract(ctx, data)
	case FamilyText:
		doc, err := (TextExtractor{}).Extract(ctx, data)
		if err != nil {
			return nil, fault.Wrap(fault.KindPermanent, "extracting text", err)
		}
		return doc, nil
	case FamilySpreadsheet:
		doc, err := SheetExtractor{SheetName: fileName}.Extract(ctx, data)
		if err != nil {
			return nil, fault.Wrap(fault.KindPermanent, "extracting spreadsheet", err)
		}
		return doc, nil
	case FamilyPDF, FamilyImage:
		if s.ocr == nil {
			return nil, fault.New(fault.KindPermanent, "OCR service not configured")
		}
		return s.ocr.Extract(ctx, mime, data)
	default:
		return nil, fault.Wrap(fault.KindPermanent, "extracting "+mime, ErrUnsupportedFormat)
	}
}
