package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/foliolabs/folio/internal/fault"
	"github.com/foliolabs/folio/internal/store"
)

// OCRConfig configures the OCR service client.
type OCRConfig struct {
	BaseURL string
	Timeout time.Duration
}

// OCRClient extracts text from PDFs and images through the remote OCR
// service. The service returns per-page text; each page becomes one
// block carrying its page number.
type OCRClient struct {
	cfg    OCRConfig
	client *http.Client
}

type ocrPage struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
}

// NewOCRClient creates an OCR client.
func NewOCRClient(cfg OCRConfig) (*OCRClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("OCR base URL required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &OCRClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Extract sends the document bytes for OCR. The MIME type travels in
// the Content-Type header so the service picks its decoder.
func (c *OCRClient) Extract(ctx context.Context, mime string, data []byte) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/ocr", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating OCR request: %w", err)
	}
	req.Header.Set("Content-Type", mime)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "OCR request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "reading OCR response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// The service could not decode the document. Retrying the same
		// bytes will not help.
		return nil, fault.Newf(fault.KindPermanent, "OCR cannot decode %s document", mime)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fault.Newf(fault.KindTransient, "OCR status %d", resp.StatusCode)
	default:
		return nil, fault.Newf(fault.KindPermanent, "OCR status %d", resp.StatusCode)
	}

	var parsed ocrResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fault.Wrap(fault.KindPermanent, "decoding OCR response", err)
	}

	locType := "pdf"
	if strings.HasPrefix(mime, "image/") {
		locType = "image"
	}
	doc := &Document{}
	for _, p := range parsed.Pages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		doc.Blocks = append(doc.Blocks, Block{
			Text:     text,
			Location: store.Location{Type: locType, Page: p.Page},
		})
	}
	return doc, nil
}
