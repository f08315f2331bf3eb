package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/foliolabs/folio/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkupHeadingPaths(t *testing.T) {
	src := []byte(`# Report

Intro paragraph.

## Findings

First finding
continues here.

### Detail

Nested paragraph.

## Conclusion

Wrap up.
`)
	doc, err := MarkupExtractor{}.Extract(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 4)

	assert.Equal(t, "Intro paragraph.", doc.Blocks[0].Text)
	assert.Equal(t, []string{"Report"}, doc.Blocks[0].Location.HeadingPath)

	assert.Equal(t, "First finding\ncontinues here.", doc.Blocks[1].Text)
	assert.Equal(t, []string{"Report", "Findings"}, doc.Blocks[1].Location.HeadingPath)

	assert.Equal(t, []string{"Report", "Findings", "Detail"}, doc.Blocks[2].Location.HeadingPath)

	// A sibling heading pops the deeper levels.
	assert.Equal(t, []string{"Report", "Conclusion"}, doc.Blocks[3].Location.HeadingPath)
}

func TestMarkupFencedCodeStaysWhole(t *testing.T) {
	src := []byte("# T\n\n```go\nfunc main() {}\n\nfunc other() {}\n```\n")
	doc, err := MarkupExtractor{}.Extract(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 1)
	assert.Contains(t, doc.Blocks[0].Text, "func main() {}")
	assert.Contains(t, doc.Blocks[0].Text, "func other() {}")
}

func TestTextParagraphSplit(t *testing.T) {
	doc, err := TextExtractor{}.Extract(context.Background(), []byte("one\r\n\r\ntwo\n\n\n\nthree"))
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 3)
	assert.Equal(t, "two", doc.Blocks[1].Text)
	assert.Equal(t, 1, doc.Blocks[1].Location.ParaIndex)
	assert.Equal(t, "doc", doc.Blocks[1].Location.Type)
}

func TestTextRejectsBinary(t *testing.T) {
	_, err := TextExtractor{}.Extract(context.Background(), []byte{0xff, 0xfe, 0x00, 0x80})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSheetRowGroups(t *testing.T) {
	csv := "Name,Amount\n"
	for i := 0; i < 25; i++ {
		csv += "item,1\n"
	}
	doc, err := SheetExtractor{SheetName: "budget.csv"}.Extract(context.Background(), []byte(csv))
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 2)

	assert.Equal(t, "sheet", doc.Blocks[0].Location.Type)
	assert.Equal(t, "budget.csv", doc.Blocks[0].Location.SheetName)
	assert.Equal(t, "2-21", doc.Blocks[0].Location.RowRange)
	assert.Equal(t, "22-26", doc.Blocks[1].Location.RowRange)
	assert.Contains(t, doc.Blocks[0].Text, "Name=item")
	assert.Contains(t, doc.Blocks[0].Text, "Amount=1")
}

func TestSheetEmpty(t *testing.T) {
	doc, err := SheetExtractor{}.Extract(context.Background(), []byte(""))
	require.NoError(t, err)
	assert.Empty(t, doc.Blocks)
}

func TestOCRPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ocr", r.URL.Path)
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(ocrResponse{Pages: []ocrPage{
			{Page: 1, Text: "first page"},
			{Page: 2, Text: "  "},
			{Page: 3, Text: "third page"},
		}})
	}))
	defer srv.Close()

	c, err := NewOCRClient(OCRConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	doc, err := c.Extract(context.Background(), "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 2)
	assert.Equal(t, "pdf", doc.Blocks[0].Location.Type)
	assert.Equal(t, 1, doc.Blocks[0].Location.Page)
	assert.Equal(t, 3, doc.Blocks[1].Location.Page)
}

func TestOCRErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   fault.Kind
	}{
		{"undecodable is permanent", http.StatusUnprocessableEntity, fault.KindPermanent},
		{"overload is transient", http.StatusServiceUnavailable, fault.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c, err := NewOCRClient(OCRConfig{BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = c.Extract(context.Background(), "application/pdf", []byte("x"))
			require.Error(t, err)
			assert.Equal(t, tt.want, fault.KindOf(err))
		})
	}
}

func TestServiceDispatch(t *testing.T) {
	s := NewService(nil)

	doc, err := s.Extract(context.Background(), "notes.md", "text/markdown", []byte("# H\n\nbody"))
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 1)

	_, err = s.Extract(context.Background(), "a.bin", "application/octet-stream", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, fault.KindPermanent, fault.KindOf(err))

	// OCR unconfigured fails permanently, not with a retry loop.
	_, err = s.Extract(context.Background(), "scan.pdf", "application/pdf", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindPermanent, fault.KindOf(err))
}

func TestNeedsNativeExport(t *testing.T) {
	mime, ok := NeedsNativeExport("application/vnd.drive.document")
	assert.True(t, ok)
	assert.Equal(t, "text/markdown", mime)

	mime, ok = NeedsNativeExport("application/vnd.drive.spreadsheet")
	assert.True(t, ok)
	assert.Equal(t, "text/csv", mime)

	_, ok = NeedsNativeExport("text/plain")
	assert.False(t, ok)
	_, ok = NeedsNativeExport("text/markdown")
	assert.False(t, ok)
}
