package extract

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/foliolabs/folio/internal/store"
)

// TextExtractor splits plain text into paragraph blocks on blank lines.
type TextExtractor struct{}

func (TextExtractor) Extract(_ context.Context, data []byte) (*Document, error) {
	if !utf8.Valid(data) {
		return nil, ErrUnsupportedFormat
	}
	doc := &Document{}
	normalized := strings.ReplaceAll(string(data), "\r\n", "\n")
	idx := 0
	for _, para := range strings.Split(normalized, "\n\n") {
		text := strings.TrimSpace(para)
		if text == "" {
			continue
		}
		doc.Blocks = append(doc.Blocks, Block{
			Text:     text,
			Location: store.Location{Type: "doc", ParaIndex: idx},
		})
		idx++
	}
	return doc, nil
}
