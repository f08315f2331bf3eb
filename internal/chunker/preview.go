package chunker

import (
	"strings"

	"github.com/foliolabs/folio/internal/extract"
)

// previewBodyChars bounds how much leading document text the preview
// carries alongside the heading outline.
const previewBodyChars = 500

// Preview builds the short file summary stored alongside the file row.
// It concatenates the top-level heading outline with the first few
// hundred characters of body text; the file-level embedding and the
// lexical file search both run over this string.
func Preview(fileName string, doc *extract.Document) string {
	var b strings.Builder
	b.WriteString(fileName)

	seen := map[string]bool{}
	for _, blk := range doc.Blocks {
		if len(blk.Location.HeadingPath) == 0 {
			continue
		}
		top := blk.Location.HeadingPath[0]
		if top == "" || seen[top] {
			continue
		}
		seen[top] = true
		b.WriteString(" | ")
		b.WriteString(top)
	}

	body := doc.Text()
	if len(body) > previewBodyChars {
		body = taillessTruncate(body, previewBodyChars)
	}
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}
	return b.String()
}

// taillessTruncate cuts at a word boundary at or before n.
func taillessTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	if idx := strings.LastIndexByte(s[:n], ' '); idx > 0 {
		cut = idx
	}
	return strings.TrimSpace(s[:cut])
}
