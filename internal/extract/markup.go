package extract

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/foliolabs/folio/internal/store"
)

// MarkupExtractor parses markdown produced by the drive export and
// emits one block per paragraph, each tagged with the heading path
// leading to it. Fenced code blocks are kept intact as single blocks.
type MarkupExtractor struct{}

func (MarkupExtractor) Extract(_ context.Context, data []byte) (*Document, error) {
	return parseMarkdown(data), nil
}

// headingLevel returns the ATX heading level of a line, or 0.
func headingLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return 0
	}
	if n < len(line) && line[n] != ' ' && line[n] != '\t' {
		return 0
	}
	return n
}

func parseMarkdown(data []byte) *Document {
	doc := &Document{}
	var (
		headingPath []string
		para        []string
		paraIndex   int
		inFence     bool
		fence       []string
	)

	flush := func() {
		if len(para) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(para, "\n"))
		para = para[:0]
		if text == "" {
			return
		}
		doc.Blocks = append(doc.Blocks, Block{
			Text: text,
			Location: store.Location{
				Type:        "doc",
				HeadingPath: append([]string(nil), headingPath...),
				ParaIndex:   paraIndex,
			},
		})
		paraIndex++
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				fence = append(fence, line)
				para = append(para, fence...)
				flush()
				fence = fence[:0]
				inFence = false
			} else {
				flush()
				inFence = true
				fence = append(fence[:0], line)
			}
			continue
		}
		if inFence {
			fence = append(fence, line)
			continue
		}

		if lvl := headingLevel(trimmed); lvl > 0 {
			flush()
			title := strings.TrimSpace(trimmed[lvl:])
			// Truncate the path to the parent of this level, then descend.
			if lvl-1 < len(headingPath) {
				headingPath = headingPath[:lvl-1]
			}
			headingPath = append(headingPath, title)
			continue
		}

		if trimmed == "" {
			flush()
			continue
		}
		para = append(para, line)
	}
	// An unterminated fence is still content.
	if inFence {
		para = append(para, fence...)
	}
	flush()
	return doc
}
