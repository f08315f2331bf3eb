// Package chunker splits extracted documents into retrieval-sized
// pieces.
//
// Chunks aim for a target character size, never cross a top-level
// heading, and prefer breaking on paragraph boundaries, then sentence
// boundaries, then word boundaries. Consecutive chunks share a short
// overlap so sentences straddling a cut remain searchable in both.
package chunker

import (
	"strings"
	"unicode"

	"github.com/foliolabs/folio/internal/extract"
	"github.com/foliolabs/folio/internal/store"
)

// Chunk is one retrieval unit produced from a document.
type Chunk struct {
	Index    int
	Text     string
	Location store.Location
}

// Config sets the chunk geometry.
type Config struct {
	TargetChars  int
	OverlapChars int
}

// Chunker splits documents.
type Chunker struct {
	cfg Config
}

// New creates a chunker. Zero config fields fall back to 1500/150.
func New(cfg Config) *Chunker {
	if cfg.TargetChars <= 0 {
		cfg.TargetChars = 1500
	}
	if cfg.OverlapChars < 0 || cfg.OverlapChars >= cfg.TargetChars {
		cfg.OverlapChars = cfg.TargetChars / 10
	}
	return &Chunker{cfg: cfg}
}

// Split chunks a document. An empty document yields no chunks. Chunk
// indexes are dense and 0-based; each chunk carries the location of the
// first block that contributed fresh text to it.
func (c *Chunker) Split(doc *extract.Document) []Chunk {
	if doc == nil || len(doc.Blocks) == 0 {
		return nil
	}

	var chunks []Chunk
	for _, section := range splitSections(doc.Blocks) {
		chunks = c.splitSection(chunks, section)
	}
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// splitSections groups blocks by their top-level heading. A change of
// top-level heading forces a chunk boundary so a chunk never mixes two
// major sections.
func splitSections(blocks []extract.Block) [][]extract.Block {
	var (
		sections [][]extract.Block
		current  []extract.Block
		topic    string
		started  bool
	)
	for _, b := range blocks {
		t := ""
		if len(b.Location.HeadingPath) > 0 {
			t = b.Location.HeadingPath[0]
		}
		if started && t != topic {
			sections = append(sections, current)
			current = nil
		}
		topic = t
		started = true
		current = append(current, b)
	}
	if len(current) > 0 {
		sections = append(sections, current)
	}
	return sections
}

func (c *Chunker) splitSection(chunks []Chunk, blocks []extract.Block) []Chunk {
	var (
		buf     strings.Builder
		loc     store.Location
		haveLoc bool
		overlap string
	)

	emit := func() {
		text := strings.TrimSpace(buf.String())
		if text == "" {
			return
		}
		chunks = append(chunks, Chunk{Text: text, Location: loc})
		overlap = tailOnWordBoundary(text, c.cfg.OverlapChars)
		buf.Reset()
		haveLoc = false
	}

	push := func(piece string, pieceLoc store.Location) {
		if buf.Len() > 0 && buf.Len()+2+len(piece) > c.cfg.TargetChars {
			emit()
		}
		if buf.Len() == 0 && overlap != "" {
			buf.WriteString(overlap)
			buf.WriteString("\n\n")
		}
		if !haveLoc {
			loc = pieceLoc
			haveLoc = true
		}
		if buf.Len() > 0 && !strings.HasSuffix(buf.String(), "\n\n") {
			buf.WriteString("\n\n")
		}
		buf.WriteString(piece)
	}

	for _, b := range blocks {
		if len(b.Text) <= c.cfg.TargetChars {
			push(b.Text, b.Location)
			continue
		}
		for _, piece := range splitOversized(b.Text, c.cfg.TargetChars) {
			push(piece, b.Location)
		}
	}
	emit()
	return chunks
}

// splitOversized breaks a single paragraph that exceeds the target,
// preferring sentence boundaries and falling back to word boundaries.
func splitOversized(text string, target int) []string {
	var (
		pieces []string
		cur    strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			pieces = append(pieces, s)
		}
		cur.Reset()
	}
	for _, sent := range splitSentences(text) {
		if len(sent) > target {
			flush()
			pieces = append(pieces, splitWords(sent, target)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(sent) > target {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(sent)
	}
	flush()
	return pieces
}

// splitSentences is a conservative sentence splitter. It breaks after
// '.', '!', '?' or a newline followed by whitespace, which is enough
// for chunk boundaries; linguistic precision is not required here.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch != '.' && ch != '!' && ch != '?' && ch != '\n' {
			continue
		}
		end := i + 1
		if end < len(text) && !unicode.IsSpace(rune(text[end])) {
			continue
		}
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func splitWords(text string, target int) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, w := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+1+len(w) > target {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		// A single word longer than the target is hard-split.
		for len(w) > target {
			out = append(out, w[:target])
			w = w[target:]
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// tailOnWordBoundary returns roughly the last n characters of text,
// extended left to the nearest word boundary.
func tailOnWordBoundary(text string, n int) string {
	if n <= 0 || len(text) <= n {
		if n <= 0 {
			return ""
		}
		return text
	}
	cut := len(text) - n
	if idx := strings.LastIndexByte(text[:cut], ' '); idx >= 0 {
		cut = idx + 1
	}
	return strings.TrimSpace(text[cut:])
}
