// Package augment prepends situating context to chunks before they are
// embedded.
//
// Each chunk is shown to the fast generation model together with an
// excerpt of its source document; the model writes one or two sentences
// locating the chunk within the document, and that context is prepended
// to the embedded text. Augmentation is best effort: a failed chunk
// falls back to its raw text so indexing never stalls on the model.
package augment

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/foliolabs/folio/internal/chunker"
	"github.com/foliolabs/folio/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// excerptChars bounds the document excerpt included in each prompt.
const excerptChars = 6000

// Completer is the single-prompt model call used for augmentation.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Config configures the augmenter.
type Config struct {
	// Enabled toggles augmentation; when off, chunks embed raw.
	Enabled bool
	// MinDocLength skips augmentation for short documents whose chunks
	// already carry enough context.
	MinDocLength int
	// Concurrency bounds in-flight model calls per file.
	Concurrency int
}

// Augmenter situates chunks.
type Augmenter struct {
	cfg   Config
	model Completer
	log   *logging.Logger
}

// New creates an augmenter.
func New(cfg Config, model Completer, log *logging.Logger) *Augmenter {
	if cfg.MinDocLength <= 0 {
		cfg.MinDocLength = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	return &Augmenter{cfg: cfg, model: model, log: log}
}

// Situate returns the text to embed for each chunk, in chunk order.
// When augmentation applies, entry i is the situating context followed
// by the chunk text; otherwise it is the raw chunk text.
func (a *Augmenter) Situate(ctx context.Context, fileName, docText string, chunks []chunker.Chunk) []string {
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	if !a.cfg.Enabled || a.model == nil || len(docText) < a.cfg.MinDocLength || len(chunks) == 0 {
		return out
	}

	excerpt := truncateExcerpt(docText)

	g := &errgroup.Group{}
	g.SetLimit(a.cfg.Concurrency)
	for i := range chunks {
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			situated, err := a.situateOne(ctx, fileName, excerpt, chunks[i].Text)
			if err != nil {
				a.log.Warn(ctx, "chunk augmentation failed, embedding raw text",
					zap.String("file", fileName),
					zap.Int("chunk_index", chunks[i].Index),
					zap.Error(err))
				return nil
			}
			out[i] = situated
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// truncateExcerpt bounds the document excerpt, cutting on a rune
// boundary and marking the cut so the model knows the document
// continues.
func truncateExcerpt(docText string) string {
	if len(docText) <= excerptChars {
		return docText
	}
	cut := excerptChars
	for cut > 0 && !utf8.RuneStart(docText[cut]) {
		cut--
	}
	return docText[:cut] + "\n[document truncated]"
}

func (a *Augmenter) situateOne(ctx context.Context, fileName, excerpt, chunkText string) (string, error) {
	prompt := fmt.Sprintf(`<document file=%q>
%s
</document>

Here is a chunk from that document:

<chunk>
%s
</chunk>

Write one or two short sentences situating this chunk within the overall document, for use as a search retrieval preamble. Answer with the sentences only.`, fileName, excerpt, chunkText)

	situating, err := a.model.Complete(ctx, prompt, 200)
	if err != nil {
		return "", err
	}
	situating = strings.TrimSpace(situating)
	if situating == "" {
		return chunkText, nil
	}
	return situating + "\n\n" + chunkText, nil
}
