package augment

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/foliolabs/folio/internal/chunker"
	"github.com/foliolabs/folio/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
	fail     func(prompt string) bool
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, _ int) (string, error) {
	f.calls.Add(1)
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if f.fail != nil && f.fail(prompt) {
		return "", fmt.Errorf("model unavailable")
	}
	return "This chunk covers testing.", nil
}

func chunks(texts ...string) []chunker.Chunk {
	out := make([]chunker.Chunk, len(texts))
	for i, t := range texts {
		out[i] = chunker.Chunk{Index: i, Text: t}
	}
	return out
}

func longDoc() string { return strings.Repeat("document body ", 100) }

func TestSituatePrependsContext(t *testing.T) {
	model := &fakeCompleter{}
	a := New(Config{Enabled: true}, model, logging.NewNop())

	out := a.Situate(context.Background(), "report.md", longDoc(), chunks("alpha", "beta"))
	require.Len(t, out, 2)
	assert.Equal(t, "This chunk covers testing.\n\nalpha", out[0])
	assert.Equal(t, "This chunk covers testing.\n\nbeta", out[1])
	assert.Equal(t, int32(2), model.calls.Load())
}

func TestSituateSkipsShortDocuments(t *testing.T) {
	model := &fakeCompleter{}
	a := New(Config{Enabled: true, MinDocLength: 500}, model, logging.NewNop())

	out := a.Situate(context.Background(), "note.txt", "tiny doc", chunks("alpha"))
	assert.Equal(t, []string{"alpha"}, out)
	assert.Zero(t, model.calls.Load())
}

func TestSituateDisabled(t *testing.T) {
	model := &fakeCompleter{}
	a := New(Config{Enabled: false}, model, logging.NewNop())

	out := a.Situate(context.Background(), "report.md", longDoc(), chunks("alpha"))
	assert.Equal(t, []string{"alpha"}, out)
	assert.Zero(t, model.calls.Load())
}

func TestSituateFailedChunkKeepsRawText(t *testing.T) {
	model := &fakeCompleter{fail: func(prompt string) bool {
		return strings.Contains(prompt, "beta")
	}}
	a := New(Config{Enabled: true}, model, logging.NewNop())

	out := a.Situate(context.Background(), "report.md", longDoc(), chunks("alpha", "beta", "gamma"))
	require.Len(t, out, 3)
	assert.Contains(t, out[0], "alpha")
	assert.True(t, strings.HasPrefix(out[0], "This chunk covers testing."))
	assert.Equal(t, "beta", out[1])
	assert.True(t, strings.HasPrefix(out[2], "This chunk covers testing."))
}

func TestSituateBoundsConcurrency(t *testing.T) {
	model := &fakeCompleter{}
	a := New(Config{Enabled: true, Concurrency: 2}, model, logging.NewNop())

	var texts []string
	for i := 0; i < 20; i++ {
		texts = append(texts, fmt.Sprintf("chunk %d", i))
	}
	_ = a.Situate(context.Background(), "big.md", longDoc(), chunks(texts...))
	assert.LessOrEqual(t, model.peak.Load(), int32(2))
}

func TestTruncateExcerpt(t *testing.T) {
	short := "fits as-is"
	assert.Equal(t, short, truncateExcerpt(short))

	long := strings.Repeat("a", excerptChars+500)
	got := truncateExcerpt(long)
	assert.True(t, strings.HasSuffix(got, "\n[document truncated]"))
	assert.Len(t, strings.TrimSuffix(got, "\n[document truncated]"), excerptChars)

	// A multi-byte rune straddling the limit is dropped whole, never
	// split into invalid bytes. The leading byte shifts every two-byte
	// rune so one straddles the cut.
	runes := "a" + strings.Repeat("é", excerptChars)
	got = truncateExcerpt(runes)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "\n[document truncated]"))
}

func TestSituatePromptIncludesDocumentAndChunk(t *testing.T) {
	var gotPrompt string
	model := &fakeCompleter{fail: func(prompt string) bool {
		gotPrompt = prompt
		return false
	}}
	a := New(Config{Enabled: true}, model, logging.NewNop())

	_ = a.Situate(context.Background(), "report.md", longDoc(), chunks("needle text"))
	assert.Contains(t, gotPrompt, `file="report.md"`)
	assert.Contains(t, gotPrompt, "needle text")
	assert.Contains(t, gotPrompt, "document body")
}
