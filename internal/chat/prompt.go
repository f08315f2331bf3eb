package chat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/foliolabs/folio/internal/store"
	"github.com/google/uuid"
)

const standardSystemPrompt = `You are a document assistant answering questions about the user's cloud drive folder.

Answer only from the provided sources. Cite every claim with the bracketed number of its source, like [1] or [3]. If the sources do not contain the answer, say so plainly instead of guessing. Keep answers concise.`

const agenticSystemPrompt = `You are a document assistant answering questions about the user's cloud drive folder.

You have tools to search the folder and read files. Search before answering; refine or rewrite the query and read whole files when the first results are not enough. Cite every claim with the bracketed number given in tool results, like [1] or [3]. If the documents do not contain the answer, say so plainly. Keep answers concise.`

const emptyFolderNote = "The folder contains no indexed documents yet. Tell the user that, and answer general questions without citing sources."

// citationExcerptChars bounds the excerpt stored per citation.
const citationExcerptChars = 200

// citations numbers sources as they surface and resolves [N] markers
// back to chunks. A chunk keeps its first number across repeated hits.
type citations struct {
	next     int
	byChunk  map[uuid.UUID]int
	entries  map[string]store.Citation
	files    []string
	seenFile map[uuid.UUID]bool
}

func newCitations() *citations {
	return &citations{
		next:     1,
		byChunk:  map[uuid.UUID]int{},
		entries:  map[string]store.Citation{},
		seenFile: map[uuid.UUID]bool{},
	}
}

// add registers a source chunk and returns its citation number.
func (c *citations) add(chunkID, fileID uuid.UUID, fileName, text string, loc store.Location, deepLink string) int {
	if n, ok := c.byChunk[chunkID]; ok {
		return n
	}
	n := c.next
	c.next++
	c.byChunk[chunkID] = n

	excerpt := text
	if len(excerpt) > citationExcerptChars {
		excerpt = excerpt[:citationExcerptChars] + "..."
	}
	c.entries[strconv.Itoa(n)] = store.Citation{
		ChunkID:       chunkID,
		FileID:        fileID,
		FileName:      fileName,
		Location:      loc,
		Excerpt:       excerpt,
		DriveDeepLink: deepLink,
	}
	if !c.seenFile[fileID] {
		c.seenFile[fileID] = true
		c.files = append(c.files, fileName)
	}
	return n
}

// cited returns only the entries whose numbers appear in the answer,
// so the done event does not carry sources the model ignored.
func (c *citations) cited(answer string) map[string]store.Citation {
	out := map[string]store.Citation{}
	for key, cit := range c.entries {
		if strings.Contains(answer, "["+key+"]") {
			out[key] = cit
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// formatLocation renders a chunk location for prompts and logs.
func formatLocation(loc store.Location) string {
	switch loc.Type {
	case "pdf", "image":
		return fmt.Sprintf("page %d", loc.Page)
	case "sheet":
		return fmt.Sprintf("%s rows %s", loc.SheetName, loc.RowRange)
	default:
		if len(loc.HeadingPath) > 0 {
			return strings.Join(loc.HeadingPath, " > ")
		}
		return fmt.Sprintf("paragraph %d", loc.ParaIndex+1)
	}
}

// renderSource renders one numbered source line for a prompt or tool
// result. The text is truncated to maxChars.
func renderSource(n int, fileName string, fileID uuid.UUID, loc store.Location, text string, maxChars int) string {
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars] + "..."
	}
	return fmt.Sprintf("[%d] %s (file_id=%s, %s)\n%s", n, fileName, fileID, formatLocation(loc), text)
}
