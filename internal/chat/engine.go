// Package chat runs conversations grounded in a folder's indexed
// documents.
//
// The standard mode retrieves once and streams an answer over the
// results. The agentic mode gives the model search and file-reading
// tools and loops until it stops calling them or the iteration cap
// forces a final answer. Both modes stream typed events and persist
// the exchange only after the answer completes, so an interrupted
// stream leaves no partial assistant message behind.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foliolabs/folio/internal/fault"
	"github.com/foliolabs/folio/internal/llm"
	"github.com/foliolabs/folio/internal/logging"
	"github.com/foliolabs/folio/internal/metrics"
	"github.com/foliolabs/folio/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatStore is the persistence surface the engine uses.
type ChatStore interface {
	GetFolder(ctx context.Context, tenantID string, folderID uuid.UUID) (*store.Folder, error)
	CreateConversation(ctx context.Context, tenantID string, folderID uuid.UUID) (*store.Conversation, error)
	GetConversation(ctx context.Context, tenantID string, conversationID uuid.UUID) (*store.Conversation, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*store.Message, error)
	AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string, citations map[string]store.Citation) (*store.Message, error)
	GetFile(ctx context.Context, tenantID string, folderID, fileID uuid.UUID) (*store.File, error)
	GetFileChunks(ctx context.Context, tenantID string, fileID uuid.UUID) ([]*store.Chunk, error)
}

// Searcher runs folder-scoped retrieval.
type Searcher interface {
	Search(ctx context.Context, tenantID string, folderID uuid.UUID, query string, limit int) ([]store.SearchCandidate, error)
}

// Generator is the model surface the engine uses.
type Generator interface {
	StreamMessage(ctx context.Context, req llm.Request, onText func(string)) (*llm.Response, error)
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// DeepLinker resolves a remote file ID to its drive URL.
type DeepLinker interface {
	DeepLink(remoteFileID string) string
}

// Resyncer asks for a background folder re-sync. Implementations must
// not block.
type Resyncer interface {
	TriggerSync(folderID uuid.UUID)
}

// Config bounds the agentic loop and sizes tool results.
type Config struct {
	MaxIterations     int
	MaxIterationsCap  int
	HistoryMessages   int
	ToolResultMaxSize int
	// StaleAfter triggers a background re-sync when a chat starts
	// against a folder not synced for this long. Zero disables.
	StaleAfter time.Duration
}

// Engine runs chats.
type Engine struct {
	cfg      Config
	store    ChatStore
	searcher Searcher
	model    Generator
	links    DeepLinker
	resync   Resyncer
	metrics  *metrics.Metrics
	log      *logging.Logger
}

// New creates a chat engine. resync may be nil.
func New(cfg Config, st ChatStore, searcher Searcher, model Generator, links DeepLinker, resync Resyncer, m *metrics.Metrics, log *logging.Logger) *Engine {
	if cfg.MaxIterationsCap <= 0 {
		cfg.MaxIterationsCap = 10
	}
	if cfg.MaxIterations <= 0 || cfg.MaxIterations > cfg.MaxIterationsCap {
		cfg.MaxIterations = 3
	}
	if cfg.HistoryMessages <= 0 {
		cfg.HistoryMessages = 10
	}
	if cfg.ToolResultMaxSize <= 0 {
		cfg.ToolResultMaxSize = 500
	}
	return &Engine{cfg: cfg, store: st, searcher: searcher, model: model, links: links, resync: resync, metrics: m, log: log.Named("chat")}
}

// Request is one chat turn.
type Request struct {
	TenantID       string
	FolderID       uuid.UUID
	ConversationID *uuid.UUID
	Query          string
	Agentic        bool
	// MaxIterations overrides the configured tool budget for this turn
	// when positive. Clamped to the configured cap.
	MaxIterations int
}

// Chat runs one turn and streams events on the returned channel. The
// channel closes after the terminal done or error event.
func (e *Engine) Chat(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 64)
	go func() {
		defer close(events)
		e.run(ctx, req, events)
	}()
	return events
}

func (e *Engine) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) fail(ctx context.Context, events chan<- Event, kind fault.Kind, msg string) {
	e.emit(ctx, events, Event{Type: EventError, Kind: kind.String(), Message: msg})
}

func (e *Engine) run(ctx context.Context, req Request, events chan<- Event) {
	ctx = logging.WithTenant(ctx, req.TenantID)
	ctx = logging.WithFolder(ctx, req.FolderID.String())

	folder, err := e.store.GetFolder(ctx, req.TenantID, req.FolderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.fail(ctx, events, fault.KindNotFound, "folder not found")
			return
		}
		e.log.Error(ctx, "loading folder", zap.Error(err))
		e.fail(ctx, events, fault.KindUnknown, "internal error")
		return
	}

	if e.resync != nil && e.cfg.StaleAfter > 0 &&
		(folder.LastSyncedAt == nil || time.Since(*folder.LastSyncedAt) > e.cfg.StaleAfter) {
		e.resync.TriggerSync(folder.ID)
	}

	conv, history, err := e.loadConversation(ctx, req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.fail(ctx, events, fault.KindNotFound, "conversation not found")
			return
		}
		e.log.Error(ctx, "loading conversation", zap.Error(err))
		e.fail(ctx, events, fault.KindUnknown, "internal error")
		return
	}

	var (
		answer string
		cits   *citations
		runErr error
	)
	if req.Agentic {
		answer, cits, runErr = e.runAgentic(ctx, req, folder, history, events)
	} else {
		answer, cits, runErr = e.runStandard(ctx, req, folder, history, events)
	}
	if runErr != nil {
		if ctx.Err() != nil {
			// Client gone; nothing to persist, nobody to tell.
			return
		}
		e.log.Error(ctx, "chat turn failed", zap.Error(runErr))
		e.fail(ctx, events, fault.KindOf(runErr), "generation failed")
		return
	}

	citedMap := cits.cited(answer)
	if _, err := e.store.AppendMessage(ctx, conv.ID, "user", req.Query, nil); err != nil {
		e.log.Error(ctx, "persisting user message", zap.Error(err))
	} else if _, err := e.store.AppendMessage(ctx, conv.ID, "assistant", answer, citedMap); err != nil {
		e.log.Error(ctx, "persisting assistant message", zap.Error(err))
	}

	e.emit(ctx, events, Event{
		Type:           EventDone,
		ConversationID: conv.ID.String(),
		Citations:      citedMap,
		SearchedFiles:  cits.files,
	})
}

// loadConversation resolves or creates the conversation and returns
// the trailing history window.
func (e *Engine) loadConversation(ctx context.Context, req Request) (*store.Conversation, []*store.Message, error) {
	if req.ConversationID == nil {
		conv, err := e.store.CreateConversation(ctx, req.TenantID, req.FolderID)
		return conv, nil, err
	}
	conv, err := e.store.GetConversation(ctx, req.TenantID, *req.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	if conv.FolderID != req.FolderID {
		return nil, nil, store.ErrNotFound
	}
	history, err := e.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(history) > e.cfg.HistoryMessages {
		history = history[len(history)-e.cfg.HistoryMessages:]
	}
	return conv, history, nil
}

func historyMessages(history []*store.Message) []llm.Message {
	var out []llm.Message
	for _, m := range history {
		switch m.Role {
		case "user":
			out = append(out, llm.UserText(m.Content))
		case "assistant":
			out = append(out, llm.AssistantText(m.Content))
		}
	}
	return out
}

// runStandard retrieves once and streams an answer grounded in the
// results.
func (e *Engine) runStandard(ctx context.Context, req Request, folder *store.Folder, history []*store.Message, events chan<- Event) (string, *citations, error) {
	cits := newCitations()
	if !e.emit(ctx, events, Event{Type: EventStatus, Phase: PhaseRetrieving}) {
		return "", nil, ctx.Err()
	}

	results, err := e.searcher.Search(ctx, req.TenantID, req.FolderID, req.Query, 0)
	if err != nil {
		return "", nil, fmt.Errorf("retrieval: %w", err)
	}

	system := standardSystemPrompt
	var sources string
	if folder.FilesTotal == 0 || len(results) == 0 {
		system += "\n\n" + emptyFolderNote
	}
	if len(results) > 0 {
		sources = "Sources:\n\n" + e.renderResults(results, cits)
	}

	userContent := req.Query
	if sources != "" {
		userContent = sources + "\n\nQuestion: " + req.Query
	}
	messages := append(historyMessages(history), llm.UserText(userContent))

	if !e.emit(ctx, events, Event{Type: EventStatus, Phase: PhaseAnswering}) {
		return "", nil, ctx.Err()
	}
	resp, err := e.model.StreamMessage(ctx, llm.Request{System: system, Messages: messages}, func(text string) {
		e.emit(ctx, events, Event{Type: EventToken, Text: text})
	})
	if err != nil {
		return "", nil, err
	}
	e.metrics.ChatIterations.Observe(1)
	return resp.Text(), cits, nil
}

// runAgentic loops model turns with tools until the model answers or
// the iteration cap forces a final turn without tools.
func (e *Engine) runAgentic(ctx context.Context, req Request, folder *store.Folder, history []*store.Message, events chan<- Event) (string, *citations, error) {
	cits := newCitations()
	system := agenticSystemPrompt
	if folder.FilesTotal == 0 {
		system += "\n\n" + emptyFolderNote
	}

	messages := append(historyMessages(history), llm.UserText(req.Query))
	tools := toolDefinitions()

	maxIterations := e.cfg.MaxIterations
	if req.MaxIterations > 0 {
		maxIterations = req.MaxIterations
		if maxIterations > e.cfg.MaxIterationsCap {
			maxIterations = e.cfg.MaxIterationsCap
		}
	}

	for iteration := 1; ; iteration++ {
		final := iteration > maxIterations
		if !e.emit(ctx, events, Event{Type: EventStatus, Phase: PhaseThinking, Iteration: iteration}) {
			return "", nil, ctx.Err()
		}

		turn := llm.Request{System: system, Messages: messages, Tools: tools}
		if final {
			// Out of tool budget; the model must answer with what it has.
			turn.Tools = nil
			messages = append(messages, llm.UserText("Answer now using the information gathered so far. Do not request more searches."))
			turn.Messages = messages
		}

		resp, err := e.model.StreamMessage(ctx, turn, func(text string) {
			e.emit(ctx, events, Event{Type: EventToken, Text: text})
		})
		if err != nil {
			return "", nil, err
		}

		uses := resp.ToolUses()
		if final || resp.StopReason != llm.StopToolUse || len(uses) == 0 {
			e.metrics.ChatIterations.Observe(float64(iteration))
			return resp.Text(), cits, nil
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content})
		var resultBlocks []llm.ContentBlock
		for _, use := range uses {
			if !e.emit(ctx, events, Event{Type: EventStatus, Phase: PhaseTool, Iteration: iteration, Tool: use.Name}) {
				return "", nil, ctx.Err()
			}
			result, isErr := e.execTool(ctx, req, use.Name, use.Input, cits)
			resultBlocks = append(resultBlocks, llm.ToolResult(use.ID, result, isErr))
		}
		messages = append(messages, llm.Message{Role: "user", Content: resultBlocks})
	}
}

// execTool runs one tool call. Failures are reported to the model as
// error results; they never abort the chat turn.
func (e *Engine) execTool(ctx context.Context, req Request, name string, input json.RawMessage, cits *citations) (string, bool) {
	call, err := parseToolCall(name, input)
	if err != nil {
		return errJSON(err.Error()), true
	}

	switch c := call.(type) {
	case searchFolderCall:
		results, err := e.searcher.Search(ctx, req.TenantID, req.FolderID, c.Query, 0)
		if err != nil {
			e.log.Warn(ctx, "tool search failed", zap.Error(err))
			return errJSON("search failed"), true
		}
		if len(results) == 0 {
			return "No passages matched this query.", false
		}
		return e.renderResults(results, cits), false

	case getFileChunksCall:
		file, ok := e.authorizeFile(ctx, req, c.FileID)
		if !ok {
			return errJSON("access denied"), true
		}
		chunks, err := e.store.GetFileChunks(ctx, req.TenantID, file.ID)
		if err != nil {
			e.log.Warn(ctx, "loading file chunks", zap.Error(err))
			return errJSON("access denied"), true
		}
		if len(chunks) == 0 {
			return "The file has no indexed content.", false
		}
		var out string
		link := e.links.DeepLink(file.RemoteID)
		for i, ch := range chunks {
			n := cits.add(ch.ID, file.ID, file.Name, ch.Text, ch.Location, link)
			if i > 0 {
				out += "\n\n"
			}
			out += renderSource(n, file.Name, file.ID, ch.Location, ch.Text, e.cfg.ToolResultMaxSize)
		}
		return out, false

	case getFileCall:
		file, ok := e.authorizeFile(ctx, req, c.FileID)
		if !ok {
			return errJSON("access denied"), true
		}
		meta := map[string]any{
			"file_id":     file.ID.String(),
			"name":        file.Name,
			"mime_type":   file.MimeType,
			"modified_at": file.ModifiedAt.Format(time.RFC3339),
			"status":      file.IndexStatus,
			"preview":     file.Preview,
		}
		b, _ := json.Marshal(meta)
		return string(b), false

	case rewriteQueryCall:
		prompt := "Rewrite this document search query to surface better results. Reply with the rewritten query only.\n\nQuery: " + c.OriginalQuery
		if c.Feedback != "" {
			prompt += "\nProblem with the previous results: " + c.Feedback
		}
		rewritten, err := e.model.Complete(ctx, prompt, 100)
		if err != nil {
			e.log.Warn(ctx, "query rewrite failed", zap.Error(err))
			return errJSON("rewrite failed"), true
		}
		return rewritten, false

	default:
		return errJSON("unknown tool"), true
	}
}

// authorizeFile resolves a model-supplied file ID within the chat's
// folder. Any failure, including a file that exists in another folder
// or tenant, reads as access denied so file IDs cannot be probed.
func (e *Engine) authorizeFile(ctx context.Context, req Request, rawID string) (*store.File, bool) {
	fileID, err := parseFileID(rawID)
	if err != nil {
		return nil, false
	}
	file, err := e.store.GetFile(ctx, req.TenantID, req.FolderID, fileID)
	if err != nil {
		return nil, false
	}
	return file, true
}

// renderResults numbers search results through the citation registry
// and renders them for a prompt or tool result.
func (e *Engine) renderResults(results []store.SearchCandidate, cits *citations) string {
	var out string
	for i, r := range results {
		n := cits.add(r.ChunkID, r.FileID, r.FileName, r.Text, r.Location, e.links.DeepLink(r.FileRemoteID))
		if i > 0 {
			out += "\n\n"
		}
		out += renderSource(n, r.FileName, r.FileID, r.Location, r.Text, e.cfg.ToolResultMaxSize)
	}
	return out
}

func errJSON(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
