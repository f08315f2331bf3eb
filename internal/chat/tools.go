package chat

import (
	"encoding/json"
	"fmt"

	"github.com/foliolabs/folio/internal/llm"
	"github.com/google/uuid"
)

// Tool names offered to the model in agentic mode.
const (
	toolSearchFolder  = "search_folder"
	toolGetFileChunks = "get_file_chunks"
	toolGetFile       = "get_file"
	toolRewriteQuery  = "rewrite_query"
)

// toolCall is the closed set of tool invocations the engine executes.
type toolCall interface {
	isToolCall()
}

type searchFolderCall struct {
	Query string `json:"query"`
}

type getFileChunksCall struct {
	FileID string `json:"file_id"`
}

type getFileCall struct {
	FileID string `json:"file_id"`
}

type rewriteQueryCall struct {
	OriginalQuery string `json:"original_query"`
	Feedback      string `json:"feedback"`
}

func (searchFolderCall) isToolCall()  {}
func (getFileChunksCall) isToolCall() {}
func (getFileCall) isToolCall()       {}
func (rewriteQueryCall) isToolCall()  {}

// parseToolCall decodes a tool_use block into its typed call. An
// unknown tool name or malformed input is the model's mistake, and is
// reported back to it as an error tool result rather than failing the
// chat.
func parseToolCall(name string, input json.RawMessage) (toolCall, error) {
	decode := func(v any) error {
		if len(input) == 0 {
			return fmt.Errorf("missing tool input")
		}
		return json.Unmarshal(input, v)
	}
	switch name {
	case toolSearchFolder:
		var c searchFolderCall
		if err := decode(&c); err != nil {
			return nil, err
		}
		if c.Query == "" {
			return nil, fmt.Errorf("query is required")
		}
		return c, nil
	case toolGetFileChunks:
		var c getFileChunksCall
		if err := decode(&c); err != nil {
			return nil, err
		}
		return c, nil
	case toolGetFile:
		var c getFileCall
		if err := decode(&c); err != nil {
			return nil, err
		}
		return c, nil
	case toolRewriteQuery:
		var c rewriteQueryCall
		if err := decode(&c); err != nil {
			return nil, err
		}
		if c.OriginalQuery == "" {
			return nil, fmt.Errorf("original_query is required")
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

// parseFileID validates a model-supplied file identifier before it
// reaches the store.
func parseFileID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid file id %q", raw)
	}
	return id, nil
}

// toolDefinitions returns the tool schemas sent with every agentic
// request.
func toolDefinitions() []llm.Tool {
	return []llm.Tool{
		{
			Name:        toolSearchFolder,
			Description: "Search the folder's indexed documents. Returns the most relevant passages, each tagged with a citation number.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "Search query"}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        toolGetFileChunks,
			Description: "Read all indexed passages of one file, in document order. Use after a search surfaces a promising file.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"file_id": {"type": "string", "description": "File identifier from a previous result"}
				},
				"required": ["file_id"]
			}`),
		},
		{
			Name:        toolGetFile,
			Description: "Fetch one file's metadata and summary preview.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"file_id": {"type": "string", "description": "File identifier from a previous result"}
				},
				"required": ["file_id"]
			}`),
		},
		{
			Name:        toolRewriteQuery,
			Description: "Rewrite a search query that returned poor results into a better one.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"original_query": {"type": "string", "description": "The query that returned poor results"},
					"feedback": {"type": "string", "description": "What was wrong with the results"}
				},
				"required": ["original_query", "feedback"]
			}`),
		},
	}
}
