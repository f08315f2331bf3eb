package chat

import "github.com/foliolabs/folio/internal/store"

// Event types streamed to the transport layer, which owns the wire
// framing of each type.
const (
	EventStatus = "status"
	EventToken  = "token"
	EventDone   = "done"
	EventError  = "error"
)

// Status phases.
const (
	PhaseRetrieving = "retrieving"
	PhaseThinking   = "thinking"
	PhaseTool       = "tool"
	PhaseAnswering  = "answering"
)

// Event is one frame of a chat stream.
type Event struct {
	Type string

	// status
	Phase     string
	Iteration int
	Tool      string

	// token
	Text string

	// done
	ConversationID string
	Citations      map[string]store.Citation
	SearchedFiles  []string

	// error
	Kind    string
	Message string
}
