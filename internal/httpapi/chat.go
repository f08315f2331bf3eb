package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/foliolabs/folio/internal/chat"
	"github.com/foliolabs/folio/internal/store"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ChatRequest is the body of POST /api/v1/folders/:id/chat.
type ChatRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	Agentic        bool   `json:"agentic,omitempty"`
	MaxIterations  int    `json:"max_iterations,omitempty"`
}

// Wire forms of the chat stream, one per event type. Token frames are
// `{"token": ...}`, progress frames `{"agent_status": {...}}`, the
// terminal frame `{"done": true, ...}` and errors `{"error", "message"}`.
type tokenFrame struct {
	Token string `json:"token"`
}

type agentStatus struct {
	Phase     string `json:"phase"`
	Iteration int    `json:"iteration"`
	Tool      string `json:"tool,omitempty"`
}

type statusFrame struct {
	AgentStatus agentStatus `json:"agent_status"`
}

type doneFrame struct {
	Done           bool                      `json:"done"`
	Citations      map[string]store.Citation `json:"citations"`
	SearchedFiles  []string                  `json:"searched_files"`
	ConversationID string                    `json:"conversation_id"`
}

type errorFrame struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// chatFrame maps one engine event to its wire form.
func chatFrame(ev chat.Event) any {
	switch ev.Type {
	case chat.EventToken:
		return tokenFrame{Token: ev.Text}
	case chat.EventStatus:
		return statusFrame{AgentStatus: agentStatus{Phase: ev.Phase, Iteration: ev.Iteration, Tool: ev.Tool}}
	case chat.EventDone:
		citations := ev.Citations
		if citations == nil {
			citations = map[string]store.Citation{}
		}
		searched := ev.SearchedFiles
		if searched == nil {
			searched = []string{}
		}
		return doneFrame{Done: true, Citations: citations, SearchedFiles: searched, ConversationID: ev.ConversationID}
	case chat.EventError:
		return errorFrame{Error: ev.Kind, Message: ev.Message}
	default:
		return nil
	}
}

// handleChat streams a chat turn as server-sent events, one JSON event
// per data frame. The stream ends after the terminal done or error
// event.
func (s *Server) handleChat(c echo.Context) error {
	folderID, err := pathID(c)
	if err != nil {
		return err
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if req.MaxIterations < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_iterations must be positive")
	}

	chatReq := chat.Request{
		TenantID:      tenant(c),
		FolderID:      folderID,
		Query:         req.Query,
		Agentic:       req.Agentic,
		MaxIterations: req.MaxIterations,
	}
	if req.ConversationID != "" {
		convID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation_id")
		}
		chatReq.ConversationID = &convID
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	for ev := range s.chat.Chat(ctx, chatReq) {
		frame := chatFrame(ev)
		if frame == nil {
			continue
		}
		payload, err := json.Marshal(frame)
		if err != nil {
			s.log.Error(ctx, "encoding chat event")
			break
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
			// Client went away; the engine sees the canceled context.
			break
		}
		resp.Flush()
	}
	return nil
}
