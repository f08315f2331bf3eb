package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/foliolabs/folio/internal/store"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// RegisterFolderRequest is the body of POST /api/v1/folders.
type RegisterFolderRequest struct {
	RemoteID string `json:"remote_id"`
	Name     string `json:"name"`
}

// FolderResponse is the folder representation returned by the API.
type FolderResponse struct {
	ID           string     `json:"id"`
	RemoteID     string     `json:"remote_id"`
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	FilesTotal   int        `json:"files_total"`
	FilesIndexed int        `json:"files_indexed"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

func folderResponse(f *store.Folder) FolderResponse {
	return FolderResponse{
		ID:           f.ID.String(),
		RemoteID:     f.RemoteID,
		Name:         f.Name,
		Status:       string(f.Status),
		FilesTotal:   f.FilesTotal,
		FilesIndexed: f.FilesIndexed,
		LastSyncedAt: f.LastSyncedAt,
	}
}

// FileResponse is one file row of GET /api/v1/folders/:id/files.
type FileResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	MimeType    string    `json:"mime_type"`
	ModifiedAt  time.Time `json:"modified_at"`
	IndexStatus string    `json:"index_status"`
	LastError   string    `json:"last_error,omitempty"`
}

// handleRegisterFolder registers a drive folder and queues its first
// sync. Registration is idempotent on (tenant, remote id).
func (s *Server) handleRegisterFolder(c echo.Context) error {
	var req RegisterFolderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RemoteID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "remote_id is required")
	}
	if req.Name == "" {
		req.Name = req.RemoteID
	}

	folder, err := s.store.RegisterFolder(c.Request().Context(), tenant(c), req.RemoteID, req.Name)
	if err != nil {
		s.log.Error(c.Request().Context(), "registering folder", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "registration failed")
	}
	s.sync.TriggerSync(folder.ID)
	return c.JSON(http.StatusCreated, folderResponse(folder))
}

func (s *Server) handleGetFolder(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	folder, err := s.store.GetFolder(c.Request().Context(), tenant(c), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "folder not found")
	}
	if err != nil {
		s.log.Error(c.Request().Context(), "loading folder", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}
	return c.JSON(http.StatusOK, folderResponse(folder))
}

func (s *Server) handleListFiles(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	// The tenant check rides on the folder lookup; files are scoped by
	// folder after that.
	if _, err := s.store.GetFolder(c.Request().Context(), tenant(c), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "folder not found")
		}
		s.log.Error(c.Request().Context(), "loading folder", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}

	files, err := s.store.ListFiles(c.Request().Context(), id)
	if err != nil {
		s.log.Error(c.Request().Context(), "listing files", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing failed")
	}
	out := make([]FileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, FileResponse{
			ID:          f.ID.String(),
			Name:        f.Name,
			MimeType:    f.MimeType,
			ModifiedAt:  f.ModifiedAt,
			IndexStatus: string(f.IndexStatus),
			LastError:   f.LastError,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// handleSyncFolder reconciles the folder inline and reports the diff.
func (s *Server) handleSyncFolder(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if _, err := s.store.GetFolder(c.Request().Context(), tenant(c), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "folder not found")
		}
		s.log.Error(c.Request().Context(), "loading folder", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}
	diff, err := s.sync.SyncNow(c.Request().Context(), id)
	if err != nil {
		s.log.Error(c.Request().Context(), "syncing folder", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "sync failed")
	}
	return c.JSON(http.StatusOK, diff)
}

func (s *Server) handleDeleteFolder(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	err = s.store.DeleteFolder(c.Request().Context(), tenant(c), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "folder not found")
	}
	if err != nil {
		s.log.Error(c.Request().Context(), "deleting folder", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "deletion failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// MessageResponse is one turn of GET /api/v1/conversations/:id.
type MessageResponse struct {
	Role      string                    `json:"role"`
	Content   string                    `json:"content"`
	Citations map[string]store.Citation `json:"citations,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
}

// ConversationResponse is the body of GET /api/v1/conversations/:id.
type ConversationResponse struct {
	ID       string            `json:"id"`
	FolderID string            `json:"folder_id"`
	Messages []MessageResponse `json:"messages"`
}

func (s *Server) handleGetConversation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	conv, err := s.store.GetConversation(c.Request().Context(), tenant(c), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		s.log.Error(c.Request().Context(), "loading conversation", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}

	msgs, err := s.store.ListMessages(c.Request().Context(), conv.ID)
	if err != nil {
		s.log.Error(c.Request().Context(), "listing messages", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}
	resp := ConversationResponse{ID: conv.ID.String(), FolderID: conv.FolderID.String(), Messages: make([]MessageResponse, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, MessageResponse{
			Role: m.Role, Content: m.Content, Citations: m.Citations, CreatedAt: m.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, resp)
}
