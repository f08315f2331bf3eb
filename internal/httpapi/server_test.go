package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/foliolabs/folio/internal/chat"
	"github.com/foliolabs/folio/internal/logging"
	"github.com/foliolabs/folio/internal/store"
	"github.com/foliolabs/folio/internal/syncer"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFolderStore struct {
	folder *store.Folder
	files  []*store.File
	conv   *store.Conversation
	msgs   []*store.Message

	deleted []uuid.UUID
}

func (f *fakeFolderStore) RegisterFolder(_ context.Context, tenantID, remoteID, name string) (*store.Folder, error) {
	f.folder = &store.Folder{ID: uuid.New(), TenantID: tenantID, RemoteID: remoteID, Name: name, Status: store.FolderPending}
	return f.folder, nil
}

func (f *fakeFolderStore) GetFolder(_ context.Context, tenantID string, folderID uuid.UUID) (*store.Folder, error) {
	if f.folder == nil || f.folder.ID != folderID || f.folder.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return f.folder, nil
}

func (f *fakeFolderStore) DeleteFolder(_ context.Context, tenantID string, folderID uuid.UUID) error {
	if f.folder == nil || f.folder.ID != folderID || f.folder.TenantID != tenantID {
		return store.ErrNotFound
	}
	f.deleted = append(f.deleted, folderID)
	return nil
}

func (f *fakeFolderStore) ListFiles(context.Context, uuid.UUID) ([]*store.File, error) {
	return f.files, nil
}

func (f *fakeFolderStore) GetConversation(_ context.Context, tenantID string, conversationID uuid.UUID) (*store.Conversation, error) {
	if f.conv == nil || f.conv.ID != conversationID || f.conv.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return f.conv, nil
}

func (f *fakeFolderStore) ListMessages(context.Context, uuid.UUID) ([]*store.Message, error) {
	return f.msgs, nil
}

type fakeChatEngine struct {
	events []chat.Event
	reqs   []chat.Request
}

func (f *fakeChatEngine) Chat(_ context.Context, req chat.Request) <-chan chat.Event {
	f.reqs = append(f.reqs, req)
	ch := make(chan chat.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

type fakeTrigger struct {
	triggered []uuid.UUID
	synced    []uuid.UUID
	diff      syncer.Diff
	err       error
}

func (f *fakeTrigger) TriggerSync(id uuid.UUID) { f.triggered = append(f.triggered, id) }

func (f *fakeTrigger) SyncNow(_ context.Context, id uuid.UUID) (syncer.Diff, error) {
	f.synced = append(f.synced, id)
	return f.diff, f.err
}

func newTestServer(st *fakeFolderStore, engine *fakeChatEngine, trig *fakeTrigger) *Server {
	return NewServer(Config{}, st, engine, trig, nil, logging.NewNop())
}

func do(s *Server, method, path, tenant, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echoHeaderJSON, "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tenant != "" {
		req.Header.Set(tenantHeader, tenant)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

const echoHeaderJSON = "Content-Type"

func TestTenantHeaderRequired(t *testing.T) {
	s := newTestServer(&fakeFolderStore{}, &fakeChatEngine{}, &fakeTrigger{})
	rec := do(s, http.MethodPost, "/api/v1/folders", "", `{"remote_id":"r1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterFolderTriggersSync(t *testing.T) {
	st := &fakeFolderStore{}
	trig := &fakeTrigger{}
	s := newTestServer(st, &fakeChatEngine{}, trig)

	rec := do(s, http.MethodPost, "/api/v1/folders", "t1", `{"remote_id":"r1","name":"Docs"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp FolderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "r1", resp.RemoteID)
	assert.Equal(t, "pending", resp.Status)
	require.Len(t, trig.triggered, 1)
	assert.Equal(t, st.folder.ID, trig.triggered[0])
}

func TestRegisterFolderValidation(t *testing.T) {
	s := newTestServer(&fakeFolderStore{}, &fakeChatEngine{}, &fakeTrigger{})
	rec := do(s, http.MethodPost, "/api/v1/folders", "t1", `{"name":"no remote"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFolderWrongTenantIs404(t *testing.T) {
	st := &fakeFolderStore{folder: &store.Folder{ID: uuid.New(), TenantID: "t1", Status: store.FolderReady}}
	s := newTestServer(st, &fakeChatEngine{}, &fakeTrigger{})

	rec := do(s, http.MethodGet, "/api/v1/folders/"+st.folder.ID.String(), "t2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(s, http.MethodGet, "/api/v1/folders/"+st.folder.ID.String(), "t1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteFolder(t *testing.T) {
	st := &fakeFolderStore{folder: &store.Folder{ID: uuid.New(), TenantID: "t1"}}
	s := newTestServer(st, &fakeChatEngine{}, &fakeTrigger{})

	rec := do(s, http.MethodDelete, "/api/v1/folders/"+st.folder.ID.String(), "t1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, st.deleted, 1)
}

func TestSyncFolderReturnsDiff(t *testing.T) {
	st := &fakeFolderStore{folder: &store.Folder{ID: uuid.New(), TenantID: "t1"}}
	trig := &fakeTrigger{diff: syncer.Diff{Added: 2, Modified: 1, Deleted: 3}}
	s := newTestServer(st, &fakeChatEngine{}, trig)

	rec := do(s, http.MethodPost, "/api/v1/folders/"+st.folder.ID.String()+"/sync", "t1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var diff syncer.Diff
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &diff))
	assert.Equal(t, trig.diff, diff)
	require.Len(t, trig.synced, 1)
	assert.Equal(t, st.folder.ID, trig.synced[0])
}

func TestListFiles(t *testing.T) {
	st := &fakeFolderStore{
		folder: &store.Folder{ID: uuid.New(), TenantID: "t1"},
		files: []*store.File{{
			ID: uuid.New(), Name: "a.txt", MimeType: "text/plain",
			ModifiedAt: time.Now(), IndexStatus: store.FileCompleted,
		}},
	}
	s := newTestServer(st, &fakeChatEngine{}, &fakeTrigger{})

	rec := do(s, http.MethodGet, "/api/v1/folders/"+st.folder.ID.String()+"/files", "t1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var files []FileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, "completed", files[0].IndexStatus)
}

func TestChatStreamsSSE(t *testing.T) {
	folderID := uuid.New()
	convID := uuid.NewString()
	st := &fakeFolderStore{folder: &store.Folder{ID: folderID, TenantID: "t1"}}
	engine := &fakeChatEngine{events: []chat.Event{
		{Type: chat.EventStatus, Phase: chat.PhaseRetrieving, Iteration: 1},
		{Type: chat.EventToken, Text: "Hello"},
		{Type: chat.EventDone, ConversationID: convID,
			Citations:     map[string]store.Citation{"1": {FileName: "doc.md"}},
			SearchedFiles: []string{"doc.md"}},
	}}
	s := newTestServer(st, engine, &fakeTrigger{})

	rec := do(s, http.MethodPost, "/api/v1/folders/"+folderID.String()+"/chat", "t1", `{"query":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, frames, 3)
	for i, frame := range frames {
		require.True(t, strings.HasPrefix(frame, "data: "), frame)
		frames[i] = strings.TrimPrefix(frame, "data: ")
	}

	var status struct {
		AgentStatus *struct {
			Phase     string `json:"phase"`
			Iteration int    `json:"iteration"`
		} `json:"agent_status"`
	}
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &status))
	require.NotNil(t, status.AgentStatus)
	assert.Equal(t, chat.PhaseRetrieving, status.AgentStatus.Phase)
	assert.Equal(t, 1, status.AgentStatus.Iteration)

	assert.JSONEq(t, `{"token":"Hello"}`, frames[1])

	var done struct {
		Done           bool                      `json:"done"`
		Citations      map[string]store.Citation `json:"citations"`
		SearchedFiles  []string                  `json:"searched_files"`
		ConversationID string                    `json:"conversation_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(frames[2]), &done))
	assert.True(t, done.Done)
	assert.Equal(t, convID, done.ConversationID)
	assert.Equal(t, []string{"doc.md"}, done.SearchedFiles)
	require.Contains(t, done.Citations, "1")
	assert.Equal(t, "doc.md", done.Citations["1"].FileName)
}

func TestChatErrorFrame(t *testing.T) {
	folderID := uuid.New()
	st := &fakeFolderStore{folder: &store.Folder{ID: folderID, TenantID: "t1"}}
	engine := &fakeChatEngine{events: []chat.Event{
		{Type: chat.EventError, Kind: "not_found", Message: "folder not found"},
	}}
	s := newTestServer(st, engine, &fakeTrigger{})

	rec := do(s, http.MethodPost, "/api/v1/folders/"+folderID.String()+"/chat", "t1", `{"query":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	frame := strings.TrimPrefix(strings.TrimSpace(rec.Body.String()), "data: ")
	assert.JSONEq(t, `{"error":"not_found","message":"folder not found"}`, frame)
}

func TestChatForwardsMaxIterations(t *testing.T) {
	folderID := uuid.New()
	st := &fakeFolderStore{folder: &store.Folder{ID: folderID, TenantID: "t1"}}
	engine := &fakeChatEngine{events: []chat.Event{{Type: chat.EventDone}}}
	s := newTestServer(st, engine, &fakeTrigger{})

	rec := do(s, http.MethodPost, "/api/v1/folders/"+folderID.String()+"/chat", "t1",
		`{"query":"hi","agentic":true,"max_iterations":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, engine.reqs, 1)
	assert.True(t, engine.reqs[0].Agentic)
	assert.Equal(t, 5, engine.reqs[0].MaxIterations)
}

func TestChatRequiresQuery(t *testing.T) {
	s := newTestServer(&fakeFolderStore{}, &fakeChatEngine{}, &fakeTrigger{})
	rec := do(s, http.MethodPost, "/api/v1/folders/"+uuid.NewString()+"/chat", "t1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConversation(t *testing.T) {
	conv := &store.Conversation{ID: uuid.New(), FolderID: uuid.New(), TenantID: "t1"}
	st := &fakeFolderStore{
		conv: conv,
		msgs: []*store.Message{
			{Role: "user", Content: "q"},
			{Role: "assistant", Content: "a [1]", Citations: map[string]store.Citation{"1": {FileName: "doc.md"}}},
		},
	}
	s := newTestServer(st, &fakeChatEngine{}, &fakeTrigger{})

	rec := do(s, http.MethodGet, "/api/v1/conversations/"+conv.ID.String(), "t1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "doc.md", resp.Messages[1].Citations["1"].FileName)

	rec = do(s, http.MethodGet, "/api/v1/conversations/"+conv.ID.String(), "other", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidIDRejected(t *testing.T) {
	s := newTestServer(&fakeFolderStore{}, &fakeChatEngine{}, &fakeTrigger{})
	rec := do(s, http.MethodGet, "/api/v1/folders/not-a-uuid", "t1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthNoTenantNeeded(t *testing.T) {
	s := newTestServer(&fakeFolderStore{}, &fakeChatEngine{}, &fakeTrigger{})
	rec := do(s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
