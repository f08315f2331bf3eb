package drive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foliolabs/folio/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListFolderFollowsPagination(t *testing.T) {
	var tokensSeen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		tokensSeen = append(tokensSeen, r.URL.Query().Get("page_token"))

		resp := listResponse{}
		if r.URL.Query().Get("page_token") == "" {
			resp.Files = []RemoteFile{{ID: "f1", Name: "one.txt", MimeType: "text/plain", ModifiedTime: time.Now()}}
			resp.NextPageToken = "p2"
		} else {
			resp.Files = []RemoteFile{{ID: "f2", Name: "two.txt", MimeType: "text/plain", ModifiedTime: time.Now()}}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	files, err := c.ListFolder(context.Background(), "tok", "folder-1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "f1", files[0].ID)
	assert.Equal(t, "f2", files[1].ID)
	assert.Equal(t, []string{"", "p2"}, tokensSeen)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind fault.Kind
		wantErr  error
	}{
		{"forbidden means reauthorize", http.StatusForbidden, fault.KindPermanent, ErrReauthorizationRequired},
		{"missing folder is permanent", http.StatusNotFound, fault.KindPermanent, ErrFolderGone},
		{"rate limit is transient", http.StatusTooManyRequests, fault.KindTransient, nil},
		{"server error is transient", http.StatusBadGateway, fault.KindTransient, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c, err := NewClient(Config{BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = c.Download(context.Background(), "tok", "file-1")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, fault.KindOf(err))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDownloadReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/file-1/content", r.URL.Path)
		_, _ = w.Write([]byte("hello bytes"))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	body, err := c.Download(context.Background(), "tok", "file-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello bytes"), body)
}
