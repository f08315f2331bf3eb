// Package drive talks to the remote drive provider.
//
// The provider exposes a paginated folder listing plus raw download and
// native-format export endpoints, authenticated per request with the
// tenant's bearer token. Rate-limit and 5xx responses are classified
// transient so callers can retry; 403 surfaces as a reauthorization
// signal and 404 as a permanent failure.
package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/foliolabs/folio/internal/fault"
	"golang.org/x/time/rate"
)

// ErrReauthorizationRequired indicates the tenant's drive credentials
// were revoked or expired and the outer system must reauthorize.
var ErrReauthorizationRequired = errors.New("drive reauthorization required")

// ErrFolderGone indicates the remote folder no longer exists.
var ErrFolderGone = errors.New("remote folder gone")

// RemoteFile is one entry of a folder listing.
type RemoteFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mime"`
	ModifiedTime time.Time `json:"modified_time"`
}

type listResponse struct {
	Files         []RemoteFile `json:"files"`
	NextPageToken string       `json:"next_page_token"`
}

// Config configures the drive client.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	PageSize int
}

// Client is the drive provider client. One long-lived client (and its
// HTTP connection pool) is shared across requests; the per-tenant
// bearer token is passed per call.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a drive client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("drive base URL required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 100
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}, nil
}

// ListFolder fetches the complete listing of a remote folder, following
// pagination until exhausted.
func (c *Client) ListFolder(ctx context.Context, token, remoteFolderID string) ([]RemoteFile, error) {
	var (
		files     []RemoteFile
		pageToken string
	)
	for {
		page, next, err := c.listPage(ctx, token, remoteFolderID, pageToken)
		if err != nil {
			return nil, err
		}
		files = append(files, page...)
		if next == "" {
			return files, nil
		}
		pageToken = next
	}
}

func (c *Client) listPage(ctx context.Context, token, remoteFolderID, pageToken string) ([]RemoteFile, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("folder_id", remoteFolderID)
	q.Set("page_size", fmt.Sprint(c.cfg.PageSize))
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}

	body, err := c.get(ctx, token, "/files?"+q.Encode())
	if err != nil {
		return nil, "", err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("decoding listing: %w", err)
	}
	return resp.Files, resp.NextPageToken, nil
}

// Download fetches the raw bytes of a file.
func (c *Client) Download(ctx context.Context, token, remoteFileID string) ([]byte, error) {
	return c.get(ctx, token, "/files/"+url.PathEscape(remoteFileID)+"/content")
}

// ExportNative converts a provider-native document to the target MIME
// type and returns the converted bytes.
func (c *Client) ExportNative(ctx context.Context, token, remoteFileID, targetMime string) ([]byte, error) {
	q := url.Values{}
	q.Set("mime", targetMime)
	return c.get(ctx, token, "/files/"+url.PathEscape(remoteFileID)+"/export?"+q.Encode())
}

// DeepLink returns the provider URL for a file location, used in
// citations.
func (c *Client) DeepLink(remoteFileID string) string {
	return c.cfg.BaseURL + "/open/" + url.PathEscape(remoteFileID)
}

func (c *Client) get(ctx context.Context, token, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "drive request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "reading drive response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fault.Wrap(fault.KindPermanent, "drive auth", ErrReauthorizationRequired)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fault.Wrap(fault.KindPermanent, "drive fetch", ErrFolderGone)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fault.Newf(fault.KindTransient, "drive status %d: %s", resp.StatusCode, truncate(body, 200))
	default:
		return nil, fault.Newf(fault.KindPermanent, "drive status %d: %s", resp.StatusCode, truncate(body, 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
