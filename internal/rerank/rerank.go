// Package rerank scores retrieval candidates against a query with a
// dedicated cross-encoder service.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/foliolabs/folio/internal/fault"
)

// Result is one reranked document reference.
type Result struct {
	// Index points into the documents slice passed to Rerank.
	Index int `json:"index"`
	// Score is the cross-encoder relevance score, higher is better.
	Score float64 `json:"relevance_score"`
}

// Reranker reorders documents by relevance to a query. Implementations
// return results sorted best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error)
}

// Config configures the remote reranker client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the remote rerank service.
type Client struct {
	cfg    Config
	client *http.Client
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k"`
}

type rerankResponse struct {
	Results []Result `json:"results"`
}

// NewClient creates a rerank client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rerank base URL required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Rerank scores documents against the query. The returned results are
// sorted by descending score and reference documents by input index.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(documents) {
		topK = len(documents)
	}

	payload, err := json.Marshal(rerankRequest{Query: query, Documents: documents, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("encoding rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "rerank request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "reading rerank response", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := fault.KindPermanent
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = fault.KindTransient
		}
		return nil, fault.Newf(kind, "rerank status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fault.Wrap(fault.KindPermanent, "decoding rerank response", err)
	}
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fault.Newf(fault.KindPermanent, "rerank index %d out of range", r.Index)
		}
	}
	if len(parsed.Results) > topK {
		parsed.Results = parsed.Results[:topK]
	}
	return parsed.Results, nil
}

var _ Reranker = (*Client)(nil)
