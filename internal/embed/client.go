// Package embed talks to the embedding inference service.
//
// Documents and queries are embedded asymmetrically: each text is
// prefixed with a task marker before being sent, matching how the
// model was trained. Document batches run concurrently under a
// semaphore; a failed batch fails the whole call so a file is never
// indexed with partial vectors.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/foliolabs/folio/internal/fault"
	"github.com/foliolabs/folio/internal/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	documentPrefix = "search_document: "
	queryPrefix    = "search_query: "
)

// Config configures the embedding client.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Dimensions     int
	BatchSize      int
	MaxConcurrency int
	Timeout        time.Duration

	// Metrics counts retried requests when non-nil.
	Metrics *metrics.Metrics
}

// Client calls the embedding service.
type Client struct {
	cfg    Config
	client *http.Client
	sem    *semaphore.Weighted
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []embedVector `json:"data"`
}

type embedVector struct {
	Embedding []float32 `json:"embedding"`
}

// NewClient creates an embedding client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base URL required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model required")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 768
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > 50 {
		cfg.BatchSize = 50
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 6
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}, nil
}

// Dimensions returns the configured vector width.
func (c *Client) Dimensions() int { return c.cfg.Dimensions }

// EmbedDocuments embeds texts with the document task prefix. The
// result preserves input order. Any batch failure fails the whole call.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = documentPrefix + t
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(prefixed); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(prefixed) {
			end = len(prefixed)
		}
		start, end := start, end
		g.Go(func() error {
			if err := c.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer c.sem.Release(1)

			vecs, err := c.embedBatch(gctx, prefixed[start:end])
			if err != nil {
				return fmt.Errorf("batch %d-%d: %w", start, end, err)
			}
			copy(out[start:], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery embeds a search query with the query task prefix.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := c.embedBatch(ctx, []string{queryPrefix + query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// embedBatch posts one batch, retrying transient failures with capped
// exponential backoff.
func (c *Client) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	const maxRetries = 3
	backoff := time.Second

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.ExternalRetries.WithLabelValues("embedding").Inc()
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
		}

		vecs, err := c.post(ctx, inputs)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !fault.Retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("embedding failed after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) post(ctx context.Context, inputs []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "embedding request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "reading embedding response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fault.Newf(fault.KindTransient, "embedding status %d", resp.StatusCode)
	default:
		return nil, fault.Newf(fault.KindPermanent, "embedding status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fault.Wrap(fault.KindPermanent, "decoding embedding response", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fault.Newf(fault.KindPermanent, "embedding count mismatch: sent %d got %d", len(inputs), len(parsed.Data))
	}
	vecs := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) != c.cfg.Dimensions {
			return nil, fault.Newf(fault.KindPermanent, "embedding %d has %d dimensions, want %d", i, len(d.Embedding), c.cfg.Dimensions)
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
