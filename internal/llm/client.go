package llm

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
	"golang.org/x/time/rate"
)

const (
	apiVersion  = "2023-06-01"
	maxRetries  = 3
	baseBackoff = 2 * time.Second
)

// Config configures the generation client.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	FastModel string
	MaxTokens int
	Timeout   time.Duration

	// Metrics counts retried requests when non-nil.
	Metrics *metrics.Metrics
}

// Client calls the messages API. One client is shared across requests;
// the limiter smooths burst traffic from concurrent chats and workers.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a generation client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("generator base URL required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("generator model required")
	}
	if cfg.FastModel == "" {
		cfg.FastModel = cfg.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}, nil
}

// Model returns the primary generation model name.
func (c *Client) Model() string { return c.cfg.Model }

// CreateMessage runs one non-streamed model turn, retrying transient
// failures with exponential backoff.
func (c *Client) CreateMessage(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	req.Stream = false

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.ExternalRetries.WithLabelValues("generator").Inc()
			}
			backoff := baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.doRequest(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !fault.Retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Complete is the single-prompt convenience used for situating context
// and query rewriting. It runs on the fast model.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	resp, err := c.CreateMessage(ctx, Request{
		Model:       c.cfg.FastModel,
		MaxTokens:   maxTokens,
		Temperature: 0.3,
		Messages:    []Message{UserText(prompt)},
	})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fault.New(fault.KindPermanent, "empty completion")
	}
	return text, nil
}

func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "reading response", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fault.Wrap(fault.KindPermanent, "parsing response", err)
	}
	if len(resp.Content) == 0 {
		return nil, fault.New(fault.KindPermanent, "empty response from model")
	}
	return &resp, nil
}

// post sends the request and returns the raw body on 200. Status codes
// are mapped onto the fault taxonomy so callers can decide on retries.
func (c *Client) post(ctx context.Context, req Request) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.cfg.APIKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "model request", err)
	}

	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}

	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	kind := fault.KindPermanent
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		kind = fault.KindTransient
	}
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return nil, fault.Newf(kind, "model API %d: %s", resp.StatusCode, parsed.Error.Message)
	}
	return nil, fault.Newf(kind, "model API %d", resp.StatusCode)
}
