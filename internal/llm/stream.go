package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/foliolabs/folio/internal/fault"
)

// streamEvent is the envelope of one SSE data payload.
type streamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock *ContentBlock `json:"content_block,omitempty"`

	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`

	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// StreamMessage runs one streamed model turn. Text deltas are passed
// to onText as they arrive; the accumulated response, including any
// tool_use blocks, is returned once the stream completes. Transient
// failures are only retried before the first byte arrives, so callers
// never see replayed text.
func (c *Client) StreamMessage(ctx context.Context, req Request, onText func(string)) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	req.Stream = true

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

		body, err := c.post(ctx, req)
		if err != nil {
			lastErr = err
			if !fault.Retryable(err) {
				return nil, err
			}
			continue
		}

		resp, err := decodeStream(body, onText)
		body.Close()
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// decodeStream consumes the SSE body, assembling content blocks by
// index. input_json_delta fragments are concatenated into the block's
// Input; text deltas stream through onText.
func decodeStream(body io.Reader, onText func(string)) (*Response, error) {
	var (
		blocks     = map[int]*ContentBlock{}
		inputs     = map[int]*strings.Builder{}
		order      []int
		stopReason string
	)

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fault.Wrap(fault.KindPermanent, "parsing stream event", err)
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock == nil {
				continue
			}
			cb := *ev.ContentBlock
			blocks[ev.Index] = &cb
			inputs[ev.Index] = &strings.Builder{}
			order = append(order, ev.Index)
		case "content_block_delta":
			blk, ok := blocks[ev.Index]
			if !ok {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				blk.Text += ev.Delta.Text
				if onText != nil {
					onText(ev.Delta.Text)
				}
			case "input_json_delta":
				inputs[ev.Index].WriteString(ev.Delta.PartialJSON)
			}
		case "message_delta":
			if ev.Delta.StopReason != "" {
				stopReason = ev.Delta.StopReason
			}
		case "message_stop":
			// Terminal event; trailing lines are ignored.
		case "error":
			return nil, fault.Newf(fault.KindPermanent, "stream error: %s: %s", ev.Error.Type, ev.Error.Message)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "reading stream", err)
	}

	resp := &Response{StopReason: stopReason}
	for _, idx := range order {
		blk := blocks[idx]
		if in := inputs[idx].String(); in != "" {
			blk.Input = json.RawMessage(in)
		}
		resp.Content = append(resp.Content, *blk)
	}
	if resp.StopReason == "" {
		resp.StopReason = StopEndTurn
	}
	return resp, nil
}
