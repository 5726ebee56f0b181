package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const runIDHeader = "X-Replay-Run"

// client talks to a running eligibility service.
type client struct {
	http    *http.Client
	baseURL string
	runID   string
}

func newClient(baseURL, runID string, timeout time.Duration) *client {
	return &client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		runID:   runID,
	}
}

func (c *client) health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: healthz returned %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

func (c *client) postBatch(ctx context.Context, ids []string) (batchResponse, error) {
	events := make([]webhookEvent, len(ids))
	for i, id := range ids {
		events[i] = webhookEvent{ObjectID: id}
	}
	body, err := json.Marshal(events)
	if err != nil {
		return batchResponse{}, fmt.Errorf("marshal batch: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/webhook", body)
	if err != nil {
		return batchResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return batchResponse{}, fmt.Errorf("read webhook response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return batchResponse{}, fmt.Errorf("%w: webhook returned %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(raw))
	}
	var out batchResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return batchResponse{}, fmt.Errorf("decode webhook response: %w", err)
	}
	return out, nil
}

func (c *client) counters(ctx context.Context) ([]Counter, error) {
	resp, err := c.do(ctx, http.MethodGet, "/logs", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: logs returned %d", ErrRejected, resp.StatusCode)
	}
	var out []Counter
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode logs response: %w", err)
	}
	return out, nil
}

func (c *client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(runIDHeader, c.runID)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
