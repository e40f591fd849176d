// Package remote implements domain.PersistenceClient against the activity
// persistence service over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"example.com/autosave/internal/domain"
)

// Client posts save requests to the persistence service with a bearer token.
// Deadlines come from the caller's context.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient constructs a Client for baseURL.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Save submits req. Any non-2xx answer wraps domain.ErrRemoteRejected.
func (c *Client) Save(ctx context.Context, req domain.SaveRequest) (domain.SavedRecord, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.SavedRecord{}, fmt.Errorf("encode save request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/activities", bytes.NewReader(body))
	if err != nil {
		return domain.SavedRecord{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.SavedRecord{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.SavedRecord{}, fmt.Errorf("%w (status=%d): %s", domain.ErrRemoteRejected, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var rec domain.SavedRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return domain.SavedRecord{}, fmt.Errorf("decode saved record: %w", err)
	}
	return rec, nil
}
