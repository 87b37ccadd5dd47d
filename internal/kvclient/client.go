// Package kvclient is a Go SDK for talking to one causal-kv node.
//
// A Client talks to exactly one node. That node owns fanning the write out
// to its peers; the client never talks to more than one address and never
// implements any cluster logic itself.
//
// Grounded on the teacher's internal/client package — same Client shape,
// same checkStatus/APIError convention — with JoinCluster/LeaveCluster/
// Delete dropped (no tombstones, no dynamic membership in this spec) and
// Status added in their place.
package kvclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"causal-kv/internal/store"
	"causal-kv/internal/vclock"
)

// Client talks to a single causal-kv node over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client. baseURL looks like "http://localhost:8080". A zero
// timeout defaults to 10s — never call the network without one.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// WriteResponse is returned after a successful write.
type WriteResponse struct {
	Status string       `json:"status"`
	Key    string       `json:"key"`
	Value  string       `json:"value"`
	Clock  vclock.Stamp `json:"clock"`
}

// ReadResponse is returned by Read.
type ReadResponse struct {
	Key   string       `json:"key"`
	Value string       `json:"value"`
	Clock vclock.Stamp `json:"clock"`
}

// StatusResponse mirrors dispatcher.StatusView.
type StatusResponse struct {
	NodeID     int                    `json:"node_id"`
	KV         map[string]store.Entry `json:"kv"`
	Clock      vclock.Stamp           `json:"clock"`
	Pending    int                    `json:"pending"`
	UptimeSecs float64                `json:"uptime_seconds"`
}

// Write stores key=value on the node this Client points at.
func (c *Client) Write(ctx context.Context, key, value string) (*WriteResponse, error) {
	body, _ := json.Marshal(map[string]string{"value": value})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/kv/%s", c.baseURL, key), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PUT request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result WriteResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Read retrieves the value for key. Returns ErrNotFound if the node has no
// entry for it.
func (c *Client) Read(ctx context.Context, key string) (*ReadResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/kv/%s", c.baseURL, key), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result ReadResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Status fetches the node's debug/status view.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/debug/status", c.baseURL), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result StatusResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// ─── Errors ─────────────────────────────────────────────────────────────────

// ErrNotFound is returned when a key does not exist on the node.
var ErrNotFound = fmt.Errorf("key not found")

// APIError carries the HTTP status and message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
