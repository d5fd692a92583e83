package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client talks to the live endpoints of the backend. It implements
// GoLiveClient and also exposes the create/status/end operations so a CLI or
// mobile shim can drive the full lifecycle.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// ClientConfig configures a Client. BaseURL is required; SessionToken is
// sent as a bearer token when set.
type ClientConfig struct {
	BaseURL      string
	SessionToken string
	HTTPClient   *http.Client
}

// NewClient builds a Client with a 10 second default timeout.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultCallTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.SessionToken,
		http:    httpClient,
	}
}

// CreateResponse is the reply from the create endpoint: everything the
// encoder needs to start pushing media plus the broadcast to poll.
type CreateResponse struct {
	BroadcastID     string `json:"broadcastId"`
	StreamID        string `json:"streamId"`
	IngestURL       string `json:"ingestUrl"`
	StreamKey       string `json:"streamKey"`
	AutoLiveEnabled bool   `json:"autoLiveEnabled"`
}

// StatusResponse is the reply from the status endpoint.
type StatusResponse struct {
	BroadcastID  string `json:"broadcastId"`
	Lifecycle    string `json:"lifecycle"`
	IngestActive bool   `json:"ingestActive"`
	StreamHealth string `json:"streamHealth"`
}

// CreateLive provisions a broadcast bound to a fresh ingest stream.
func (c *Client) CreateLive(ctx context.Context, title, description string) (CreateResponse, error) {
	payload := map[string]string{"title": title, "description": description}
	var out CreateResponse
	if err := c.do(ctx, http.MethodPost, "/api/live/create", payload, &out); err != nil {
		return CreateResponse{}, err
	}
	return out, nil
}

// CheckAndGoLive asks the backend to inspect ingest and attempt the live
// transition for the broadcast.
func (c *Client) CheckAndGoLive(ctx context.Context, broadcastID string) (CheckResponse, error) {
	payload := map[string]string{"broadcastId": broadcastID}
	var out CheckResponse
	if err := c.do(ctx, http.MethodPost, "/api/live/check-and-go-live", payload, &out); err != nil {
		return CheckResponse{}, err
	}
	return out, nil
}

// LiveStatus reads the current platform view of the broadcast without
// triggering any transition.
func (c *Client) LiveStatus(ctx context.Context, broadcastID string) (StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/live/status/"+broadcastID, nil, &out); err != nil {
		return StatusResponse{}, err
	}
	return out, nil
}

// EndLive completes the broadcast and releases its ingest stream.
func (c *Client) EndLive(ctx context.Context, broadcastID string) error {
	payload := map[string]string{"broadcastId": broadcastID}
	return c.do(ctx, http.MethodPost, "/api/live/end", payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeHTTPError(method, path, resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s %s: %w", method, path, err)
	}
	return nil
}

// HTTPError carries the backend's status code and error message so callers
// can distinguish auth failures from transient server trouble.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// Temporary reports whether the failure is worth another poll cycle.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func decodeHTTPError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(raw))
	var envelope struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
		message = envelope.Error
	}
	return fmt.Errorf("%s %s: %w", method, path, &HTTPError{StatusCode: resp.StatusCode, Message: message})
}

var _ GoLiveClient = (*Client)(nil)
