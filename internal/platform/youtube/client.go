package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL points at the production live-video API.
const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

const defaultRequestTimeout = 10 * time.Second

// TokenSource supplies the bearer credential attached to every outbound
// platform request. Implementations refresh opaque tokens as needed; a
// refresh failure should surface as an error so callers can report it as
// non-retryable.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken adapts a fixed string into a TokenSource. Intended for tests
// and short-lived tooling.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Config parameterizes the platform client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *slog.Logger
}

// Client issues authenticated REST calls against the live-video platform.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
	logger  *slog.Logger
}

// NewClient constructs a platform client with bounded request timeouts.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: baseURL, client: httpClient, tokens: cfg.Tokens, logger: logger}
}

// InsertBroadcast creates a broadcast resource scheduled to start now.
func (c *Client) InsertBroadcast(ctx context.Context, title, description string) (Broadcast, error) {
	if title == "" {
		title = "Live broadcast"
	}
	payload := broadcastResource{
		Snippet: &broadcastSnippet{
			Title:              title,
			Description:        description,
			ScheduledStartTime: time.Now().UTC().Format(time.RFC3339),
		},
		Status: &broadcastStatusResource{PrivacyStatus: "unlisted"},
		ContentDetails: &broadcastContentDetails{
			EnableAutoStart: false,
			MonitorStream:   &monitorStream{EnableMonitorStream: false},
		},
	}
	var created broadcastResource
	query := url.Values{"part": {"snippet,contentDetails,status"}}
	if err := c.do(ctx, http.MethodPost, "/liveBroadcasts", query, payload, &created); err != nil {
		return Broadcast{}, err
	}
	return created.toBroadcast(), nil
}

// InsertStream creates an RTMP ingest endpoint.
func (c *Client) InsertStream(ctx context.Context, title string) (Stream, error) {
	if title == "" {
		title = "Live ingest"
	}
	payload := streamResource{
		Snippet: &streamSnippet{Title: title},
		CDN: &streamCDN{
			IngestionType: "rtmp",
			Resolution:    "variable",
			FrameRate:     "variable",
		},
	}
	var created streamResource
	query := url.Values{"part": {"snippet,cdn,status"}}
	if err := c.do(ctx, http.MethodPost, "/liveStreams", query, payload, &created); err != nil {
		return Stream{}, err
	}
	return created.toStream(), nil
}

// Bind associates a broadcast with an ingest endpoint so the platform knows
// which incoming feed to show.
func (c *Client) Bind(ctx context.Context, broadcastID, streamID string) error {
	if broadcastID == "" || streamID == "" {
		return fmt.Errorf("broadcastID and streamID are required")
	}
	query := url.Values{
		"id":       {broadcastID},
		"streamId": {streamID},
		"part":     {"id,status"},
	}
	return c.do(ctx, http.MethodPost, "/liveBroadcasts/bind", query, nil, nil)
}

// Transition requests a lifecycle change for the broadcast. A redundant
// transition (the broadcast already reached the target state) is treated as
// success.
func (c *Client) Transition(ctx context.Context, broadcastID string, target LifecycleStatus) error {
	if broadcastID == "" {
		return fmt.Errorf("broadcastID is required")
	}
	query := url.Values{
		"id":              {broadcastID},
		"broadcastStatus": {string(target)},
		"part":            {"status"},
	}
	err := c.do(ctx, http.MethodPost, "/liveBroadcasts/transition", query, nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Reason == "redundantTransition" {
			return nil
		}
	}
	return err
}

// BroadcastStatus reads the lifecycle state of a broadcast. Read-only and
// side-effect free.
func (c *Client) BroadcastStatus(ctx context.Context, broadcastID string) (LifecycleStatus, error) {
	if broadcastID == "" {
		return "", fmt.Errorf("broadcastID is required")
	}
	query := url.Values{"id": {broadcastID}, "part": {"status"}}
	var list broadcastListResponse
	if err := c.do(ctx, http.MethodGet, "/liveBroadcasts", query, nil, &list); err != nil {
		return "", err
	}
	if len(list.Items) == 0 {
		return "", &APIError{StatusCode: http.StatusNotFound, Reason: "liveBroadcastNotFound", Message: "broadcast " + broadcastID + " not found"}
	}
	return list.Items[0].toBroadcast().Status, nil
}

// StreamStatus reads the ingest endpoint state, including whether media is
// currently flowing.
func (c *Client) StreamStatus(ctx context.Context, streamID string) (Stream, error) {
	if streamID == "" {
		return Stream{}, fmt.Errorf("streamID is required")
	}
	query := url.Values{"id": {streamID}, "part": {"status"}}
	var list streamListResponse
	if err := c.do(ctx, http.MethodGet, "/liveStreams", query, nil, &list); err != nil {
		return Stream{}, err
	}
	if len(list.Items) == 0 {
		return Stream{}, &APIError{StatusCode: http.StatusNotFound, Reason: "liveStreamNotFound", Message: "stream " + streamID + " not found"}
	}
	return list.Items[0].toStream(), nil
}

// DeleteBroadcast removes a broadcast resource. Used for provisioning
// rollback and session teardown.
func (c *Client) DeleteBroadcast(ctx context.Context, broadcastID string) error {
	return c.do(ctx, http.MethodDelete, "/liveBroadcasts", url.Values{"id": {broadcastID}}, nil, nil)
}

// DeleteStream removes an ingest endpoint resource.
func (c *Client) DeleteStream(ctx context.Context, streamID string) error {
	return c.do(ctx, http.MethodDelete, "/liveStreams", url.Values{"id": {streamID}}, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, dest interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("platform request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if dest == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("decode platform response: %w", err)
		}
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	apiErr := decodeAPIError(resp.StatusCode, data)
	c.logger.Debug("platform request failed",
		"method", method,
		"path", path,
		"status", resp.StatusCode)
	return apiErr
}
