package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientCheckAndGoLive(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/live/check-and-go-live" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(CheckResponse{Success: true, Status: "live", Message: "broadcast is live"})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, SessionToken: "session-token"})
	resp, err := client.CheckAndGoLive(context.Background(), "bcast-9")
	if err != nil {
		t.Fatalf("check and go live: %v", err)
	}
	if !resp.Success || resp.Status != "live" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if gotAuth != "Bearer session-token" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
	if gotBody["broadcastId"] != "bcast-9" {
		t.Fatalf("expected broadcast id in body, got %v", gotBody)
	}
}

func TestClientCreateLiveReturnsIngestCoordinates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/live/create" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(CreateResponse{
			BroadcastID: "bcast-1",
			StreamID:    "stream-1",
			IngestURL:   "rtmp://ingest.example.com/live2",
			StreamKey:   "abcd-1234",
		})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL})
	created, err := client.CreateLive(context.Background(), "Morning ride", "")
	if err != nil {
		t.Fatalf("create live: %v", err)
	}
	if created.BroadcastID != "bcast-1" || created.StreamKey != "abcd-1234" {
		t.Fatalf("unexpected create response %+v", created)
	}
}

func TestClientLiveStatusPathIncludesBroadcastID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/live/status/bcast-7" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(StatusResponse{BroadcastID: "bcast-7", Lifecycle: "live", IngestActive: true, StreamHealth: "good"})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL})
	status, err := client.LiveStatus(context.Background(), "bcast-7")
	if err != nil {
		t.Fatalf("live status: %v", err)
	}
	if status.Lifecycle != "live" || !status.IngestActive {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestClientSurfacesBackendErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "session expired"})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL})
	_, err := client.CheckAndGoLive(context.Background(), "bcast-1")
	if err == nil {
		t.Fatal("expected error for unauthorized response")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %T: %v", err, err)
	}
	if httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", httpErr.StatusCode)
	}
	if httpErr.Message != "session expired" {
		t.Fatalf("expected decoded error message, got %q", httpErr.Message)
	}
	if httpErr.Temporary() {
		t.Fatal("401 must not be treated as temporary")
	}
}

func TestClientServerErrorsAreTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL})
	err := client.EndLive(context.Background(), "bcast-1")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %T: %v", err, err)
	}
	if !httpErr.Temporary() {
		t.Fatal("502 should be temporary")
	}
}
