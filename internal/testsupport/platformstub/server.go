// Package platformstub hosts a fake of the live-video platform REST API for
// integration-style tests. It keeps broadcast and stream state in memory and
// can be scripted to refuse go-live transitions while ingest is inactive.
package platformstub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Options describes how the fake platform should behave.
type Options struct {
	// Token, when set, is the bearer token every request must carry.
	Token string

	// IngestAddress and StreamKey are returned for every created stream.
	IngestAddress string
	StreamKey     string
}

// Operation records one API interaction in arrival order.
type Operation struct {
	Kind        string
	BroadcastID string
	StreamID    string
	Target      string
	Status      int
}

type broadcastState struct {
	id        string
	title     string
	lifecycle string
	streamID  string
}

type streamState struct {
	id     string
	title  string
	status string
	health string
}

// Server hosts a single httptest.Server serving the platform endpoints.
type Server struct {
	server *httptest.Server
	opts   Options

	mu         sync.Mutex
	seq        int
	broadcasts map[string]*broadcastState
	streams    map[string]*streamState
	operations []Operation
}

// Start spins up a new platform stub.
func Start(opts Options) *Server {
	if opts.IngestAddress == "" {
		opts.IngestAddress = "rtmp://ingest.stub.example/live2"
	}
	if opts.StreamKey == "" {
		opts.StreamKey = "stub-stream-key"
	}
	s := &Server{
		opts:       opts,
		broadcasts: make(map[string]*broadcastState),
		streams:    make(map[string]*streamState),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Close shuts down the underlying HTTP server.
func (s *Server) Close() {
	if s.server != nil {
		s.server.Close()
	}
}

// BaseURL returns the HTTP base URL the platform client should target.
func (s *Server) BaseURL() string {
	return s.server.URL
}

// Operations returns a copy of all recorded interactions.
func (s *Server) Operations() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Operation, len(s.operations))
	copy(out, s.operations)
	return out
}

// SetStreamActive flips whether the stream reports media flowing. Transitions
// to live succeed only while the bound stream is active.
func (s *Server) SetStreamActive(streamID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.streams[streamID]
	if !ok {
		return
	}
	if active {
		stream.status = "active"
		stream.health = "good"
	} else {
		stream.status = "inactive"
		stream.health = "noData"
	}
}

// BroadcastLifecycle reports the stored lifecycle for assertions.
func (s *Server) BroadcastLifecycle(broadcastID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	broadcast, ok := s.broadcasts[broadcastID]
	if !ok {
		return "", false
	}
	return broadcast.lifecycle, true
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.opts.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.Token {
		s.writeError(w, http.StatusUnauthorized, "authError", "invalid credentials")
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/liveBroadcasts":
		s.handleInsertBroadcast(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/liveStreams":
		s.handleInsertStream(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/liveBroadcasts/bind":
		s.handleBind(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/liveBroadcasts/transition":
		s.handleTransition(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/liveBroadcasts":
		s.handleBroadcastStatus(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/liveStreams":
		s.handleStreamStatus(w, r)
	case r.Method == http.MethodDelete && r.URL.Path == "/liveBroadcasts":
		s.handleDelete(w, r, "delete_broadcast")
	case r.Method == http.MethodDelete && r.URL.Path == "/liveStreams":
		s.handleDelete(w, r, "delete_stream")
	default:
		s.writeError(w, http.StatusNotFound, "notFound", "unexpected request "+r.Method+" "+r.URL.Path)
	}
}

func (s *Server) handleInsertBroadcast(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)

	s.mu.Lock()
	s.seq++
	broadcast := &broadcastState{
		id:        fmt.Sprintf("bcast-%d", s.seq),
		title:     payload.Snippet.Title,
		lifecycle: "created",
	}
	s.broadcasts[broadcast.id] = broadcast
	s.record(Operation{Kind: "insert_broadcast", BroadcastID: broadcast.id, Status: http.StatusOK})
	s.mu.Unlock()

	s.writeJSON(w, map[string]any{
		"id":      broadcast.id,
		"snippet": map[string]any{"title": broadcast.title},
		"status":  map[string]any{"lifeCycleStatus": broadcast.lifecycle},
	})
}

func (s *Server) handleInsertStream(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)

	s.mu.Lock()
	s.seq++
	stream := &streamState{
		id:     fmt.Sprintf("stream-%d", s.seq),
		title:  payload.Snippet.Title,
		status: "inactive",
		health: "noData",
	}
	s.streams[stream.id] = stream
	s.record(Operation{Kind: "insert_stream", StreamID: stream.id, Status: http.StatusOK})
	s.mu.Unlock()

	s.writeJSON(w, streamPayload(stream, s.opts))
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	broadcastID := r.URL.Query().Get("id")
	streamID := r.URL.Query().Get("streamId")

	s.mu.Lock()
	broadcast, ok := s.broadcasts[broadcastID]
	if !ok {
		s.record(Operation{Kind: "bind", BroadcastID: broadcastID, StreamID: streamID, Status: http.StatusNotFound})
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "liveBroadcastNotFound", "broadcast not found")
		return
	}
	if _, ok := s.streams[streamID]; !ok {
		s.record(Operation{Kind: "bind", BroadcastID: broadcastID, StreamID: streamID, Status: http.StatusNotFound})
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "liveStreamNotFound", "stream not found")
		return
	}
	broadcast.streamID = streamID
	broadcast.lifecycle = "ready"
	s.record(Operation{Kind: "bind", BroadcastID: broadcastID, StreamID: streamID, Status: http.StatusOK})
	s.mu.Unlock()

	s.writeJSON(w, map[string]any{"id": broadcastID})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	broadcastID := r.URL.Query().Get("id")
	target := r.URL.Query().Get("broadcastStatus")

	s.mu.Lock()
	broadcast, ok := s.broadcasts[broadcastID]
	if !ok {
		s.record(Operation{Kind: "transition", BroadcastID: broadcastID, Target: target, Status: http.StatusNotFound})
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "liveBroadcastNotFound", "broadcast not found")
		return
	}
	if broadcast.lifecycle == target {
		s.record(Operation{Kind: "transition", BroadcastID: broadcastID, Target: target, Status: http.StatusForbidden})
		s.mu.Unlock()
		s.writeError(w, http.StatusForbidden, "redundantTransition", "broadcast already "+target)
		return
	}
	if target == "live" || target == "testing" {
		stream := s.streams[broadcast.streamID]
		if stream == nil || stream.status != "active" {
			s.record(Operation{Kind: "transition", BroadcastID: broadcastID, Target: target, Status: http.StatusForbidden})
			s.mu.Unlock()
			s.writeError(w, http.StatusForbidden, "errorStreamInactive", "stream is inactive")
			return
		}
	}
	broadcast.lifecycle = target
	s.record(Operation{Kind: "transition", BroadcastID: broadcastID, Target: target, Status: http.StatusOK})
	s.mu.Unlock()

	s.writeJSON(w, map[string]any{
		"id":     broadcastID,
		"status": map[string]any{"lifeCycleStatus": target},
	})
}

func (s *Server) handleBroadcastStatus(w http.ResponseWriter, r *http.Request) {
	broadcastID := r.URL.Query().Get("id")

	s.mu.Lock()
	broadcast, ok := s.broadcasts[broadcastID]
	var payload map[string]any
	if ok {
		payload = map[string]any{
			"items": []map[string]any{{
				"id":     broadcast.id,
				"status": map[string]any{"lifeCycleStatus": broadcast.lifecycle},
			}},
		}
	} else {
		payload = map[string]any{"items": []map[string]any{}}
	}
	s.record(Operation{Kind: "broadcast_status", BroadcastID: broadcastID, Status: http.StatusOK})
	s.mu.Unlock()

	s.writeJSON(w, payload)
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	streamID := r.URL.Query().Get("id")

	s.mu.Lock()
	stream, ok := s.streams[streamID]
	var payload map[string]any
	if ok {
		payload = map[string]any{"items": []map[string]any{streamPayload(stream, s.opts)}}
	} else {
		payload = map[string]any{"items": []map[string]any{}}
	}
	s.record(Operation{Kind: "stream_status", StreamID: streamID, Status: http.StatusOK})
	s.mu.Unlock()

	s.writeJSON(w, payload)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, kind string) {
	id := r.URL.Query().Get("id")

	s.mu.Lock()
	if kind == "delete_broadcast" {
		delete(s.broadcasts, id)
		s.record(Operation{Kind: kind, BroadcastID: id, Status: http.StatusNoContent})
	} else {
		delete(s.streams, id)
		s.record(Operation{Kind: kind, StreamID: id, Status: http.StatusNoContent})
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) record(op Operation) {
	s.operations = append(s.operations, op)
}

func (s *Server) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, reason, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
			"errors":  []map[string]any{{"reason": reason, "message": message}},
		},
	})
}

func streamPayload(stream *streamState, opts Options) map[string]any {
	return map[string]any{
		"id":      stream.id,
		"snippet": map[string]any{"title": stream.title},
		"cdn": map[string]any{
			"ingestionInfo": map[string]any{
				"ingestionAddress": opts.IngestAddress,
				"streamName":       opts.StreamKey,
			},
		},
		"status": map[string]any{
			"streamStatus": stream.status,
			"healthStatus": map[string]any{"status": stream.health},
		},
	}
}
