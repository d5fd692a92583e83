package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"openair-live/internal/broadcast"
	"openair-live/internal/live"
	"openair-live/internal/models"
	"openair-live/internal/platform/youtube"
)

type createLiveRequest struct {
	ChannelID   string `json:"channelId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type broadcastRefRequest struct {
	BroadcastID string `json:"broadcastId"`
}

type createLiveResponse struct {
	BroadcastID     string `json:"broadcastId"`
	StreamID        string `json:"streamId"`
	IngestURL       string `json:"ingestUrl"`
	StreamKey       string `json:"streamKey"`
	AutoLiveEnabled bool   `json:"autoLiveEnabled"`
}

type checkAndGoLiveResponse struct {
	Success  bool   `json:"success"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	CanRetry bool   `json:"canRetry"`
}

type liveStatusResponse struct {
	BroadcastID  string `json:"broadcastId"`
	Lifecycle    string `json:"lifecycle"`
	IngestActive bool   `json:"ingestActive"`
	StreamHealth string `json:"streamHealth,omitempty"`
}

type endLiveResponse struct {
	BroadcastID string `json:"broadcastId"`
	Status      string `json:"status"`
	EndedAt     string `json:"endedAt,omitempty"`
}

func (h *Handler) requireLiveService(w http.ResponseWriter) bool {
	if h.Live == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("live streaming is not configured"))
		return false
	}
	return true
}

func statusForLiveError(err error) int {
	switch {
	case errors.Is(err, live.ErrNoActiveSession):
		return http.StatusNotFound
	case errors.Is(err, live.ErrChannelNotLinked):
		return http.StatusConflict
	case errors.Is(err, youtube.ErrUnauthorized):
		return http.StatusBadGateway
	case errors.Is(err, youtube.ErrQuotaExceeded):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return statusForStoreError(err)
	}
}

// CreateLive provisions a broadcast and ingest stream for a channel the
// caller owns and returns the encoder coordinates.
func (h *Handler) CreateLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !h.requireLiveService(w) {
		return
	}

	var req createLiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	actor, ok := h.requireRole(w, r, roleAdmin, roleCreator)
	if !ok {
		return
	}
	channel, ok := h.resolveLiveChannel(w, actor, req.ChannelID)
	if !ok {
		return
	}
	if channel.OwnerID != actor.ID && !actor.HasRole(roleAdmin) {
		writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
		return
	}

	session, err := h.Live.StartSession(r.Context(), channel.ID, req.Title, req.Description)
	if err != nil {
		writeError(w, statusForLiveError(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, createLiveResponse{
		BroadcastID:     session.BroadcastID,
		StreamID:        session.StreamID,
		IngestURL:       session.IngestURL,
		StreamKey:       session.StreamKey,
		AutoLiveEnabled: channel.AutoLiveEnabled,
	})
}

// resolveLiveChannel picks the channel for a create request. An explicit id
// wins; otherwise a caller with exactly one channel streams to it.
func (h *Handler) resolveLiveChannel(w http.ResponseWriter, actor models.User, channelID string) (models.Channel, bool) {
	if channelID != "" {
		channel, ok := h.Store.GetChannel(channelID)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("channel %s not found", channelID))
			return models.Channel{}, false
		}
		return channel, true
	}
	owned := h.Store.ListChannels(actor.ID)
	switch len(owned) {
	case 0:
		writeError(w, http.StatusNotFound, fmt.Errorf("no channel for user %s", actor.ID))
		return models.Channel{}, false
	case 1:
		return owned[0], true
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("channelId is required when owning multiple channels"))
		return models.Channel{}, false
	}
}

// CheckAndGoLive runs one bounded transition sequence and reports whether the
// broadcast went live and whether another check could still succeed.
func (h *Handler) CheckAndGoLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !h.requireLiveService(w) {
		return
	}

	var req broadcastRefRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, ok := h.authorizeBroadcast(w, r, req.BroadcastID); !ok {
		return
	}

	session, outcome, err := h.Live.GoLive(r.Context(), req.BroadcastID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// The caller went away mid-sequence; nothing useful to write.
			return
		}
		writeError(w, statusForLiveError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newCheckAndGoLiveResponse(session, outcome))
}

func newCheckAndGoLiveResponse(session models.LiveSession, outcome broadcast.Outcome) checkAndGoLiveResponse {
	resp := checkAndGoLiveResponse{
		Success:  outcome.Live(),
		Status:   session.Status,
		CanRetry: outcome.CanRetry(),
	}
	switch outcome.State {
	case broadcast.StateLive:
		resp.Message = "broadcast is live"
	case broadcast.StatePartiallyLive:
		resp.Message = fmt.Sprintf("ingest not active after %d attempts, proceeding as live", outcome.Attempts)
	case broadcast.StateFailed:
		if outcome.Err != nil {
			resp.Message = outcome.Err.Error()
		} else {
			resp.Message = "go-live failed"
		}
	}
	return resp
}

// LiveStatus reads the platform view of the broadcast without issuing any
// transition.
func (h *Handler) LiveStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	if !h.requireLiveService(w) {
		return
	}

	broadcastID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/live/status/"), "/")
	if broadcastID == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("broadcast id missing"))
		return
	}
	if _, ok := h.authorizeBroadcast(w, r, broadcastID); !ok {
		return
	}

	_, report, err := h.Live.Status(r.Context(), broadcastID)
	if err != nil {
		writeError(w, statusForLiveError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, liveStatusResponse{
		BroadcastID:  broadcastID,
		Lifecycle:    string(report.Lifecycle),
		IngestActive: report.IngestActive,
		StreamHealth: report.StreamHealth,
	})
}

// EndLive completes the broadcast and closes the session record.
func (h *Handler) EndLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !h.requireLiveService(w) {
		return
	}

	var req broadcastRefRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, ok := h.authorizeBroadcast(w, r, req.BroadcastID); !ok {
		return
	}

	session, err := h.Live.EndSession(r.Context(), req.BroadcastID)
	if err != nil {
		writeError(w, statusForLiveError(err), err)
		return
	}
	resp := endLiveResponse{BroadcastID: session.BroadcastID, Status: session.Status}
	if session.EndedAt != nil {
		resp.EndedAt = session.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

// authorizeBroadcast checks the caller owns the channel behind the broadcast.
func (h *Handler) authorizeBroadcast(w http.ResponseWriter, r *http.Request, broadcastID string) (models.User, bool) {
	if broadcastID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("broadcastId is required"))
		return models.User{}, false
	}
	session, ok := h.Store.FindLiveSessionByBroadcast(broadcastID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%v: %s", live.ErrNoActiveSession, broadcastID))
		return models.User{}, false
	}
	channel, ok := h.Store.GetChannel(session.ChannelID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("channel %s not found", session.ChannelID))
		return models.User{}, false
	}
	return h.ensureChannelAccess(w, r, channel)
}
