package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"openair-live/internal/models"
	"openair-live/internal/storage"
)

type createChannelRequest struct {
	OwnerID     string `json:"ownerId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type updateChannelRequest struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	AutoLiveEnabled *bool   `json:"autoLiveEnabled"`
}

type channelResponse struct {
	ID              string `json:"id"`
	OwnerID         string `json:"ownerId"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	AutoLiveEnabled bool   `json:"autoLiveEnabled"`
	Linked          bool   `json:"linked"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

type credentialResponse struct {
	Provider    string `json:"provider"`
	Subject     string `json:"subject,omitempty"`
	TokenExpiry string `json:"tokenExpiry,omitempty"`
	UpdatedAt   string `json:"updatedAt"`
}

func (h *Handler) newChannelResponse(channel models.Channel) channelResponse {
	_, linked := h.Store.GetPlatformCredential(channel.ID, "google")
	return channelResponse{
		ID:              channel.ID,
		OwnerID:         channel.OwnerID,
		Title:           channel.Title,
		Description:     channel.Description,
		AutoLiveEnabled: channel.AutoLiveEnabled,
		Linked:          linked,
		CreatedAt:       channel.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:       channel.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// newCredentialResponse never exposes token material.
func newCredentialResponse(cred models.PlatformCredential) credentialResponse {
	resp := credentialResponse{
		Provider:  cred.Provider,
		Subject:   cred.Subject,
		UpdatedAt: cred.UpdatedAt.Format(time.RFC3339Nano),
	}
	if !cred.TokenExpiry.IsZero() {
		resp.TokenExpiry = cred.TokenExpiry.Format(time.RFC3339Nano)
	}
	return resp
}

func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		actor, ok := h.requireAuthenticatedUser(w, r)
		if !ok {
			return
		}
		ownerID := strings.TrimSpace(r.URL.Query().Get("ownerId"))
		if ownerID == "" {
			if !actor.HasRole(roleAdmin) {
				ownerID = actor.ID
			}
		} else if ownerID != actor.ID && !actor.HasRole(roleAdmin) {
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}

		channels := h.Store.ListChannels(ownerID)
		response := make([]channelResponse, 0, len(channels))
		for _, channel := range channels {
			response = append(response, h.newChannelResponse(channel))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		actor, ok := h.requireRole(w, r, roleAdmin, roleCreator)
		if !ok {
			return
		}
		var req createChannelRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.OwnerID == "" {
			req.OwnerID = actor.ID
		}
		if req.OwnerID != actor.ID && !actor.HasRole(roleAdmin) {
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
		channel, err := h.Store.CreateChannel(req.OwnerID, req.Title, req.Description)
		if err != nil {
			writeError(w, statusForStoreError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, h.newChannelResponse(channel))
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (h *Handler) ChannelByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/channels/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("channel id missing"))
		return
	}
	channelID := parts[0]
	channel, ok := h.Store.GetChannel(channelID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("channel %s not found", channelID))
		return
	}

	if len(parts) == 1 {
		h.channelRoot(w, r, channel)
		return
	}
	if len(parts) == 2 && parts[1] == "credential" {
		h.channelCredential(w, r, channel)
		return
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("unknown channel path"))
}

func (h *Handler) channelRoot(w http.ResponseWriter, r *http.Request, channel models.Channel) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.ensureChannelAccess(w, r, channel); !ok {
			return
		}
		writeJSON(w, http.StatusOK, h.newChannelResponse(channel))
	case http.MethodPatch:
		if _, ok := h.ensureChannelAccess(w, r, channel); !ok {
			return
		}
		var req updateChannelRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := h.Store.UpdateChannel(channel.ID, storage.ChannelUpdate{
			Title:           req.Title,
			Description:     req.Description,
			AutoLiveEnabled: req.AutoLiveEnabled,
		})
		if err != nil {
			writeError(w, statusForStoreError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, h.newChannelResponse(updated))
	case http.MethodDelete:
		if _, ok := h.ensureChannelAccess(w, r, channel); !ok {
			return
		}
		if err := h.Store.DeleteChannel(channel.ID); err != nil {
			writeError(w, statusForStoreError(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "GET, PATCH, DELETE")
	}
}

func (h *Handler) channelCredential(w http.ResponseWriter, r *http.Request, channel models.Channel) {
	if _, ok := h.ensureChannelAccess(w, r, channel); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		cred, ok := h.Store.GetPlatformCredential(channel.ID, "google")
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("channel %s is not linked", channel.ID))
			return
		}
		writeJSON(w, http.StatusOK, newCredentialResponse(cred))
	case http.MethodDelete:
		if err := h.Store.DeletePlatformCredential(channel.ID, "google"); err != nil {
			writeError(w, statusForStoreError(err), err)
			return
		}
		if h.Live != nil {
			h.Live.Invalidate(channel.ID)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "GET, DELETE")
	}
}
