package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"openair-live/internal/auth/oauth"
	"openair-live/internal/models"
)

type oauthStartRequest struct {
	ChannelID string `json:"channelId"`
	ReturnTo  string `json:"returnTo"`
}

func (h *Handler) OAuthProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	providers := []oauth.ProviderInfo{}
	if h.OAuth != nil {
		providers = h.OAuth.Providers()
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// OAuthByProvider routes /api/auth/oauth/{provider}/{start|callback}.
func (h *Handler) OAuthByProvider(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("oauth providers not configured"))
		return
	}
	trimmed := strings.TrimPrefix(r.URL.Path, "/api/auth/oauth/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) < 2 {
		writeError(w, http.StatusNotFound, fmt.Errorf("invalid oauth path"))
		return
	}
	provider := parts[0]
	switch parts[1] {
	case "start":
		h.oauthStart(w, r, provider)
	case "callback":
		h.oauthCallback(w, r, provider)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("invalid oauth action"))
	}
}

// oauthStart begins the account-linking flow for a channel the caller owns.
func (h *Handler) oauthStart(w http.ResponseWriter, r *http.Request, provider string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req oauthStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	channel, ok := h.Store.GetChannel(req.ChannelID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("channel %s not found", req.ChannelID))
		return
	}
	if _, ok := h.ensureChannelAccess(w, r, channel); !ok {
		return
	}

	begin, err := h.OAuth.Begin(provider, channel.ID, sanitizeReturnPath(req.ReturnTo))
	if errors.Is(err, oauth.ErrProviderNotConfigured) {
		writeError(w, http.StatusNotFound, fmt.Errorf("oauth provider %s not configured", provider))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": begin.URL})
}

// oauthCallback completes the flow and stores the channel's platform
// credential. The browser arrives here from the provider, so errors redirect
// instead of returning JSON.
func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request, provider string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}

	query := r.URL.Query()
	state := query.Get("state")
	if errParam := query.Get("error"); errParam != "" {
		redirectTarget := "/"
		if dest, err := h.OAuth.Cancel(state); err == nil {
			redirectTarget = dest
		}
		http.Redirect(w, r, appendQueryParam(sanitizeReturnPath(redirectTarget), "link", "error"), http.StatusSeeOther)
		return
	}

	if state == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("state parameter is required"))
		return
	}
	code := query.Get("code")
	if strings.TrimSpace(code) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("authorization code is required"))
		return
	}

	completion, err := h.OAuth.Complete(r.Context(), provider, state, code)
	returnPath := sanitizeReturnPath(completion.ReturnTo)
	if err != nil {
		if errors.Is(err, oauth.ErrProviderNotConfigured) {
			writeError(w, http.StatusNotFound, fmt.Errorf("oauth provider %s not configured", provider))
			return
		}
		http.Redirect(w, r, appendQueryParam(returnPath, "link", "error"), http.StatusSeeOther)
		return
	}

	_, err = h.Store.UpsertPlatformCredential(models.PlatformCredential{
		ChannelID:    completion.ChannelID,
		Provider:     completion.Profile.Provider,
		AccessToken:  completion.Token.AccessToken,
		RefreshToken: completion.Token.RefreshToken,
		TokenExpiry:  completion.Token.Expiry,
		Subject:      completion.Profile.Subject,
	})
	if err != nil {
		http.Redirect(w, r, appendQueryParam(returnPath, "link", "error"), http.StatusSeeOther)
		return
	}
	if h.Live != nil {
		h.Live.Invalidate(completion.ChannelID)
	}
	http.Redirect(w, r, appendQueryParam(returnPath, "link", "success"), http.StatusSeeOther)
}

func sanitizeReturnPath(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "/"
	}
	parsed, err := url.Parse(trimmed)
	if err == nil {
		if parsed.IsAbs() {
			trimmed = parsed.Path
			if parsed.RawQuery != "" {
				trimmed = trimmed + "?" + parsed.RawQuery
			}
		} else {
			trimmed = parsed.RequestURI()
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" || strings.HasPrefix(trimmed, "//") {
		return "/"
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return trimmed
}

func appendQueryParam(path, key, value string) string {
	parsed, err := url.Parse(path)
	if err != nil {
		parsed = &url.URL{Path: path}
	}
	if parsed.Scheme != "" && parsed.Host != "" {
		parsed.Scheme = ""
		parsed.Host = ""
	}
	query := parsed.Query()
	query.Set(key, value)
	parsed.RawQuery = query.Encode()
	parsed.Fragment = ""
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed.String()
}
