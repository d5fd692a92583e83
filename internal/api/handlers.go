package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"openair-live/internal/auth"
	"openair-live/internal/auth/oauth"
	"openair-live/internal/live"
	"openair-live/internal/storage"
)

const sessionCookieName = "openair_session"

// Handler bundles the dependencies of every HTTP endpoint.
type Handler struct {
	Store    storage.Repository
	Sessions *auth.SessionManager
	OAuth    oauth.Service
	Live     *live.Service
}

// NewHandler constructs a Handler with a default in-memory session manager
// when none is supplied.
func NewHandler(store storage.Repository, sessions *auth.SessionManager) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return &Handler{Store: store, Sessions: sessions}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	if h.Sessions == nil {
		h.Sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return h.Sessions
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, errors.New("method "+r.Method+" not allowed"))
}

// statusForStoreError maps repository failures onto HTTP statuses.
func statusForStoreError(err error) int {
	var notFound *storage.NotFoundError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrSessionStillActive):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expires time.Time) {
	if token == "" {
		return
	}
	maxAge := int(time.Until(expires).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie removes the session cookie from the response.
func ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w, r)
}

func isSecureRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		for _, p := range strings.Split(proto, ",") {
			if strings.EqualFold(strings.TrimSpace(p), "https") {
				return true
			}
		}
	}
	if r.URL != nil && strings.EqualFold(r.URL.Scheme, "https") {
		return true
	}
	return false
}

// ExtractToken pulls the session token from the Authorization header or the
// session cookie.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// Health reports storage and session-store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	type serviceStatus struct {
		Component string `json:"component"`
		Status    string `json:"status"`
		Detail    string `json:"detail,omitempty"`
	}

	overall := "ok"
	services := make([]serviceStatus, 0, 2)

	storeStatus := serviceStatus{Component: "storage", Status: "ok"}
	if h.Store == nil {
		storeStatus.Status = "error"
		storeStatus.Detail = "not configured"
	} else if err := h.Store.Ping(r.Context()); err != nil {
		storeStatus.Status = "error"
		storeStatus.Detail = err.Error()
	}
	services = append(services, storeStatus)

	sessionStatus := serviceStatus{Component: "sessions", Status: "ok"}
	if err := h.sessionManager().Ping(r.Context()); err != nil {
		sessionStatus.Status = "error"
		sessionStatus.Detail = err.Error()
	}
	services = append(services, sessionStatus)

	for _, service := range services {
		if service.Status != "ok" {
			overall = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   overall,
		"services": services,
	})
}
