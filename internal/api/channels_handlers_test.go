package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"openair-live/internal/models"
	"openair-live/internal/storage"
)

func seedCreator(t *testing.T, store *storage.Storage) models.User {
	t.Helper()
	user, err := store.CreateUser(storage.CreateUserParams{
		DisplayName: "Creator",
		Email:       "creator@example.com",
		Roles:       []string{"creator"},
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func TestCreateAndListChannels(t *testing.T) {
	handler, store := newTestHandler(t)
	user := seedCreator(t, store)

	req := jsonRequest(t, http.MethodPost, "/api/channels", createChannelRequest{Title: "Morning Rides"})
	req = req.WithContext(ContextWithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	handler.Channels(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var created channelResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.OwnerID != user.ID || !created.AutoLiveEnabled || created.Linked {
		t.Fatalf("unexpected channel %+v", created)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	req = req.WithContext(ContextWithUser(req.Context(), user))
	rec = httptest.NewRecorder()
	handler.Channels(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	var listed []channelResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("unexpected list %+v", listed)
	}
}

func TestUpdateChannelTogglesAutoLive(t *testing.T) {
	handler, store := newTestHandler(t)
	user := seedCreator(t, store)
	channel, err := store.CreateChannel(user.ID, "Morning Rides", "")
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	disabled := false
	req := jsonRequest(t, http.MethodPatch, "/api/channels/"+channel.ID, updateChannelRequest{AutoLiveEnabled: &disabled})
	req = req.WithContext(ContextWithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	handler.ChannelByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch returned %d: %s", rec.Code, rec.Body.String())
	}
	var updated channelResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.AutoLiveEnabled {
		t.Fatal("expected auto-live disabled")
	}
}

func TestChannelAccessDeniedForForeignUser(t *testing.T) {
	handler, store := newTestHandler(t)
	owner := seedCreator(t, store)
	channel, err := store.CreateChannel(owner.ID, "Morning Rides", "")
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	other, err := store.CreateUser(storage.CreateUserParams{
		DisplayName: "Other",
		Email:       "other@example.com",
		Roles:       []string{"creator"},
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/channels/"+channel.ID, nil)
	req = req.WithContext(ContextWithUser(req.Context(), other))
	rec := httptest.NewRecorder()
	handler.ChannelByID(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestChannelCredentialNeverExposesTokens(t *testing.T) {
	handler, store := newTestHandler(t)
	user := seedCreator(t, store)
	channel, err := store.CreateChannel(user.ID, "Morning Rides", "")
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if _, err := store.UpsertPlatformCredential(models.PlatformCredential{
		ChannelID:    channel.ID,
		Provider:     "google",
		AccessToken:  "super-secret-access",
		RefreshToken: "super-secret-refresh",
		TokenExpiry:  time.Now().Add(time.Hour),
		Subject:      "yt-subject",
	}); err != nil {
		t.Fatalf("UpsertPlatformCredential: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/channels/"+channel.ID+"/credential", nil)
	req = req.WithContext(ContextWithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	handler.ChannelByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("credential returned %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if strings.Contains(body, "super-secret-access") || strings.Contains(body, "super-secret-refresh") {
		t.Fatalf("token material leaked: %s", body)
	}
	var resp credentialResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Provider != "google" || resp.Subject != "yt-subject" {
		t.Fatalf("unexpected credential %+v", resp)
	}
}

func TestDeleteChannelCredentialUnlinks(t *testing.T) {
	handler, store := newTestHandler(t)
	user := seedCreator(t, store)
	channel, err := store.CreateChannel(user.ID, "Morning Rides", "")
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if _, err := store.UpsertPlatformCredential(models.PlatformCredential{
		ChannelID:   channel.ID,
		Provider:    "google",
		AccessToken: "access",
	}); err != nil {
		t.Fatalf("UpsertPlatformCredential: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/channels/"+channel.ID+"/credential", nil)
	req = req.WithContext(ContextWithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	handler.ChannelByID(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := store.GetPlatformCredential(channel.ID, "google"); ok {
		t.Fatal("expected credential removed")
	}
}
