package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"openair-live/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return store
}

func createTestUser(t *testing.T, store *Storage) models.User {
	t.Helper()
	user, err := store.CreateUser(CreateUserParams{
		DisplayName: "Creator",
		Email:       "creator@example.com",
		Password:    "correct horse",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func createTestChannel(t *testing.T, store *Storage, ownerID string) models.Channel {
	t.Helper()
	channel, err := store.CreateChannel(ownerID, "Morning Rides", "daily cycling")
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	return channel
}

func TestCreateUserNormalizesAndRejectsDuplicates(t *testing.T) {
	store := newTestStorage(t)
	user, err := store.CreateUser(CreateUserParams{
		DisplayName: "  Creator ",
		Email:       " Creator@Example.COM ",
		Roles:       []string{"Admin", "admin", " creator "},
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Email != "creator@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if len(user.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", user.Roles)
	}
	if _, err := store.CreateUser(CreateUserParams{
		DisplayName: "Other",
		Email:       "creator@example.com",
	}); err == nil {
		t.Fatal("expected duplicate email rejection")
	}
}

func TestSelfSignupDefaultsToCreatorRole(t *testing.T) {
	store := newTestStorage(t)
	user, err := store.CreateUser(CreateUserParams{
		DisplayName: "Newbie",
		Email:       "newbie@example.com",
		Password:    "hunter2hunter2",
		SelfSignup:  true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !user.HasRole("creator") {
		t.Fatalf("expected creator role, got %v", user.Roles)
	}
	if _, err := store.CreateUser(CreateUserParams{
		DisplayName: "NoPass",
		Email:       "nopass@example.com",
		SelfSignup:  true,
	}); err == nil {
		t.Fatal("expected self-signup without password to fail")
	}
}

func TestChannelLifecycle(t *testing.T) {
	store := newTestStorage(t)
	user := createTestUser(t, store)
	channel := createTestChannel(t, store, user.ID)
	if !channel.AutoLiveEnabled {
		t.Fatal("expected auto-live enabled by default")
	}

	disabled := false
	title := "Evening Rides"
	updated, err := store.UpdateChannel(channel.ID, ChannelUpdate{Title: &title, AutoLiveEnabled: &disabled})
	if err != nil {
		t.Fatalf("UpdateChannel: %v", err)
	}
	if updated.Title != "Evening Rides" || updated.AutoLiveEnabled {
		t.Fatalf("unexpected channel after update: %+v", updated)
	}
	if !updated.UpdatedAt.After(channel.UpdatedAt) && !updated.UpdatedAt.Equal(channel.UpdatedAt) {
		t.Fatal("expected UpdatedAt to advance")
	}

	listed := store.ListChannels(user.ID)
	if len(listed) != 1 || listed[0].ID != channel.ID {
		t.Fatalf("unexpected channel list %+v", listed)
	}

	if err := store.DeleteChannel(channel.ID); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}
	if _, ok := store.GetChannel(channel.ID); ok {
		t.Fatal("expected channel gone after delete")
	}
	var notFound *NotFoundError
	if err := store.DeleteChannel(channel.ID); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestPlatformCredentialUpsertKeepsRefreshToken(t *testing.T) {
	store := newTestStorage(t)
	user := createTestUser(t, store)
	channel := createTestChannel(t, store, user.ID)

	initial, err := store.UpsertPlatformCredential(models.PlatformCredential{
		ChannelID:    channel.ID,
		Provider:     "Google",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenExpiry:  time.Now().Add(time.Hour),
		Subject:      "yt-subject",
	})
	if err != nil {
		t.Fatalf("UpsertPlatformCredential: %v", err)
	}
	if initial.Provider != "google" {
		t.Fatalf("expected provider normalized, got %q", initial.Provider)
	}

	// Renewal without a refresh token must not lose the stored one.
	renewed, err := store.UpsertPlatformCredential(models.PlatformCredential{
		ChannelID:   channel.ID,
		Provider:    "google",
		AccessToken: "access-2",
		TokenExpiry: time.Now().Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("UpsertPlatformCredential renewal: %v", err)
	}
	if renewed.AccessToken != "access-2" {
		t.Fatalf("expected renewed access token, got %q", renewed.AccessToken)
	}
	if renewed.RefreshToken != "refresh-1" {
		t.Fatalf("expected refresh token retained, got %q", renewed.RefreshToken)
	}

	if err := store.DeletePlatformCredential(channel.ID, "google"); err != nil {
		t.Fatalf("DeletePlatformCredential: %v", err)
	}
	if _, ok := store.GetPlatformCredential(channel.ID, "google"); ok {
		t.Fatal("expected credential gone after delete")
	}
}

func TestLiveSessionLifecycle(t *testing.T) {
	store := newTestStorage(t)
	user := createTestUser(t, store)
	channel := createTestChannel(t, store, user.ID)

	session, err := store.CreateLiveSession(CreateLiveSessionParams{
		ChannelID:   channel.ID,
		BroadcastID: "bcast-1",
		StreamID:    "stream-1",
		IngestURL:   "rtmp://a.rtmp.youtube.com/live2",
		StreamKey:   "abcd-1234",
	})
	if err != nil {
		t.Fatalf("CreateLiveSession: %v", err)
	}
	if session.Status != models.LiveStatusProvisioned {
		t.Fatalf("expected provisioned status, got %q", session.Status)
	}

	if _, err := store.CreateLiveSession(CreateLiveSessionParams{
		ChannelID:   channel.ID,
		BroadcastID: "bcast-2",
		StreamID:    "stream-2",
	}); !errors.Is(err, ErrSessionStillActive) {
		t.Fatalf("expected ErrSessionStillActive, got %v", err)
	}

	live := models.LiveStatusLive
	updated, err := store.UpdateLiveSession(session.ID, LiveSessionUpdate{Status: &live})
	if err != nil {
		t.Fatalf("UpdateLiveSession: %v", err)
	}
	if updated.Status != models.LiveStatusLive {
		t.Fatalf("expected live status, got %q", updated.Status)
	}

	found, ok := store.FindLiveSessionByBroadcast("bcast-1")
	if !ok || found.ID != session.ID {
		t.Fatalf("expected session by broadcast id, got ok=%v", ok)
	}
	current, ok := store.CurrentLiveSession(channel.ID)
	if !ok || current.ID != session.ID {
		t.Fatalf("expected current session, got ok=%v", ok)
	}

	ended := models.LiveStatusEnded
	now := time.Now()
	if _, err := store.UpdateLiveSession(session.ID, LiveSessionUpdate{Status: &ended, EndedAt: &now}); err != nil {
		t.Fatalf("UpdateLiveSession end: %v", err)
	}
	if _, ok := store.CurrentLiveSession(channel.ID); ok {
		t.Fatal("expected no current session after end")
	}

	// A new session may start once the previous one ended.
	if _, err := store.CreateLiveSession(CreateLiveSessionParams{
		ChannelID:   channel.ID,
		BroadcastID: "bcast-2",
		StreamID:    "stream-2",
	}); err != nil {
		t.Fatalf("CreateLiveSession after end: %v", err)
	}
}

func TestDataSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	user := createTestUser(t, store)
	channel := createTestChannel(t, store, user.ID)
	if _, err := store.UpsertPlatformCredential(models.PlatformCredential{
		ChannelID:    channel.ID,
		Provider:     "google",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}); err != nil {
		t.Fatalf("UpsertPlatformCredential: %v", err)
	}

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage reload: %v", err)
	}
	if _, ok := reloaded.GetUser(user.ID); !ok {
		t.Fatal("expected user after reload")
	}
	if _, ok := reloaded.GetChannel(channel.ID); !ok {
		t.Fatal("expected channel after reload")
	}
	cred, ok := reloaded.GetPlatformCredential(channel.ID, "google")
	if !ok || cred.RefreshToken != "refresh-1" {
		t.Fatalf("expected credential after reload, ok=%v cred=%+v", ok, cred)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	store := newTestStorage(t)
	user := createTestUser(t, store)
	channel := createTestChannel(t, store, user.ID)
	if _, err := store.UpsertPlatformCredential(models.PlatformCredential{
		ChannelID:   channel.ID,
		Provider:    "google",
		AccessToken: "access-1",
	}); err != nil {
		t.Fatalf("UpsertPlatformCredential: %v", err)
	}
	if _, err := store.CreateLiveSession(CreateLiveSessionParams{
		ChannelID:   channel.ID,
		BroadcastID: "bcast-1",
		StreamID:    "stream-1",
	}); err != nil {
		t.Fatalf("CreateLiveSession: %v", err)
	}

	if err := store.DeleteUser(user.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, ok := store.GetChannel(channel.ID); ok {
		t.Fatal("expected channel removed with owner")
	}
	if _, ok := store.GetPlatformCredential(channel.ID, "google"); ok {
		t.Fatal("expected credential removed with channel")
	}
	if sessions := store.ListLiveSessions(channel.ID); len(sessions) != 0 {
		t.Fatalf("expected sessions removed with channel, got %d", len(sessions))
	}
}

func TestPersistFailureRollsBack(t *testing.T) {
	store := newTestStorage(t)
	user := createTestUser(t, store)

	persistErr := errors.New("disk full")
	store.persistOverride = func(dataset) error { return persistErr }

	if _, err := store.CreateChannel(user.ID, "Doomed", ""); !errors.Is(err, persistErr) {
		t.Fatalf("expected persist error, got %v", err)
	}
	store.persistOverride = nil
	if channels := store.ListChannels(user.ID); len(channels) != 0 {
		t.Fatalf("expected no channel after failed persist, got %d", len(channels))
	}
}
