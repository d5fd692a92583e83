package storage

import (
	"path/filepath"
	"testing"

	"openair-live/internal/models"
)

func TestSnapshotRoundTripsThroughJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	user, err := store.CreateUser(CreateUserParams{DisplayName: "Creator", Email: "creator@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	channel, err := store.CreateChannel(user.ID, "Morning Rides", "daily rides")
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
	if _, err := store.CreateLiveSession(CreateLiveSessionParams{
		ChannelID:   channel.ID,
		BroadcastID: "bc-1",
		StreamID:    "st-1",
	}); err != nil {
		t.Fatalf("CreateLiveSession: %v", err)
	}

	loaded, err := LoadSnapshotFromJSON(path)
	if err != nil {
		t.Fatalf("LoadSnapshotFromJSON: %v", err)
	}
	counts := loaded.Counts()
	if counts.Users != 1 || counts.Channels != 1 || counts.Credentials != 1 || counts.LiveSessions != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	if loaded.Users[0].PasswordHash == "" {
		t.Fatal("expected password hash to survive export")
	}
	if loaded.Channels[0].OwnerID != user.ID {
		t.Fatalf("expected owner %s, got %s", user.ID, loaded.Channels[0].OwnerID)
	}

	live := store.Snapshot()
	if live.Counts() != counts {
		t.Fatalf("live snapshot %+v differs from file snapshot %+v", live.Counts(), counts)
	}
}

func TestLoadSnapshotFromJSONMissingFile(t *testing.T) {
	if _, err := LoadSnapshotFromJSON(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
