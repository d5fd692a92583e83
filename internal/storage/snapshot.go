package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"openair-live/internal/models"
)

// Snapshot is a point-in-time export of the JSON datastore. The migration
// tool loads one from disk and replays it into Postgres.
type Snapshot struct {
	Users        []models.User
	Channels     []models.Channel
	Credentials  []models.PlatformCredential
	LiveSessions []models.LiveSession
}

// SnapshotCounts summarizes a snapshot for logging and post-import checks.
type SnapshotCounts struct {
	Users        int
	Channels     int
	Credentials  int
	LiveSessions int
}

// Counts returns per-entity record counts.
func (s Snapshot) Counts() SnapshotCounts {
	return SnapshotCounts{
		Users:        len(s.Users),
		Channels:     len(s.Channels),
		Credentials:  len(s.Credentials),
		LiveSessions: len(s.LiveSessions),
	}
}

// Snapshot exports the store's current contents.
func (s *Storage) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromDataset(s.data)
}

// LoadSnapshotFromJSON reads a JSON datastore file without going through a
// live Storage instance.
func LoadSnapshotFromJSON(path string) (Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	var data dataset
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return Snapshot{}, fmt.Errorf("decode store file: %w", err)
	}
	return snapshotFromDataset(data), nil
}

func snapshotFromDataset(data dataset) Snapshot {
	snap := Snapshot{
		Users:        make([]models.User, 0, len(data.Users)),
		Channels:     make([]models.Channel, 0, len(data.Channels)),
		Credentials:  make([]models.PlatformCredential, 0, len(data.Credentials)),
		LiveSessions: make([]models.LiveSession, 0, len(data.LiveSessions)),
	}
	for _, user := range data.Users {
		snap.Users = append(snap.Users, user)
	}
	for _, channel := range data.Channels {
		snap.Channels = append(snap.Channels, channel)
	}
	for _, cred := range data.Credentials {
		snap.Credentials = append(snap.Credentials, cred)
	}
	for _, session := range data.LiveSessions {
		snap.LiveSessions = append(snap.LiveSessions, session)
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].ID < snap.Users[j].ID })
	sort.Slice(snap.Channels, func(i, j int) bool { return snap.Channels[i].ID < snap.Channels[j].ID })
	sort.Slice(snap.Credentials, func(i, j int) bool {
		a, b := snap.Credentials[i], snap.Credentials[j]
		if a.ChannelID != b.ChannelID {
			return a.ChannelID < b.ChannelID
		}
		return a.Provider < b.Provider
	})
	sort.Slice(snap.LiveSessions, func(i, j int) bool { return snap.LiveSessions[i].ID < snap.LiveSessions[j].ID })
	return snap
}

// ImportSnapshotToPostgres replays a snapshot into a Postgres-backed
// repository inside one transaction. Insert order follows the foreign key
// chain: users, channels, credentials, live sessions.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snap Snapshot) error {
	pg, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("repository is not postgres-backed")
	}

	tx, err := pg.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, user := range snap.Users {
		if _, err := tx.Exec(ctx, `
INSERT INTO users (id, display_name, email, roles, password_hash, self_signup, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, user.ID, user.DisplayName, user.Email, user.Roles, user.PasswordHash, user.SelfSignup, user.CreatedAt); err != nil {
			return fmt.Errorf("import user %s: %w", user.ID, err)
		}
	}
	for _, channel := range snap.Channels {
		if _, err := tx.Exec(ctx, `
INSERT INTO channels (id, owner_id, title, description, auto_live_enabled, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, channel.ID, channel.OwnerID, channel.Title, channel.Description, channel.AutoLiveEnabled, channel.CreatedAt, channel.UpdatedAt); err != nil {
			return fmt.Errorf("import channel %s: %w", channel.ID, err)
		}
	}
	for _, cred := range snap.Credentials {
		if _, err := tx.Exec(ctx, `
INSERT INTO platform_credentials (channel_id, provider, access_token, refresh_token, token_expiry, subject, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, cred.ChannelID, cred.Provider, cred.AccessToken, cred.RefreshToken, cred.TokenExpiry, cred.Subject, cred.UpdatedAt); err != nil {
			return fmt.Errorf("import credential %s/%s: %w", cred.ChannelID, cred.Provider, err)
		}
	}
	for _, session := range snap.LiveSessions {
		if _, err := tx.Exec(ctx, `
INSERT INTO live_sessions (id, channel_id, broadcast_id, stream_id, ingest_url, stream_key, status, started_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, session.ID, session.ChannelID, session.BroadcastID, session.StreamID, session.IngestURL, session.StreamKey, session.Status, session.StartedAt, session.EndedAt); err != nil {
			return fmt.Errorf("import live session %s: %w", session.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}
