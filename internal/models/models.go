package models

import (
	"strings"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	Roles        []string  `json:"roles"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	SelfSignup   bool      `json:"selfSignup"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasRole reports whether the user has the provided role, ignoring case.
func (u User) HasRole(role string) bool {
	for _, existing := range u.Roles {
		if strings.EqualFold(existing, role) {
			return true
		}
	}
	return false
}

// Channel represents a creator's streaming destination. Each channel may be
// linked to exactly one remote platform account via a PlatformCredential.
type Channel struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	AutoLiveEnabled bool      `json:"autoLiveEnabled"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// PlatformCredential stores the OAuth tokens used to act on a channel's
// behalf against the remote live-video platform. Tokens never appear in API
// responses; the storage layer owns the only serialized copy.
type PlatformCredential struct {
	ChannelID    string    `json:"channelId"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenExpiry  time.Time `json:"tokenExpiry"`
	Subject      string    `json:"subject,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Live session status values recorded against a LiveSession. "assumed_live"
// marks sessions that exhausted the transition budget and proceeded anyway.
const (
	LiveStatusProvisioned = "provisioned"
	LiveStatusLive        = "live"
	LiveStatusAssumedLive = "assumed_live"
	LiveStatusFailed      = "failed"
	LiveStatusEnded       = "ended"
)

// LiveSession tracks one broadcast from provisioning through teardown. The
// stream key is persisted so an interrupted client can resume, but it is
// excluded from anything user-facing above the storage layer.
type LiveSession struct {
	ID          string     `json:"id"`
	ChannelID   string     `json:"channelId"`
	BroadcastID string     `json:"broadcastId"`
	StreamID    string     `json:"streamId"`
	IngestURL   string     `json:"ingestUrl"`
	StreamKey   string     `json:"streamKey"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// Active reports whether the session still accepts go-live polling.
func (s LiveSession) Active() bool {
	return s.EndedAt == nil && s.Status != LiveStatusEnded && s.Status != LiveStatusFailed
}
