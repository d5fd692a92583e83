package storage

import (
	"context"

	"openair-live/internal/models"
)

// Repository exposes the datastore operations required by the API handlers
// and the go-live orchestration.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(email, password string) (models.User, error)
	ListUsers() []models.User
	GetUser(id string) (models.User, bool)
	FindUserByEmail(email string) (models.User, bool)
	UpdateUser(id string, update UserUpdate) (models.User, error)
	SetUserPassword(id, password string) (models.User, error)
	DeleteUser(id string) error

	CreateChannel(ownerID, title, description string) (models.Channel, error)
	UpdateChannel(id string, update ChannelUpdate) (models.Channel, error)
	GetChannel(id string) (models.Channel, bool)
	ListChannels(ownerID string) []models.Channel
	DeleteChannel(id string) error

	UpsertPlatformCredential(cred models.PlatformCredential) (models.PlatformCredential, error)
	GetPlatformCredential(channelID, provider string) (models.PlatformCredential, bool)
	DeletePlatformCredential(channelID, provider string) error

	CreateLiveSession(params CreateLiveSessionParams) (models.LiveSession, error)
	UpdateLiveSession(id string, update LiveSessionUpdate) (models.LiveSession, error)
	GetLiveSession(id string) (models.LiveSession, bool)
	FindLiveSessionByBroadcast(broadcastID string) (models.LiveSession, bool)
	CurrentLiveSession(channelID string) (models.LiveSession, bool)
	ListLiveSessions(channelID string) []models.LiveSession
}

var (
	_ Repository = (*Storage)(nil)
	_ Repository = (*postgresRepository)(nil)
)
