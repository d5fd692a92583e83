// Package storage persists the accounts, channels, platform credentials, and
// live sessions behind the API. Two implementations exist: a JSON-file store
// for development and single-instance deployments, and a Postgres repository
// for anything shared.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"openair-live/internal/models"
)

var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrPasswordLoginUnsupported = errors.New("account does not support password login")
	ErrSessionStillActive       = errors.New("channel already has an active live session")
)

// NotFoundError marks lookups against missing entities so handlers can map
// them to 404s.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IsNotFound reports whether err stems from a missing entity.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

type dataset struct {
	Users        map[string]models.User               `json:"users"`
	Channels     map[string]models.Channel            `json:"channels"`
	Credentials  map[string]models.PlatformCredential `json:"credentials"`
	LiveSessions map[string]models.LiveSession        `json:"liveSessions"`
}

func newDataset() dataset {
	return dataset{
		Users:        make(map[string]models.User),
		Channels:     make(map[string]models.Channel),
		Credentials:  make(map[string]models.PlatformCredential),
		LiveSessions: make(map[string]models.LiveSession),
	}
}

// Storage is the JSON-file backed repository. All mutations rewrite the file
// atomically via a temp file and rename.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	clock    func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// NewStorage opens (or creates) the JSON store at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()
	return nil
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Channels == nil {
		s.data.Channels = make(map[string]models.Channel)
	}
	if s.data.Credentials == nil {
		s.data.Credentials = make(map[string]models.PlatformCredential)
	}
	if s.data.LiveSessions == nil {
		s.data.LiveSessions = make(map[string]models.LiveSession)
	}
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()
	for id, user := range src.Users {
		cloned := user
		if user.Roles != nil {
			cloned.Roles = append([]string(nil), user.Roles...)
		}
		clone.Users[id] = cloned
	}
	for id, channel := range src.Channels {
		clone.Channels[id] = channel
	}
	for key, cred := range src.Credentials {
		clone.Credentials[key] = cred
	}
	for id, session := range src.LiveSessions {
		cloned := session
		if session.EndedAt != nil {
			ended := *session.EndedAt
			cloned.EndedAt = &ended
		}
		clone.LiveSessions[id] = cloned
	}
	return clone
}

// Ping always succeeds for the file store.
func (s *Storage) Ping(context.Context) error {
	return nil
}

// CreateUserParams captures the attributes that can be set when creating a
// user.
type CreateUserParams struct {
	DisplayName string
	Email       string
	Password    string
	Roles       []string
	SelfSignup  bool
}

// UserUpdate describes a partial user mutation; nil fields are untouched.
type UserUpdate struct {
	DisplayName *string
	Email       *string
	Roles       *[]string
}

// ChannelUpdate describes a partial channel mutation; nil fields are
// untouched.
type ChannelUpdate struct {
	Title           *string
	Description     *string
	AutoLiveEnabled *bool
}

// CreateLiveSessionParams captures the ingest coordinates recorded when a
// broadcast is provisioned.
type CreateLiveSessionParams struct {
	ChannelID   string
	BroadcastID string
	StreamID    string
	IngestURL   string
	StreamKey   string
}

// LiveSessionUpdate describes a partial live-session mutation; nil fields are
// untouched.
type LiveSessionUpdate struct {
	Status  *string
	EndedAt *time.Time
}

func normalizeRoles(input []string) []string {
	if len(input) == 0 {
		return nil
	}
	roles := make([]string, 0, len(input))
	seen := make(map[string]struct{})
	for _, role := range input {
		trimmed := strings.TrimSpace(role)
		if trimmed == "" {
			continue
		}
		normalized := strings.ToLower(trimmed)
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		roles = append(roles, normalized)
	}
	if len(roles) == 0 {
		return nil
	}
	sort.Strings(roles)
	return roles
}

// User operations

func (s *Storage) CreateUser(params CreateUserParams) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalizedEmail := strings.TrimSpace(strings.ToLower(params.Email))
	if normalizedEmail == "" {
		return models.User{}, errors.New("email is required")
	}
	for _, user := range s.data.Users {
		if user.Email == normalizedEmail {
			return models.User{}, fmt.Errorf("email %s already in use", params.Email)
		}
	}

	displayName := strings.TrimSpace(params.DisplayName)
	if displayName == "" {
		return models.User{}, errors.New("displayName is required")
	}

	roles := normalizeRoles(params.Roles)
	if params.SelfSignup {
		if params.Password == "" {
			return models.User{}, errors.New("password is required for self-service signup")
		}
		if len(roles) == 0 {
			roles = []string{"creator"}
		}
	}

	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}

	var passwordHash string
	if params.Password != "" {
		hashed, hashErr := hashPassword(params.Password)
		if hashErr != nil {
			return models.User{}, fmt.Errorf("hash password: %w", hashErr)
		}
		passwordHash = hashed
	}

	user := models.User{
		ID:           id,
		DisplayName:  displayName,
		Email:        normalizedEmail,
		Roles:        roles,
		PasswordHash: passwordHash,
		SelfSignup:   params.SelfSignup,
		CreatedAt:    s.clock(),
	}

	s.data.Users[id] = user
	if err := s.persist(); err != nil {
		delete(s.data.Users, id)
		return models.User{}, err
	}
	return user, nil
}

func (s *Storage) ListUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users
}

func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok
}

// FindUserByEmail looks up a user by their normalized email address.
func (s *Storage) FindUserByEmail(email string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	for _, user := range s.data.Users {
		if user.Email == normalizedEmail {
			return user, true
		}
	}
	return models.User{}, false
}

func (s *Storage) UpdateUser(id string, update UserUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, &NotFoundError{Kind: "user", ID: id}
	}

	updated := user
	if update.DisplayName != nil {
		trimmed := strings.TrimSpace(*update.DisplayName)
		if trimmed == "" {
			return models.User{}, errors.New("displayName cannot be empty")
		}
		updated.DisplayName = trimmed
	}
	if update.Email != nil {
		normalized := strings.TrimSpace(strings.ToLower(*update.Email))
		if normalized == "" {
			return models.User{}, errors.New("email cannot be empty")
		}
		for otherID, other := range s.data.Users {
			if otherID != id && other.Email == normalized {
				return models.User{}, fmt.Errorf("email %s already in use", normalized)
			}
		}
		updated.Email = normalized
	}
	if update.Roles != nil {
		updated.Roles = normalizeRoles(*update.Roles)
	}

	s.data.Users[id] = updated
	if err := s.persist(); err != nil {
		s.data.Users[id] = user
		return models.User{}, err
	}
	return updated, nil
}

func (s *Storage) DeleteUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[id]; !ok {
		return &NotFoundError{Kind: "user", ID: id}
	}

	updatedData := cloneDataset(s.data)
	delete(updatedData.Users, id)
	for channelID, channel := range updatedData.Channels {
		if channel.OwnerID != id {
			continue
		}
		delete(updatedData.Channels, channelID)
		for key, cred := range updatedData.Credentials {
			if cred.ChannelID == channelID {
				delete(updatedData.Credentials, key)
			}
		}
		for sessionID, session := range updatedData.LiveSessions {
			if session.ChannelID == channelID {
				delete(updatedData.LiveSessions, sessionID)
			}
		}
	}

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}

// Channel operations

func (s *Storage) CreateChannel(ownerID, title, description string) (models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[ownerID]; !ok {
		return models.Channel{}, &NotFoundError{Kind: "user", ID: ownerID}
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Channel{}, errors.New("title is required")
	}

	id, err := generateID()
	if err != nil {
		return models.Channel{}, err
	}
	now := s.clock()
	channel := models.Channel{
		ID:              id,
		OwnerID:         ownerID,
		Title:           title,
		Description:     strings.TrimSpace(description),
		AutoLiveEnabled: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s.data.Channels[id] = channel
	if err := s.persist(); err != nil {
		delete(s.data.Channels, id)
		return models.Channel{}, err
	}
	return channel, nil
}

func (s *Storage) UpdateChannel(id string, update ChannelUpdate) (models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, ok := s.data.Channels[id]
	if !ok {
		return models.Channel{}, &NotFoundError{Kind: "channel", ID: id}
	}

	updated := channel
	if update.Title != nil {
		trimmed := strings.TrimSpace(*update.Title)
		if trimmed == "" {
			return models.Channel{}, errors.New("title cannot be empty")
		}
		updated.Title = trimmed
	}
	if update.Description != nil {
		updated.Description = strings.TrimSpace(*update.Description)
	}
	if update.AutoLiveEnabled != nil {
		updated.AutoLiveEnabled = *update.AutoLiveEnabled
	}
	updated.UpdatedAt = s.clock()

	s.data.Channels[id] = updated
	if err := s.persist(); err != nil {
		s.data.Channels[id] = channel
		return models.Channel{}, err
	}
	return updated, nil
}

func (s *Storage) GetChannel(id string) (models.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channel, ok := s.data.Channels[id]
	return channel, ok
}

func (s *Storage) ListChannels(ownerID string) []models.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]models.Channel, 0, len(s.data.Channels))
	for _, channel := range s.data.Channels {
		if ownerID != "" && channel.OwnerID != ownerID {
			continue
		}
		channels = append(channels, channel)
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].CreatedAt.Before(channels[j].CreatedAt)
	})
	return channels
}

func (s *Storage) DeleteChannel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Channels[id]; !ok {
		return &NotFoundError{Kind: "channel", ID: id}
	}

	updatedData := cloneDataset(s.data)
	delete(updatedData.Channels, id)
	for key, cred := range updatedData.Credentials {
		if cred.ChannelID == id {
			delete(updatedData.Credentials, key)
		}
	}
	for sessionID, session := range updatedData.LiveSessions {
		if session.ChannelID == id {
			delete(updatedData.LiveSessions, sessionID)
		}
	}

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}

// Platform credential operations

func credentialKey(channelID, provider string) string {
	return channelID + "/" + strings.ToLower(strings.TrimSpace(provider))
}

func (s *Storage) UpsertPlatformCredential(cred models.PlatformCredential) (models.PlatformCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Channels[cred.ChannelID]; !ok {
		return models.PlatformCredential{}, &NotFoundError{Kind: "channel", ID: cred.ChannelID}
	}
	if strings.TrimSpace(cred.Provider) == "" {
		return models.PlatformCredential{}, errors.New("provider is required")
	}
	if cred.AccessToken == "" {
		return models.PlatformCredential{}, errors.New("accessToken is required")
	}
	cred.Provider = strings.ToLower(strings.TrimSpace(cred.Provider))
	cred.UpdatedAt = s.clock()

	key := credentialKey(cred.ChannelID, cred.Provider)
	previous, existed := s.data.Credentials[key]
	// Providers omit the refresh token on renewals; keep the stored one.
	if cred.RefreshToken == "" && existed {
		cred.RefreshToken = previous.RefreshToken
	}

	s.data.Credentials[key] = cred
	if err := s.persist(); err != nil {
		if existed {
			s.data.Credentials[key] = previous
		} else {
			delete(s.data.Credentials, key)
		}
		return models.PlatformCredential{}, err
	}
	return cred, nil
}

func (s *Storage) GetPlatformCredential(channelID, provider string) (models.PlatformCredential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.data.Credentials[credentialKey(channelID, provider)]
	return cred, ok
}

func (s *Storage) DeletePlatformCredential(channelID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := credentialKey(channelID, provider)
	previous, ok := s.data.Credentials[key]
	if !ok {
		return &NotFoundError{Kind: "credential", ID: key}
	}
	delete(s.data.Credentials, key)
	if err := s.persist(); err != nil {
		s.data.Credentials[key] = previous
		return err
	}
	return nil
}

// Live session operations

func (s *Storage) CreateLiveSession(params CreateLiveSessionParams) (models.LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Channels[params.ChannelID]; !ok {
		return models.LiveSession{}, &NotFoundError{Kind: "channel", ID: params.ChannelID}
	}
	if params.BroadcastID == "" || params.StreamID == "" {
		return models.LiveSession{}, errors.New("broadcastId and streamId are required")
	}
	for _, session := range s.data.LiveSessions {
		if session.ChannelID == params.ChannelID && session.Active() {
			return models.LiveSession{}, ErrSessionStillActive
		}
	}

	id, err := generateID()
	if err != nil {
		return models.LiveSession{}, err
	}
	session := models.LiveSession{
		ID:          id,
		ChannelID:   params.ChannelID,
		BroadcastID: params.BroadcastID,
		StreamID:    params.StreamID,
		IngestURL:   params.IngestURL,
		StreamKey:   params.StreamKey,
		Status:      models.LiveStatusProvisioned,
		StartedAt:   s.clock(),
	}

	s.data.LiveSessions[id] = session
	if err := s.persist(); err != nil {
		delete(s.data.LiveSessions, id)
		return models.LiveSession{}, err
	}
	return session, nil
}

func (s *Storage) UpdateLiveSession(id string, update LiveSessionUpdate) (models.LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.data.LiveSessions[id]
	if !ok {
		return models.LiveSession{}, &NotFoundError{Kind: "live session", ID: id}
	}

	updated := session
	if update.Status != nil {
		updated.Status = *update.Status
	}
	if update.EndedAt != nil {
		ended := update.EndedAt.UTC()
		updated.EndedAt = &ended
	}

	s.data.LiveSessions[id] = updated
	if err := s.persist(); err != nil {
		s.data.LiveSessions[id] = session
		return models.LiveSession{}, err
	}
	return updated, nil
}

func (s *Storage) GetLiveSession(id string) (models.LiveSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.data.LiveSessions[id]
	return session, ok
}

func (s *Storage) FindLiveSessionByBroadcast(broadcastID string) (models.LiveSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.data.LiveSessions {
		if session.BroadcastID == broadcastID {
			return session, true
		}
	}
	return models.LiveSession{}, false
}

func (s *Storage) CurrentLiveSession(channelID string) (models.LiveSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.data.LiveSessions {
		if session.ChannelID == channelID && session.Active() {
			return session, true
		}
	}
	return models.LiveSession{}, false
}

func (s *Storage) ListLiveSessions(channelID string) []models.LiveSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]models.LiveSession, 0)
	for _, session := range s.data.LiveSessions {
		if channelID != "" && session.ChannelID != channelID {
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions
}
