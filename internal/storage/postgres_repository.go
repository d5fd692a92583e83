package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"openair-live/internal/models"
)

type postgresRepository struct {
	pool  *pgxpool.Pool
	cfg   PostgresConfig
	clock func() time.Time
}

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, cfg: cfg, clock: cfg.Clock}
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close releases the connection pool, bounded by ctx.
func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// opContext bounds each statement with the configured acquire timeout. The
// Repository interface is synchronous, so deadlines are owned here.
func (r *postgresRepository) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.AcquireTimeout)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres pool not configured")
	}
	return r.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// User operations

func (r *postgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(params.Email))
	if normalizedEmail == "" {
		return models.User{}, errors.New("email is required")
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
		CreatedAt:    r.clock(),
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx, `
INSERT INTO users (id, display_name, email, roles, password_hash, self_signup, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, user.ID, user.DisplayName, user.Email, user.Roles, user.PasswordHash, user.SelfSignup, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, fmt.Errorf("email %s already in use", params.Email)
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.Roles, &user.PasswordHash, &user.SelfSignup, &user.CreatedAt)
	return user, err
}

const userColumns = "id, display_name, email, roles, password_hash, self_signup, created_at"

func (r *postgresRepository) AuthenticateUser(email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, ok := r.FindUserByEmail(email)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		return models.User{}, ErrPasswordLoginUnsupported
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *postgresRepository) ListUsers() []models.User {
	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil
		}
		users = append(users, user)
	}
	return users
}

func (r *postgresRepository) GetUser(id string) (models.User, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) FindUserByEmail(email string) (models.User, bool) {
	normalized := strings.TrimSpace(strings.ToLower(email))
	ctx, cancel := r.opContext()
	defer cancel()
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalized))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) UpdateUser(id string, update UserUpdate) (models.User, error) {
	user, ok := r.GetUser(id)
	if !ok {
		return models.User{}, &NotFoundError{Kind: "user", ID: id}
	}
	if update.DisplayName != nil {
		trimmed := strings.TrimSpace(*update.DisplayName)
		if trimmed == "" {
			return models.User{}, errors.New("displayName cannot be empty")
		}
		user.DisplayName = trimmed
	}
	if update.Email != nil {
		normalized := strings.TrimSpace(strings.ToLower(*update.Email))
		if normalized == "" {
			return models.User{}, errors.New("email cannot be empty")
		}
		user.Email = normalized
	}
	if update.Roles != nil {
		user.Roles = normalizeRoles(*update.Roles)
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx, `
UPDATE users SET display_name = $2, email = $3, roles = $4 WHERE id = $1
`, user.ID, user.DisplayName, user.Email, user.Roles)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, fmt.Errorf("email %s already in use", user.Email)
		}
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) SetUserPassword(id, password string) (models.User, error) {
	if len(password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}
	user, ok := r.GetUser(id)
	if !ok {
		return models.User{}, &NotFoundError{Kind: "user", ID: id}
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := r.opContext()
	defer cancel()
	if _, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hashed); err != nil {
		return models.User{}, fmt.Errorf("update password: %w", err)
	}
	user.PasswordHash = hashed
	return user, nil
}

func (r *postgresRepository) DeleteUser(id string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Kind: "user", ID: id}
	}
	return nil
}

// Channel operations

const channelColumns = "id, owner_id, title, description, auto_live_enabled, created_at, updated_at"

func scanChannel(row pgx.Row) (models.Channel, error) {
	var channel models.Channel
	err := row.Scan(&channel.ID, &channel.OwnerID, &channel.Title, &channel.Description, &channel.AutoLiveEnabled, &channel.CreatedAt, &channel.UpdatedAt)
	return channel, err
}

func (r *postgresRepository) CreateChannel(ownerID, title, description string) (models.Channel, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Channel{}, errors.New("title is required")
	}
	if _, ok := r.GetUser(ownerID); !ok {
		return models.Channel{}, &NotFoundError{Kind: "user", ID: ownerID}
	}
	id, err := generateID()
	if err != nil {
		return models.Channel{}, err
	}
	now := r.clock()
	channel := models.Channel{
		ID:              id,
		OwnerID:         ownerID,
		Title:           title,
		Description:     strings.TrimSpace(description),
		AutoLiveEnabled: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx, `
INSERT INTO channels (id, owner_id, title, description, auto_live_enabled, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, channel.ID, channel.OwnerID, channel.Title, channel.Description, channel.AutoLiveEnabled, channel.CreatedAt, channel.UpdatedAt)
	if err != nil {
		return models.Channel{}, fmt.Errorf("insert channel: %w", err)
	}
	return channel, nil
}

func (r *postgresRepository) UpdateChannel(id string, update ChannelUpdate) (models.Channel, error) {
	channel, ok := r.GetChannel(id)
	if !ok {
		return models.Channel{}, &NotFoundError{Kind: "channel", ID: id}
	}
	if update.Title != nil {
		trimmed := strings.TrimSpace(*update.Title)
		if trimmed == "" {
			return models.Channel{}, errors.New("title cannot be empty")
		}
		channel.Title = trimmed
	}
	if update.Description != nil {
		channel.Description = strings.TrimSpace(*update.Description)
	}
	if update.AutoLiveEnabled != nil {
		channel.AutoLiveEnabled = *update.AutoLiveEnabled
	}
	channel.UpdatedAt = r.clock()

	ctx, cancel := r.opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx, `
UPDATE channels SET title = $2, description = $3, auto_live_enabled = $4, updated_at = $5 WHERE id = $1
`, channel.ID, channel.Title, channel.Description, channel.AutoLiveEnabled, channel.UpdatedAt)
	if err != nil {
		return models.Channel{}, fmt.Errorf("update channel: %w", err)
	}
	return channel, nil
}

func (r *postgresRepository) GetChannel(id string) (models.Channel, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	channel, err := scanChannel(r.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id))
	if err != nil {
		return models.Channel{}, false
	}
	return channel, true
}

func (r *postgresRepository) ListChannels(ownerID string) []models.Channel {
	ctx, cancel := r.opContext()
	defer cancel()
	var (
		rows pgx.Rows
		err  error
	)
	if ownerID != "" {
		rows, err = r.pool.Query(ctx, `SELECT `+channelColumns+` FROM channels WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	} else {
		rows, err = r.pool.Query(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY created_at`)
	}
	if err != nil {
		return nil
	}
	defer rows.Close()
	var channels []models.Channel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil
		}
		channels = append(channels, channel)
	}
	return channels
}

func (r *postgresRepository) DeleteChannel(id string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Kind: "channel", ID: id}
	}
	return nil
}

// Platform credential operations

func (r *postgresRepository) UpsertPlatformCredential(cred models.PlatformCredential) (models.PlatformCredential, error) {
	if strings.TrimSpace(cred.Provider) == "" {
		return models.PlatformCredential{}, errors.New("provider is required")
	}
	if cred.AccessToken == "" {
		return models.PlatformCredential{}, errors.New("accessToken is required")
	}
	if _, ok := r.GetChannel(cred.ChannelID); !ok {
		return models.PlatformCredential{}, &NotFoundError{Kind: "channel", ID: cred.ChannelID}
	}
	cred.Provider = strings.ToLower(strings.TrimSpace(cred.Provider))
	cred.UpdatedAt = r.clock()

	ctx, cancel := r.opContext()
	defer cancel()
	// COALESCE(NULLIF(...)) keeps the stored refresh token when the provider
	// omitted one on renewal.
	_, err := r.pool.Exec(ctx, `
INSERT INTO platform_credentials (channel_id, provider, access_token, refresh_token, token_expiry, subject, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (channel_id, provider) DO UPDATE SET
    access_token = EXCLUDED.access_token,
    refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), platform_credentials.refresh_token),
    token_expiry = EXCLUDED.token_expiry,
    subject = EXCLUDED.subject,
    updated_at = EXCLUDED.updated_at
`, cred.ChannelID, cred.Provider, cred.AccessToken, cred.RefreshToken, cred.TokenExpiry, cred.Subject, cred.UpdatedAt)
	if err != nil {
		return models.PlatformCredential{}, fmt.Errorf("upsert credential: %w", err)
	}
	stored, ok := r.GetPlatformCredential(cred.ChannelID, cred.Provider)
	if !ok {
		return cred, nil
	}
	return stored, nil
}

func (r *postgresRepository) GetPlatformCredential(channelID, provider string) (models.PlatformCredential, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
SELECT channel_id, provider, access_token, refresh_token, token_expiry, subject, updated_at
FROM platform_credentials
WHERE channel_id = $1 AND provider = $2
`, channelID, strings.ToLower(strings.TrimSpace(provider)))
	var cred models.PlatformCredential
	if err := row.Scan(&cred.ChannelID, &cred.Provider, &cred.AccessToken, &cred.RefreshToken, &cred.TokenExpiry, &cred.Subject, &cred.UpdatedAt); err != nil {
		return models.PlatformCredential{}, false
	}
	return cred, true
}

func (r *postgresRepository) DeletePlatformCredential(channelID, provider string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
DELETE FROM platform_credentials WHERE channel_id = $1 AND provider = $2
`, channelID, strings.ToLower(strings.TrimSpace(provider)))
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Kind: "credential", ID: credentialKey(channelID, provider)}
	}
	return nil
}

// Live session operations

const liveSessionColumns = "id, channel_id, broadcast_id, stream_id, ingest_url, stream_key, status, started_at, ended_at"

func scanLiveSession(row pgx.Row) (models.LiveSession, error) {
	var session models.LiveSession
	err := row.Scan(&session.ID, &session.ChannelID, &session.BroadcastID, &session.StreamID, &session.IngestURL, &session.StreamKey, &session.Status, &session.StartedAt, &session.EndedAt)
	return session, err
}

func (r *postgresRepository) CreateLiveSession(params CreateLiveSessionParams) (models.LiveSession, error) {
	if params.BroadcastID == "" || params.StreamID == "" {
		return models.LiveSession{}, errors.New("broadcastId and streamId are required")
	}
	if _, ok := r.GetChannel(params.ChannelID); !ok {
		return models.LiveSession{}, &NotFoundError{Kind: "channel", ID: params.ChannelID}
	}
	if _, active := r.CurrentLiveSession(params.ChannelID); active {
		return models.LiveSession{}, ErrSessionStillActive
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
		StartedAt:   r.clock(),
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx, `
INSERT INTO live_sessions (id, channel_id, broadcast_id, stream_id, ingest_url, stream_key, status, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, session.ID, session.ChannelID, session.BroadcastID, session.StreamID, session.IngestURL, session.StreamKey, session.Status, session.StartedAt)
	if err != nil {
		return models.LiveSession{}, fmt.Errorf("insert live session: %w", err)
	}
	return session, nil
}

func (r *postgresRepository) UpdateLiveSession(id string, update LiveSessionUpdate) (models.LiveSession, error) {
	session, ok := r.GetLiveSession(id)
	if !ok {
		return models.LiveSession{}, &NotFoundError{Kind: "live session", ID: id}
	}
	if update.Status != nil {
		session.Status = *update.Status
	}
	if update.EndedAt != nil {
		ended := update.EndedAt.UTC()
		session.EndedAt = &ended
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx, `
UPDATE live_sessions SET status = $2, ended_at = $3 WHERE id = $1
`, session.ID, session.Status, session.EndedAt)
	if err != nil {
		return models.LiveSession{}, fmt.Errorf("update live session: %w", err)
	}
	return session, nil
}

func (r *postgresRepository) GetLiveSession(id string) (models.LiveSession, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	session, err := scanLiveSession(r.pool.QueryRow(ctx, `SELECT `+liveSessionColumns+` FROM live_sessions WHERE id = $1`, id))
	if err != nil {
		return models.LiveSession{}, false
	}
	return session, true
}

func (r *postgresRepository) FindLiveSessionByBroadcast(broadcastID string) (models.LiveSession, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	session, err := scanLiveSession(r.pool.QueryRow(ctx, `
SELECT `+liveSessionColumns+` FROM live_sessions WHERE broadcast_id = $1 ORDER BY started_at DESC LIMIT 1
`, broadcastID))
	if err != nil {
		return models.LiveSession{}, false
	}
	return session, true
}

func (r *postgresRepository) CurrentLiveSession(channelID string) (models.LiveSession, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	session, err := scanLiveSession(r.pool.QueryRow(ctx, `
SELECT `+liveSessionColumns+` FROM live_sessions
WHERE channel_id = $1 AND ended_at IS NULL AND status NOT IN ($2, $3)
ORDER BY started_at DESC LIMIT 1
`, channelID, models.LiveStatusEnded, models.LiveStatusFailed))
	if err != nil {
		return models.LiveSession{}, false
	}
	return session, true
}

func (r *postgresRepository) ListLiveSessions(channelID string) []models.LiveSession {
	ctx, cancel := r.opContext()
	defer cancel()
	var (
		rows pgx.Rows
		err  error
	)
	if channelID != "" {
		rows, err = r.pool.Query(ctx, `SELECT `+liveSessionColumns+` FROM live_sessions WHERE channel_id = $1 ORDER BY started_at`, channelID)
	} else {
		rows, err = r.pool.Query(ctx, `SELECT `+liveSessionColumns+` FROM live_sessions ORDER BY started_at`)
	}
	if err != nil {
		return nil
	}
	defer rows.Close()
	sessions := make([]models.LiveSession, 0)
	for rows.Next() {
		session, err := scanLiveSession(rows)
		if err != nil {
			return nil
		}
		sessions = append(sessions, session)
	}
	return sessions
}
