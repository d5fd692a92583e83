package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrRefreshTokenMissing is returned when the access token has expired and no
// refresh token was stored for the channel.
var ErrRefreshTokenMissing = errors.New("access token expired and no refresh token stored")

// expirySkew refreshes tokens slightly before their stated expiry so an
// in-flight platform call never carries a token about to die.
const expirySkew = 30 * time.Second

// PersistFunc receives the refreshed token so callers can write it back to
// durable storage.
type PersistFunc func(ctx context.Context, token Token) error

// RefreshingTokenSource serves bearer tokens for platform calls, refreshing
// through the provider's token endpoint when the cached access token nears
// expiry. Safe for concurrent use; concurrent callers share one refresh.
type RefreshingTokenSource struct {
	cfg     ProviderConfig
	client  *http.Client
	persist PersistFunc

	mu    sync.Mutex
	token Token
}

// TokenSourceOption customises a RefreshingTokenSource.
type TokenSourceOption func(*RefreshingTokenSource)

// WithTokenHTTPClient overrides the HTTP client used for refresh calls.
func WithTokenHTTPClient(client *http.Client) TokenSourceOption {
	return func(s *RefreshingTokenSource) {
		if client != nil {
			s.client = client
		}
	}
}

// WithPersist registers a callback invoked after every successful refresh.
func WithPersist(persist PersistFunc) TokenSourceOption {
	return func(s *RefreshingTokenSource) {
		s.persist = persist
	}
}

// NewRefreshingTokenSource builds a token source seeded with the stored token
// set for a channel.
func NewRefreshingTokenSource(cfg ProviderConfig, initial Token, opts ...TokenSourceOption) *RefreshingTokenSource {
	source := &RefreshingTokenSource{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		token:  initial,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(source)
		}
	}
	return source
}

// Token returns a currently valid access token, refreshing it first when
// needed.
func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token.AccessToken != "" && (s.token.Expiry.IsZero() || time.Until(s.token.Expiry) > expirySkew) {
		return s.token.AccessToken, nil
	}
	if s.token.RefreshToken == "" {
		return "", ErrRefreshTokenMissing
	}

	payload := url.Values{}
	payload.Set("grant_type", "refresh_token")
	payload.Set("refresh_token", s.token.RefreshToken)
	refreshed, err := requestToken(ctx, s.client, s.cfg, payload)
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	// Providers may omit the refresh token on refresh responses; keep the
	// one we have.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = s.token.RefreshToken
	}
	s.token = refreshed

	if s.persist != nil {
		if err := s.persist(ctx, refreshed); err != nil {
			return "", fmt.Errorf("persist refreshed token: %w", err)
		}
	}
	return refreshed.AccessToken, nil
}

// Current returns the cached token set without triggering a refresh.
func (s *RefreshingTokenSource) Current() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}
