package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ErrProviderNotConfigured is returned when an OAuth flow is requested for an
// unknown provider.
var ErrProviderNotConfigured = errors.New("oauth provider not configured")

// ErrStateInvalid is returned when the state parameter is missing or expired.
var ErrStateInvalid = errors.New("oauth state invalid or expired")

// Service exposes the operations required by the HTTP handlers to drive an
// OAuth 2.0 authorisation code flow.
type Service interface {
	Providers() []ProviderInfo
	Begin(provider, channelID, returnTo string) (BeginResult, error)
	Complete(ctx context.Context, provider, state, code string) (Completion, error)
	Cancel(state string) (string, error)
}

// ProviderInfo is a lightweight description of a configured provider.
type ProviderInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// BeginResult is returned when an authorisation request is constructed.
type BeginResult struct {
	URL   string
	State string
}

// Token holds the credentials issued by a provider's token endpoint.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Valid reports whether the access token exists and has not expired.
func (t Token) Valid() bool {
	return t.AccessToken != "" && (t.Expiry.IsZero() || time.Now().Before(t.Expiry))
}

// Completion contains the outcome of a successful OAuth flow: the identity
// that linked, the token set to persist, and where to send the user next.
type Completion struct {
	Profile   UserProfile
	Token     Token
	ChannelID string
	ReturnTo  string
}

// UserProfile captures the identity data returned by the provider.
type UserProfile struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
	Raw         map[string]any
}

// Manager coordinates OAuth flows for a set of providers.
type Manager struct {
	providers map[string]provider
	state     StateStore
	client    *http.Client
	stateTTL  time.Duration
}

type provider struct {
	config ProviderConfig
}

// Option customises the OAuth manager.
type Option func(*Manager)

// WithStateStore injects a custom state store.
func WithStateStore(store StateStore) Option {
	return func(m *Manager) {
		if store != nil {
			m.state = store
		}
	}
}

// WithHTTPClient overrides the HTTP client used for token exchanges.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.client = client
		}
	}
}

// WithStateTTL adjusts how long state parameters remain valid.
func WithStateTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.stateTTL = ttl
		}
	}
}

// NewManager constructs an OAuth manager for the provided configuration.
func NewManager(configs []ProviderConfig, opts ...Option) (*Manager, error) {
	mgr := &Manager{
		providers: make(map[string]provider),
		state:     NewMemoryStateStore(),
		client:    &http.Client{Timeout: 10 * time.Second},
		stateTTL:  10 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(cfg.Name)
		mgr.providers[key] = provider{config: cfg}
	}
	return mgr, nil
}

// Providers lists the configured providers.
func (m *Manager) Providers() []ProviderInfo {
	infos := make([]ProviderInfo, 0, len(m.providers))
	for _, item := range m.providers {
		infos = append(infos, ProviderInfo{Name: item.config.Name, DisplayName: item.config.DisplayName})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].DisplayName == infos[j].DisplayName {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].DisplayName < infos[j].DisplayName
	})
	return infos
}

// Begin initialises an OAuth flow linking the given channel to the selected
// provider.
func (m *Manager) Begin(name, channelID, returnTo string) (BeginResult, error) {
	provider, ok := m.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return BeginResult{}, ErrProviderNotConfigured
	}
	state, err := GenerateState()
	if err != nil {
		return BeginResult{}, err
	}
	data := StateData{Provider: provider.config.Name, ChannelID: channelID, ReturnTo: returnTo}
	if err := m.state.Put(state, data, m.stateTTL); err != nil {
		return BeginResult{}, err
	}
	authURL, err := buildAuthorizeURL(provider.config, state)
	if err != nil {
		return BeginResult{}, err
	}
	return BeginResult{URL: authURL, State: state}, nil
}

// Complete exchanges the authorisation code and returns the provider profile
// together with the token set to persist.
func (m *Manager) Complete(ctx context.Context, name, state, code string) (Completion, error) {
	provider, ok := m.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Completion{}, ErrProviderNotConfigured
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return Completion{}, ErrStateInvalid
	}
	data, ok := m.state.Take(state)
	if !ok {
		return Completion{}, ErrStateInvalid
	}
	if !strings.EqualFold(data.Provider, provider.config.Name) {
		return Completion{ReturnTo: data.ReturnTo}, ErrStateInvalid
	}
	completion := Completion{ChannelID: data.ChannelID, ReturnTo: data.ReturnTo}
	token, err := m.exchangeCode(ctx, provider.config, code)
	if err != nil {
		return completion, err
	}
	profile, err := m.fetchUserInfo(ctx, provider.config, token.AccessToken)
	if err != nil {
		return completion, err
	}
	completion.Profile = profile
	completion.Token = token
	return completion, nil
}

// Cancel invalidates the provided state token and returns the saved return
// URL.
func (m *Manager) Cancel(state string) (string, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return "", ErrStateInvalid
	}
	data, ok := m.state.Take(state)
	if !ok {
		return "", ErrStateInvalid
	}
	return data.ReturnTo, nil
}

func buildAuthorizeURL(cfg ProviderConfig, state string) (string, error) {
	parsed, err := url.Parse(cfg.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}
	query := parsed.Query()
	query.Set("response_type", "code")
	query.Set("client_id", cfg.ClientID)
	query.Set("redirect_uri", cfg.RedirectURL)
	if len(cfg.Scopes) > 0 {
		query.Set("scope", strings.Join(cfg.Scopes, " "))
	}
	query.Set("state", state)
	for key, value := range cfg.AuthParams {
		query.Set(key, value)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (m *Manager) exchangeCode(ctx context.Context, cfg ProviderConfig, code string) (Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Token{}, fmt.Errorf("authorization code is required")
	}
	payload := url.Values{}
	payload.Set("grant_type", "authorization_code")
	payload.Set("code", code)
	payload.Set("redirect_uri", cfg.RedirectURL)
	return requestToken(ctx, m.client, cfg, payload)
}

// requestToken posts to the token endpoint and decodes the reply. The grant
// specific parameters are supplied by the caller; client credentials are
// attached here.
func requestToken(ctx context.Context, client *http.Client, cfg ProviderConfig, payload url.Values) (Token, error) {
	payload.Set("client_id", cfg.ClientID)
	payload.Set("client_secret", cfg.ClientSecret)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(payload.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("create token request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return Token{}, fmt.Errorf("exchange token: %w", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return Token{}, fmt.Errorf("read token response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		snippet := string(bytes.TrimSpace(body))
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return Token{}, fmt.Errorf("token exchange failed: %s", snippet)
	}
	token, err := parseTokenResponse(body)
	if err != nil {
		return Token{}, err
	}
	if token.AccessToken == "" {
		return Token{}, fmt.Errorf("token response missing access_token")
	}
	return token, nil
}

func parseTokenResponse(body []byte) (Token, error) {
	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Token{}, fmt.Errorf("parse token response: %w", err)
	}
	token := Token{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
	}
	if parsed.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	}
	return token, nil
}

func (m *Manager) fetchUserInfo(ctx context.Context, cfg ProviderConfig, accessToken string) (UserProfile, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.UserInfoURL, nil)
	if err != nil {
		return UserProfile{}, fmt.Errorf("create userinfo request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	request.Header.Set("Accept", "application/json")

	response, err := m.client.Do(request)
	if err != nil {
		return UserProfile{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return UserProfile{}, fmt.Errorf("read userinfo response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		snippet := string(bytes.TrimSpace(body))
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return UserProfile{}, fmt.Errorf("userinfo request failed: %s", snippet)
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return UserProfile{}, fmt.Errorf("decode userinfo response: %w", err)
	}
	profile := UserProfile{Provider: cfg.Name, Raw: parsed}
	subject, err := lookupProfileValue(parsed, cfg.Profile.IDField)
	if err != nil {
		return UserProfile{}, err
	}
	profile.Subject = subject
	if cfg.Profile.EmailField != "" {
		if email, err := lookupProfileValue(parsed, cfg.Profile.EmailField); err == nil {
			profile.Email = email
		}
	}
	if cfg.Profile.NameField != "" {
		if name, err := lookupProfileValue(parsed, cfg.Profile.NameField); err == nil {
			profile.DisplayName = name
		}
	}
	return profile, nil
}

func lookupProfileValue(data map[string]any, path string) (string, error) {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		switch typed := current.(type) {
		case map[string]any:
			next, ok := typed[part]
			if !ok {
				return "", fmt.Errorf("profile field %s missing", path)
			}
			current = next
		default:
			return "", fmt.Errorf("profile field %s missing", path)
		}
	}
	return stringFromAny(current), nil
}

func stringFromAny(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	case float64:
		return strings.TrimSuffix(strings.TrimSuffix(fmt.Sprintf("%f", v), "0"), ".")
	case int, int32, int64:
		return fmt.Sprintf("%d", v)
	case uint, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
