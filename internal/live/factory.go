package live

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"openair-live/internal/auth/oauth"
	"openair-live/internal/broadcast"
	"openair-live/internal/models"
	"openair-live/internal/platform/youtube"
	"openair-live/internal/storage"
)

// GoogleFactoryConfig parameterizes GooglePlatformFactory.
type GoogleFactoryConfig struct {
	Store    storage.Repository
	Provider oauth.ProviderConfig

	// BaseURL overrides the platform API endpoint, used by tests to point at
	// a stub server.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// GooglePlatformFactory resolves a channel's stored Google credential into an
// authenticated platform client. Tokens refresh lazily through the provider's
// token endpoint and refreshed sets are written back to the repository.
func GooglePlatformFactory(cfg GoogleFactoryConfig) PlatformFactory {
	return func(channel models.Channel) (broadcast.Platform, error) {
		cred, ok := cfg.Store.GetPlatformCredential(channel.ID, cfg.Provider.Name)
		if !ok {
			return nil, fmt.Errorf("%w: channel %s", ErrChannelNotLinked, channel.ID)
		}

		persist := func(ctx context.Context, token oauth.Token) error {
			_, err := cfg.Store.UpsertPlatformCredential(models.PlatformCredential{
				ChannelID:    channel.ID,
				Provider:     cfg.Provider.Name,
				AccessToken:  token.AccessToken,
				RefreshToken: token.RefreshToken,
				TokenExpiry:  token.Expiry,
				Subject:      cred.Subject,
			})
			return err
		}

		opts := []oauth.TokenSourceOption{oauth.WithPersist(persist)}
		if cfg.HTTPClient != nil {
			opts = append(opts, oauth.WithTokenHTTPClient(cfg.HTTPClient))
		}
		tokens := oauth.NewRefreshingTokenSource(cfg.Provider, oauth.Token{
			AccessToken:  cred.AccessToken,
			RefreshToken: cred.RefreshToken,
			Expiry:       cred.TokenExpiry,
		}, opts...)

		return youtube.NewClient(youtube.Config{
			BaseURL:    cfg.BaseURL,
			HTTPClient: cfg.HTTPClient,
			Tokens:     tokens,
			Logger:     cfg.Logger,
		}), nil
	}
}
