package credentials

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"crosspost/internal/config"
	"crosspost/internal/services"
)

// OAuthRefresher refreshes access tokens against a provider's OAuth token
// endpoint using the standard refresh_token grant.
type OAuthRefresher struct {
	conf *oauth2.Config
}

// NewOAuthRefresher builds a refresher for one provider's client registration.
func NewOAuthRefresher(clientID, clientSecret, tokenURL string) *OAuthRefresher {
	return &OAuthRefresher{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
	}
}

// Refresh exchanges the stored refresh token for a fresh access token. An
// invalid_grant response means the grant was revoked or rotated away; that is
// surfaced as a credential expiry so the job fails without retries.
func (r *OAuthRefresher) Refresh(ctx context.Context, cred *Credential) (string, time.Time, error) {
	source := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			if retrieveErr.ErrorCode == "invalid_grant" || retrieveErr.Response.StatusCode == 400 || retrieveErr.Response.StatusCode == 401 {
				return "", time.Time{}, services.Wrap(services.ErrCredentialExpired, "credentials", "refresh",
					"refresh token rejected by provider", err)
			}
			return "", time.Time{}, services.Wrap(services.ErrTransport, "credentials", "refresh",
				"token endpoint returned an error", err)
		}
		return "", time.Time{}, services.Wrap(services.ErrTransport, "credentials", "refresh",
			"token endpoint unreachable", err)
	}
	return token.AccessToken, token.Expiry, nil
}

// RefreshersFromConfig wires an OAuth refresher for each enabled platform
// that has a token endpoint configured.
func RefreshersFromConfig(cfg *config.Config) map[string]Refresher {
	refreshers := make(map[string]Refresher)
	if cfg.YouTube.Enabled {
		refreshers["youtube"] = NewOAuthRefresher(
			cfg.YouTube.ClientID,
			cfg.YouTube.ClientSecret,
			"https://oauth2.googleapis.com/token",
		)
	}
	if cfg.Instagram.Enabled && cfg.Instagram.TokenURL != "" {
		refreshers["instagram"] = NewOAuthRefresher(
			cfg.Instagram.ClientID,
			cfg.Instagram.ClientSecret,
			cfg.Instagram.TokenURL,
		)
	}
	if cfg.TikTok.Enabled && cfg.TikTok.TokenURL != "" {
		refreshers["tiktok"] = NewOAuthRefresher(
			cfg.TikTok.ClientID,
			cfg.TikTok.ClientSecret,
			cfg.TikTok.TokenURL,
		)
	}
	return refreshers
}
