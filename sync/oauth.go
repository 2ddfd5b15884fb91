// ABOUTME: OAuth configuration and credential refresh for Google Calendar
// ABOUTME: Converts between oauth2 tokens and stored credentials
package sync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/harperreed/calmirror/models"
)

// DefaultRedirectURL is where the local OAuth handshake listens.
const DefaultRedirectURL = "http://localhost:8080/oauth/callback"

// NewOAuthConfig creates OAuth2 config for read-only Google Calendar access.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	if redirectURL == "" {
		redirectURL = DefaultRedirectURL
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			calendar.CalendarReadonlyScope,
		},
		Endpoint: google.Endpoint,
	}
}

// OAuthRefresher exchanges a refresh token for a new access token.
type OAuthRefresher struct {
	config *oauth2.Config
}

// NewOAuthRefresher creates a refresher for config.
func NewOAuthRefresher(config *oauth2.Config) *OAuthRefresher {
	return &OAuthRefresher{config: config}
}

// Refresh returns a fresh credential. The refresh token is carried over
// when the provider does not rotate it.
func (r *OAuthRefresher) Refresh(ctx context.Context, cred models.Credential) (models.Credential, error) {
	if !cred.Refreshable() {
		return models.Credential{}, fmt.Errorf("credential has no refresh token")
	}

	stale := TokenFromCredential(cred)
	// Force the token source to hit the token endpoint.
	stale.Expiry = time.Now().Add(-time.Minute)

	token, err := r.config.TokenSource(ctx, stale).Token()
	if err != nil {
		return models.Credential{}, fmt.Errorf("failed to refresh token: %w", err)
	}

	fresh := CredentialFromToken(token)
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = cred.RefreshToken
	}
	return fresh, nil
}

// EndpointFromConfig captures what is needed to refresh later.
func EndpointFromConfig(config *oauth2.Config) models.ProviderEndpoint {
	return models.ProviderEndpoint{
		TokenURL: config.Endpoint.TokenURL,
		Scopes:   append([]string(nil), config.Scopes...),
	}
}

// CredentialFromToken converts an oauth2 token.
func CredentialFromToken(token *oauth2.Token) models.Credential {
	if token == nil {
		return models.Credential{}
	}
	return models.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
}

// TokenFromCredential converts a stored credential to an oauth2 token.
func TokenFromCredential(cred models.Credential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}
}
