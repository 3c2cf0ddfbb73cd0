// Spotify OAuth helpers for account login and credential verification
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/desertthunder/songbird/internal/models"
	"github.com/desertthunder/songbird/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

// SpotifyScopes are requested during login; the downloader reads the user's library and playlists.
var SpotifyScopes = []string{
	"user-read-private",
	"playlist-read-private",
	"playlist-read-collaborative",
	"user-library-read",
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Product     string `json:"product"` // premium, free, etc.
}

// SpotifyAuth runs the OAuth flows for one account.
type SpotifyAuth struct {
	config     *oauth2.Config
	client     *clientcredentials.Config
	apiBaseURL string
}

// SpotifyEndpoints overrides the Spotify URLs, for tests.
type SpotifyEndpoints struct {
	AuthURL  string
	TokenURL string
	APIURL   string
}

// NewSpotifyAuth creates a SpotifyAuth for a. An empty redirectURI falls back to the projection default.
func NewSpotifyAuth(a models.Account, redirectURI string, endpoints *SpotifyEndpoints) (*SpotifyAuth, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if redirectURI == "" {
		redirectURI = "http://localhost:8080"
	}

	e := SpotifyEndpoints{AuthURL: spotifyAuthURL, TokenURL: spotifyTokenURL, APIURL: spotifyBaseURL}
	if endpoints != nil {
		if endpoints.AuthURL != "" {
			e.AuthURL = endpoints.AuthURL
		}
		if endpoints.TokenURL != "" {
			e.TokenURL = endpoints.TokenURL
		}
		if endpoints.APIURL != "" {
			e.APIURL = endpoints.APIURL
		}
	}

	return &SpotifyAuth{
		config: &oauth2.Config{
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			RedirectURL:  redirectURI,
			Scopes:       SpotifyScopes,
			Endpoint:     oauth2.Endpoint{AuthURL: e.AuthURL, TokenURL: e.TokenURL},
		},
		client: &clientcredentials.Config{
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			TokenURL:     e.TokenURL,
		},
		apiBaseURL: strings.TrimRight(e.APIURL, "/"),
	}, nil
}

// Config returns the authorization code flow config.
func (s *SpotifyAuth) Config() *oauth2.Config {
	return s.config
}

// AuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyAuth) AuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token.
func (s *SpotifyAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange auth code: %v", shared.ErrInvalidCredentials, err)
	}
	return token, nil
}

// VerifyCredentials requests a client-credentials token, which fails fast on a wrong client id or secret.
func (s *SpotifyAuth) VerifyCredentials(ctx context.Context) error {
	if _, err := s.client.Token(ctx); err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: token endpoint returned %d", shared.ErrServiceUnavailable, re.Response.StatusCode)
		}
		return fmt.Errorf("%w: %v", shared.ErrInvalidCredentials, err)
	}
	return nil
}

// CurrentUser fetches the profile of the user who authorized token.
func (s *SpotifyAuth) CurrentUser(ctx context.Context, token *oauth2.Token) (*SpotifyUser, error) {
	client := s.config.Client(ctx, token)
	api := NewAPIService(s.apiBaseURL, client)

	resp, err := api.Get(ctx, "/me")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: spotify rejected the token", shared.ErrInvalidCredentials)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: spotify API error: status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	var user SpotifyUser
	if err := resp.Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

// tokenCache is the token file layout the downloader reads from the cache slot.
type tokenCache struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
}

// EncodeTokenCache renders token as a cache blob.
func EncodeTokenCache(token *oauth2.Token, scopes []string) ([]byte, error) {
	if token == nil || token.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty token", shared.ErrInvalidCredentials)
	}

	c := tokenCache{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		Scope:        strings.Join(scopes, " "),
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		c.ExpiresAt = token.Expiry.Unix()
		c.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	return json.Marshal(c)
}
