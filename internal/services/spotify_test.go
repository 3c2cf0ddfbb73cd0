package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/songbird/internal/models"
	"github.com/desertthunder/songbird/internal/shared"
)

func newTokenServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			if status != http.StatusOK {
				w.WriteHeader(status)
				w.Write([]byte(`{"error":"invalid_client"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"access","token_type":"Bearer","expires_in":3600,"refresh_token":"refresh"}`))
		case "/v1/me":
			if r.Header.Get("Authorization") != "Bearer access" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"user-42","display_name":"Test User","product":"premium"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func endpointsFor(server *httptest.Server) *SpotifyEndpoints {
	return &SpotifyEndpoints{
		AuthURL:  server.URL + "/authorize",
		TokenURL: server.URL + "/token",
		APIURL:   server.URL + "/v1",
	}
}

func TestSpotifyAuth(t *testing.T) {
	account := models.NewAccount("Main", "test_client_id", "test_client_secret")

	t.Run("NewSpotifyAuth", func(t *testing.T) {
		t.Run("With Valid Credentials", func(t *testing.T) {
			auth, err := NewSpotifyAuth(account, "", nil)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if auth.Config().RedirectURL != "http://localhost:8080" {
				t.Errorf("expected default redirect URI, got %s", auth.Config().RedirectURL)
			}
			if auth.Config().Endpoint.TokenURL != spotifyTokenURL {
				t.Errorf("expected Spotify token URL, got %s", auth.Config().Endpoint.TokenURL)
			}
		})

		t.Run("Missing Client Secret", func(t *testing.T) {
			_, err := NewSpotifyAuth(models.NewAccount("Main", "id", ""), "", nil)
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
		})
	})

	t.Run("AuthURL", func(t *testing.T) {
		auth, _ := NewSpotifyAuth(account, "http://localhost:8080/callback", nil)
		authURL := auth.AuthURL("test_state")

		for _, want := range []string{"client_id=test_client_id", "state=test_state", "access_type=offline", "callback"} {
			if !strings.Contains(authURL, want) {
				t.Errorf("expected auth URL to contain %q, got %s", want, authURL)
			}
		}
	})

	t.Run("VerifyCredentials", func(t *testing.T) {
		tc := []struct {
			name    string
			status  int
			wantErr error
		}{
			{name: "Valid", status: http.StatusOK},
			{name: "Rejected", status: http.StatusUnauthorized, wantErr: shared.ErrInvalidCredentials},
			{name: "Server Down", status: http.StatusBadGateway, wantErr: shared.ErrServiceUnavailable},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				server := newTokenServer(t, tt.status)
				auth, _ := NewSpotifyAuth(account, "", endpointsFor(server))

				err := auth.VerifyCredentials(context.Background())
				if tt.wantErr == nil && err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
			})
		}
	})

	t.Run("Exchange And CurrentUser", func(t *testing.T) {
		server := newTokenServer(t, http.StatusOK)
		auth, _ := NewSpotifyAuth(account, "", endpointsFor(server))

		token, err := auth.Exchange(context.Background(), "code")
		if err != nil {
			t.Fatalf("Exchange failed: %v", err)
		}
		if token.AccessToken != "access" || token.RefreshToken != "refresh" {
			t.Errorf("unexpected token: %+v", token)
		}

		user, err := auth.CurrentUser(context.Background(), token)
		if err != nil {
			t.Fatalf("CurrentUser failed: %v", err)
		}
		if user.ID != "user-42" {
			t.Errorf("expected user-42, got %s", user.ID)
		}
	})

	t.Run("CurrentUser Rejected Token", func(t *testing.T) {
		server := newTokenServer(t, http.StatusOK)
		auth, _ := NewSpotifyAuth(account, "", endpointsFor(server))

		_, err := auth.CurrentUser(context.Background(), &oauth2.Token{AccessToken: "wrong"})
		if !errors.Is(err, shared.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("Exchange Failure", func(t *testing.T) {
		server := newTokenServer(t, http.StatusBadRequest)
		auth, _ := NewSpotifyAuth(account, "", endpointsFor(server))

		if _, err := auth.Exchange(context.Background(), "code"); !errors.Is(err, shared.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestEncodeTokenCache(t *testing.T) {
	t.Run("Empty Token", func(t *testing.T) {
		if _, err := EncodeTokenCache(&oauth2.Token{}, nil); !errors.Is(err, shared.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("Layout", func(t *testing.T) {
		expiry := time.Now().Add(time.Hour)
		data, err := EncodeTokenCache(&oauth2.Token{
			AccessToken:  "access",
			TokenType:    "Bearer",
			RefreshToken: "refresh",
			Expiry:       expiry,
		}, []string{"a", "b"})
		if err != nil {
			t.Fatalf("EncodeTokenCache failed: %v", err)
		}

		var got map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if got["scope"] != "a b" || got["refresh_token"] != "refresh" {
			t.Errorf("unexpected cache: %v", got)
		}
		if int64(got["expires_at"].(float64)) != expiry.Unix() {
			t.Errorf("expires_at = %v, want %d", got["expires_at"], expiry.Unix())
		}
	})
}
