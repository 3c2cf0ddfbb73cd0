package models

import (
	"fmt"
	"strings"

	"github.com/desertthunder/songbird/internal/shared"
)

const (
	// CachePrefix prefixes both the shared cache slot and every per-account cache blob.
	CachePrefix = ".spotify_cache"
	// CredentialFile is the single-slot credential projection read by the downloader.
	CredentialFile = "spotify_config.json"
)

// Account is one set of Spotify API credentials.
//
// IsActive is derived from the registry on read and never trusted from storage.
type Account struct {
	DisplayName  string  `json:"displayName"`
	ClientID     string  `json:"clientId"`
	ClientSecret string  `json:"clientSecret"`
	UserID       *string `json:"userId,omitempty"`
	IsActive     bool    `json:"isActive"`
}

// NewAccount builds an account with surrounding whitespace trimmed from every field.
func NewAccount(displayName, clientID, clientSecret string) Account {
	return Account{
		DisplayName:  strings.TrimSpace(displayName),
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
	}
}

// Validate reports missing credential fields as [shared.ErrMissingCredentials].
func (a Account) Validate() error {
	var missing []string
	if strings.TrimSpace(a.DisplayName) == "" {
		missing = append(missing, "display name")
	}
	if strings.TrimSpace(a.ClientID) == "" {
		missing = append(missing, "client id")
	}
	if strings.TrimSpace(a.ClientSecret) == "" {
		missing = append(missing, "client secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", shared.ErrMissingCredentials, strings.Join(missing, ", "))
	}
	if strings.ContainsAny(a.DisplayName, `/\`) {
		return fmt.Errorf("%w: display name cannot contain path separators", shared.ErrInvalidInput)
	}
	return nil
}

// Namespace returns the account's cache namespace.
func (a Account) Namespace() string {
	return CacheNamespace(a.DisplayName)
}

// CacheFile returns the file name of the account's namespaced cache blob.
func (a Account) CacheFile() string {
	return CachePrefix + "_" + a.Namespace()
}

// User returns the Spotify user id, or "" when unknown.
func (a Account) User() string {
	if a.UserID == nil {
		return ""
	}
	return *a.UserID
}

// WithUser returns a copy of a with its user id set.
func (a Account) WithUser(id string) Account {
	if id == "" {
		a.UserID = nil
		return a
	}
	a.UserID = &id
	return a
}

// CacheNamespace derives the filesystem namespace for displayName by replacing every space with an underscore.
func CacheNamespace(displayName string) string {
	return strings.ReplaceAll(displayName, " ", "_")
}
