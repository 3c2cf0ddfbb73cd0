package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/desertthunder/songbird/internal/models"
	"github.com/desertthunder/songbird/internal/shared"
)

// DefaultRedirectURI is written into the credential file when none is configured.
const DefaultRedirectURI = "http://localhost:8080"

// Credentials is the on-disk shape of the credential file read by the downloader.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
}

// Projection materializes the active account into the single credential slot and shared cache slot.
//
// The projection is never a source of truth: it is rebuilt from the registry on every activation, and cache data
// only flows from the namespaced blob into the shared slot during a rebuild.
type Projection struct {
	dir         string
	redirectURI string
	generation  atomic.Uint64
}

// NewProjection creates a Projection rooted at dir.
func NewProjection(dir, redirectURI string) *Projection {
	if redirectURI == "" {
		redirectURI = DefaultRedirectURI
	}
	return &Projection{dir: dir, redirectURI: redirectURI}
}

// Dir returns the private storage directory.
func (p *Projection) Dir() string { return p.dir }

// CredentialPath returns the path of the credential file.
func (p *Projection) CredentialPath() string {
	return filepath.Join(p.dir, models.CredentialFile)
}

// SharedCachePath returns the path of the shared cache slot.
func (p *Projection) SharedCachePath() string {
	return filepath.Join(p.dir, models.CachePrefix)
}

// CachePath returns the path of the namespaced cache blob for a.
func (p *Projection) CachePath(a models.Account) string {
	return filepath.Join(p.dir, a.CacheFile())
}

// Generation counts rebuilds and invalidations made through this Projection.
func (p *Projection) Generation() uint64 {
	return p.generation.Load()
}

// Rebuild points the projection at a.
//
// The credential file is replaced atomically. The shared slot is cleared and then, if a has a namespaced blob,
// overwritten with a copy of it; an account that has never cached anything leaves the slot absent.
func (p *Projection) Rebuild(a models.Account) error {
	p.generation.Add(1)
	if err := os.MkdirAll(p.dir, 0700); err != nil {
		return fmt.Errorf("%w: failed to create storage directory: %v", shared.ErrStorage, err)
	}

	data, err := json.Marshal(Credentials{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		RedirectURI:  p.redirectURI,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to encode credentials: %v", shared.ErrStorage, err)
	}

	if err := shared.WriteFileAtomic(p.CredentialPath(), data, 0600); err != nil {
		return fmt.Errorf("%w: failed to write credentials: %v", shared.ErrStorage, err)
	}

	if err := shared.RemoveIfExists(p.SharedCachePath()); err != nil {
		return fmt.Errorf("%w: failed to clear shared cache: %v", shared.ErrStorage, err)
	}

	blob := p.CachePath(a)
	if !shared.FileExists(blob) {
		return nil
	}
	if err := shared.CopyFile(blob, p.SharedCachePath(), 0600); err != nil {
		return fmt.Errorf("%w: failed to copy cache for %q: %v", shared.ErrStorage, a.DisplayName, err)
	}
	return nil
}

// Invalidate removes the credential file and the shared cache slot.
func (p *Projection) Invalidate() error {
	p.generation.Add(1)
	var errs []error
	if err := shared.RemoveIfExists(p.CredentialPath()); err != nil {
		errs = append(errs, err)
	}
	if err := shared.RemoveIfExists(p.SharedCachePath()); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: failed to invalidate projection: %v", shared.ErrStorage, err)
	}
	return nil
}

// ReadCredentials returns the projected credentials. ok is false when no account is projected.
func (p *Projection) ReadCredentials() (creds Credentials, ok bool, err error) {
	data, err := os.ReadFile(p.CredentialPath())
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, fmt.Errorf("%w: failed to read credentials: %v", shared.ErrStorage, err)
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, false, fmt.Errorf("%w: malformed credential file: %v", shared.ErrStorage, err)
	}
	return creds, true, nil
}

// Matches reports whether the projected credentials belong to a.
func (p *Projection) Matches(a models.Account) bool {
	creds, ok, err := p.ReadCredentials()
	return err == nil && ok && creds.ClientID == a.ClientID && creds.ClientSecret == a.ClientSecret
}

// PersistSharedCache copies the shared slot back into a's namespaced blob.
//
// Only call this for the account the projection has mirrored since it was last rebuilt. A missing shared slot is a
// no-op.
func (p *Projection) PersistSharedCache(a models.Account) error {
	if !shared.FileExists(p.SharedCachePath()) {
		return nil
	}
	if err := shared.CopyFile(p.SharedCachePath(), p.CachePath(a), 0600); err != nil {
		return fmt.Errorf("%w: failed to persist cache for %q: %v", shared.ErrStorage, a.DisplayName, err)
	}
	return nil
}

// WriteCache replaces a's namespaced blob with data.
func (p *Projection) WriteCache(a models.Account, data []byte) error {
	if err := os.MkdirAll(p.dir, 0700); err != nil {
		return fmt.Errorf("%w: failed to create storage directory: %v", shared.ErrStorage, err)
	}
	if err := shared.WriteFileAtomic(p.CachePath(a), data, 0600); err != nil {
		return fmt.Errorf("%w: failed to write cache for %q: %v", shared.ErrStorage, a.DisplayName, err)
	}
	return nil
}

// RemoveCache deletes a's namespaced blob.
func (p *Projection) RemoveCache(a models.Account) error {
	if err := shared.RemoveIfExists(p.CachePath(a)); err != nil {
		return fmt.Errorf("%w: failed to remove cache for %q: %v", shared.ErrStorage, a.DisplayName, err)
	}
	return nil
}
