// Package accounts persists credential accounts and materializes the active one for the downloader.
//
// The [Store] owns the account registry (an ordered list plus an active index) in the preference area and keeps the
// [Projection] in step with it. Every mutation runs under one mutex, persists synchronously, and emits a
// [logsink.Event]. Out of range indexes are silent no-ops.
package accounts

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/desertthunder/songbird/internal/logsink"
	"github.com/desertthunder/songbird/internal/models"
	"github.com/desertthunder/songbird/internal/repositories"
	"github.com/desertthunder/songbird/internal/shared"
)

// Store is the account registry.
type Store struct {
	mu         sync.Mutex
	prefs      *repositories.PreferenceRepository
	projection *Projection
	sink       logsink.Sink
}

// NewStore creates a Store backed by the preference area in db.
func NewStore(db *sql.DB, projection *Projection, sink logsink.Sink) *Store {
	return &Store{
		prefs:      repositories.NewPreferenceRepository(db, repositories.AccountsScope),
		projection: projection,
		sink:       logsink.OrDiscard(sink),
	}
}

// Projection returns the credential projection maintained by the store.
func (s *Store) Projection() *Projection {
	return s.projection
}

func (s *Store) load() (models.Registry, error) {
	reg := models.NewRegistry()

	raw, ok, err := s.prefs.Get(repositories.KeyAccounts)
	if err != nil {
		return reg, err
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &reg.Accounts); err != nil {
			return reg, fmt.Errorf("%w: malformed account registry: %v", shared.ErrStorage, err)
		}
		if reg.Accounts == nil {
			reg.Accounts = []models.Account{}
		}
	}

	active, err := s.prefs.GetInt(repositories.KeyActiveAccount, models.NoActiveAccount)
	if err != nil {
		return reg, err
	}
	reg.ActiveIndex = active
	reg.Normalize()

	for i := range reg.Accounts {
		reg.Accounts[i].IsActive = false
	}
	return reg, nil
}

// save writes both keys in one transaction so a failed write leaves the previous registry intact.
func (s *Store) save(reg models.Registry) error {
	stored := make([]models.Account, len(reg.Accounts))
	copy(stored, reg.Accounts)
	for i := range stored {
		stored[i].IsActive = false
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("%w: failed to encode account registry: %v", shared.ErrStorage, err)
	}
	return s.prefs.SetMany(map[string]string{
		repositories.KeyAccounts:      string(data),
		repositories.KeyActiveAccount: strconv.Itoa(reg.ActiveIndex),
	})
}

func (s *Store) fail(op string, err error, kv ...any) error {
	s.sink.Emit(logsink.ErrorEvent(op, err, kv...))
	return err
}

// List returns the accounts in insertion order with IsActive derived from the active index.
func (s *Store) List() ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return nil, s.fail("accounts.list", err)
	}
	return reg.View(), nil
}

// Snapshot returns the full registry.
func (s *Store) Snapshot() (models.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return reg, s.fail("accounts.snapshot", err)
	}
	reg.Accounts = reg.View()
	return reg, nil
}

// Add appends a and returns its index. The first account added becomes active.
func (s *Store) Add(a models.Account) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return -1, s.fail("accounts.add", err)
	}

	index, err := reg.Append(a)
	if err != nil {
		return -1, s.fail("accounts.add", err, "account", a.DisplayName)
	}

	first := reg.Len() == 1
	if first {
		reg.ActiveIndex = 0
	}

	if err := s.save(reg); err != nil {
		return -1, s.fail("accounts.add", err, "account", a.DisplayName)
	}

	if first {
		if err := s.projection.Rebuild(reg.Accounts[index]); err != nil {
			return index, s.fail("accounts.add", err, "account", a.DisplayName)
		}
	}

	s.sink.Emit(logsink.Info("accounts.add", "added account", "account", a.DisplayName, "index", index, "active", first))
	return index, nil
}

// Remove deletes the account at index along with its cache blob.
//
// Removing the active account activates index 0, or clears the projection when no accounts remain.
func (s *Store) Remove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return s.fail("accounts.remove", err)
	}

	removed, replaced, ok := reg.RemoveAt(index)
	if !ok {
		return nil
	}

	if err := s.save(reg); err != nil {
		return s.fail("accounts.remove", err, "index", index)
	}

	if err := s.projection.RemoveCache(removed); err != nil {
		s.sink.Emit(logsink.ErrorEvent("accounts.remove", err, "account", removed.DisplayName))
	}

	if replaced {
		if next, ok := reg.Active(); ok {
			if err := s.projection.Rebuild(next); err != nil {
				return s.fail("accounts.remove", err, "account", next.DisplayName)
			}
			s.sink.Emit(logsink.Info("accounts.switch", "switched account", "account", next.DisplayName, "index", reg.ActiveIndex))
		} else if err := s.projection.Invalidate(); err != nil {
			return s.fail("accounts.remove", err)
		}
	}

	s.sink.Emit(logsink.Info("accounts.remove", "removed account", "account", removed.DisplayName, "index", index))
	return nil
}

// SetActive makes the account at index active and rebuilds the projection.
func (s *Store) SetActive(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.activate(index)
	if errors.Is(err, shared.ErrInvalidArgument) {
		return nil
	}
	return err
}

// Activate is [Store.SetActive] that reports an out of range index as [shared.ErrInvalidArgument] and returns
// the account it activated. The range check and the switch happen under one lock.
func (s *Store) Activate(index int) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.activate(index)
}

func (s *Store) activate(index int) (models.Account, error) {
	reg, err := s.load()
	if err != nil {
		return models.Account{}, s.fail("accounts.set_active", err)
	}
	if !reg.InRange(index) {
		return models.Account{}, fmt.Errorf("%w: account index %d out of range (have %d)", shared.ErrInvalidArgument, index, reg.Len())
	}

	reg.ActiveIndex = index
	if err := s.save(reg); err != nil {
		return models.Account{}, s.fail("accounts.set_active", err, "index", index)
	}

	a := reg.Accounts[index]
	if err := s.projection.Rebuild(a); err != nil {
		return models.Account{}, s.fail("accounts.set_active", err, "account", a.DisplayName)
	}

	s.sink.Emit(logsink.Info("accounts.switch", "switched account", "account", a.DisplayName, "index", index))
	a.IsActive = true
	return a, nil
}

// Active returns the active account and its index, or [shared.ErrNoActiveAccount].
func (s *Store) Active() (models.Account, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return models.Account{}, models.NoActiveAccount, s.fail("accounts.active", err)
	}
	a, ok := reg.Active()
	if !ok {
		return models.Account{}, models.NoActiveAccount, shared.ErrNoActiveAccount
	}
	return a, reg.ActiveIndex, nil
}

// HasAccounts reports whether at least one account is stored. Storage failures read as false.
func (s *Store) HasAccounts() bool {
	accounts, err := s.List()
	return err == nil && len(accounts) > 0
}

// CurrentAccountInfo returns a one-line description of the active account for status displays.
func (s *Store) CurrentAccountInfo() string {
	a, _, err := s.Active()
	if err != nil {
		return "No account selected"
	}
	if user := a.User(); user != "" {
		return fmt.Sprintf("Account: %s (%s)", a.DisplayName, user)
	}
	return "Account: " + a.DisplayName
}

// SetUserID records the provider user id for the account at index.
func (s *Store) SetUserID(index int, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return s.fail("accounts.set_user", err)
	}
	if !reg.InRange(index) {
		return fmt.Errorf("%w: account index %d out of range", shared.ErrInvalidArgument, index)
	}

	reg.Accounts[index] = reg.Accounts[index].WithUser(userID)
	if err := s.save(reg); err != nil {
		return s.fail("accounts.set_user", err, "index", index)
	}
	return nil
}

// Lease records one materialization of the projection: the account it was built for and the projection
// generation right after the rebuild.
type Lease struct {
	Account    models.Account
	Index      int
	Generation uint64
}

// Materialize rebuilds the projection for the active account and returns a lease on it.
//
// Callers use this before handing control to the downloader so the projection cannot be stale.
func (s *Store) Materialize() (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return Lease{Index: models.NoActiveAccount}, s.fail("accounts.materialize", err)
	}
	a, ok := reg.Active()
	if !ok {
		return Lease{Index: models.NoActiveAccount}, s.fail("accounts.materialize", shared.ErrNoActiveAccount)
	}
	if err := s.projection.Rebuild(a); err != nil {
		return Lease{Account: a, Index: reg.ActiveIndex}, s.fail("accounts.materialize", err, "account", a.DisplayName)
	}
	return Lease{Account: a, Index: reg.ActiveIndex, Generation: s.projection.Generation()}, nil
}

// Checkpoint copies the shared cache slot back into the leased account's namespaced blob.
//
// The copy is skipped unless the leased account is still active and the projection has not been rebuilt or
// invalidated since the lease was taken. skipped reports whether the copy was skipped.
func (s *Store) Checkpoint(l Lease) (skipped bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return true, s.fail("accounts.checkpoint", err)
	}

	a, ok := reg.Active()
	switch {
	case !ok, a.DisplayName != l.Account.DisplayName, a.ClientID != l.Account.ClientID:
		s.sink.Emit(logsink.Warn(shared.KindConfig, "accounts.checkpoint", "active account changed, cache not saved",
			"account", l.Account.DisplayName))
		return true, nil
	case s.projection.Generation() != l.Generation, !s.projection.Matches(a):
		s.sink.Emit(logsink.Warn(shared.KindStorage, "accounts.checkpoint", "projection rebuilt, cache not saved",
			"account", l.Account.DisplayName))
		return true, nil
	}

	if err := s.projection.PersistSharedCache(a); err != nil {
		return false, s.fail("accounts.checkpoint", err, "account", a.DisplayName)
	}
	return false, nil
}

// StoreCache writes data as the namespaced blob for the account at index and refreshes the projection if it
// is the active one.
func (s *Store) StoreCache(index int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return s.fail("accounts.store_cache", err)
	}
	if !reg.InRange(index) {
		return fmt.Errorf("%w: account index %d out of range", shared.ErrInvalidArgument, index)
	}

	a := reg.Accounts[index]
	if err := s.projection.WriteCache(a, data); err != nil {
		return s.fail("accounts.store_cache", err, "account", a.DisplayName)
	}
	if index == reg.ActiveIndex {
		if err := s.projection.Rebuild(a); err != nil {
			return s.fail("accounts.store_cache", err, "account", a.DisplayName)
		}
	}
	return nil
}
