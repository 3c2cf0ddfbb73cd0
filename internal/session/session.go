// Package session provides the explicit session object that owns "which account is the downloader using".
//
// A [Switcher] is created once and handed to whatever needs the current account (the download orchestrator, the
// CLI, the account picker). There is no package-level current account.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/desertthunder/songbird/internal/accounts"
	"github.com/desertthunder/songbird/internal/logsink"
	"github.com/desertthunder/songbird/internal/models"
	"github.com/desertthunder/songbird/internal/shared"
)

// Switcher activates accounts and guarantees the credential projection mirrors the active one.
type Switcher struct {
	store *accounts.Store
	sink  logsink.Sink

	mu      sync.Mutex
	current *models.Account
	index   int
	leases  map[string]accounts.Lease
}

// NewSwitcher creates a Switcher over store.
func NewSwitcher(store *accounts.Store, sink logsink.Sink) *Switcher {
	return &Switcher{
		store:  store,
		sink:   logsink.OrDiscard(sink),
		index:  models.NoActiveAccount,
		leases: map[string]accounts.Lease{},
	}
}

// Store returns the account store the switcher activates against.
func (s *Switcher) Store() *accounts.Store {
	return s.store
}

// Switch activates the account at index.
//
// After Switch returns nil the credential file and shared cache slot hold that account's data. Unlike
// [accounts.Store.SetActive], an out of range index is reported as [shared.ErrInvalidArgument].
func (s *Switcher) Switch(index int) (models.Account, error) {
	a, err := s.store.Activate(index)
	if errors.Is(err, shared.ErrInvalidArgument) {
		s.sink.Emit(logsink.ErrorEvent("session.switch", err, "index", index))
		return models.Account{}, err
	}
	if err != nil {
		return models.Account{}, err
	}
	if !s.store.Projection().Matches(a) {
		err := fmt.Errorf("%w: projection does not mirror account %d", shared.ErrStorage, index)
		s.sink.Emit(logsink.ErrorEvent("session.switch", err, "index", index))
		return models.Account{}, err
	}

	s.remember(a, index)
	return a, nil
}

// Current returns the active account and its index.
func (s *Switcher) Current() (models.Account, int, error) {
	a, index, err := s.store.Active()
	if err != nil {
		s.forget()
		return models.Account{}, models.NoActiveAccount, err
	}
	s.remember(a, index)
	return a, index, nil
}

// Ensure re-materializes the projection for the active account.
//
// Call it immediately before the downloader reads credentials. It fails with a config error when no account is
// active.
func (s *Switcher) Ensure() (models.Account, error) {
	lease, err := s.store.Materialize()
	if err != nil {
		s.forget()
		return models.Account{}, err
	}
	s.remember(lease.Account, lease.Index)

	s.mu.Lock()
	s.leases[lease.Account.DisplayName] = lease
	s.mu.Unlock()
	return lease.Account, nil
}

// Checkpoint saves tokens the downloader refreshed in the shared slot back into a's cache.
//
// a must be the account returned by the matching [Switcher.Ensure]. Nothing is saved when another account was
// activated, or the projection rebuilt, in between.
func (s *Switcher) Checkpoint(a models.Account) error {
	s.mu.Lock()
	lease, ok := s.leases[a.DisplayName]
	delete(s.leases, a.DisplayName)
	s.mu.Unlock()

	if !ok {
		s.sink.Emit(logsink.Warn(shared.KindInternal, "session.checkpoint", "no materialized session, cache not saved",
			"account", a.DisplayName))
		return nil
	}
	_, err := s.store.Checkpoint(lease)
	return err
}

// Last returns the account most recently activated or ensured through this switcher.
func (s *Switcher) Last() (models.Account, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return models.Account{}, models.NoActiveAccount, false
	}
	return *s.current, s.index, true
}

func (s *Switcher) remember(a models.Account, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &a
	s.index = index
}

func (s *Switcher) forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.index = models.NoActiveAccount
}
