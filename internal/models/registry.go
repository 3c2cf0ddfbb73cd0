package models

import (
	"fmt"

	"github.com/desertthunder/songbird/internal/shared"
)

// NoActiveAccount is the active index of a registry with nothing selected.
const NoActiveAccount = -1

// Registry is the ordered account list plus the active index pointer.
//
// Insertion order is the stable index. ActiveIndex is either [NoActiveAccount] or a valid index into Accounts.
type Registry struct {
	Accounts    []Account
	ActiveIndex int
}

// NewRegistry returns an empty registry with no active account.
func NewRegistry() Registry {
	return Registry{Accounts: []Account{}, ActiveIndex: NoActiveAccount}
}

// Len returns the number of accounts.
func (r Registry) Len() int {
	return len(r.Accounts)
}

// InRange reports whether i indexes an account.
func (r Registry) InRange(i int) bool {
	return i >= 0 && i < len(r.Accounts)
}

// Valid reports whether the active index invariant holds.
func (r Registry) Valid() bool {
	return r.ActiveIndex == NoActiveAccount || r.InRange(r.ActiveIndex)
}

// Normalize clears an active index that points outside the account list.
func (r *Registry) Normalize() {
	if !r.Valid() {
		r.ActiveIndex = NoActiveAccount
	}
}

// Active returns the active account, if any.
func (r Registry) Active() (Account, bool) {
	if !r.InRange(r.ActiveIndex) {
		return Account{}, false
	}
	a := r.Accounts[r.ActiveIndex]
	a.IsActive = true
	return a, true
}

// View returns a copy of the accounts with IsActive derived from the active index.
func (r Registry) View() []Account {
	out := make([]Account, len(r.Accounts))
	for i, a := range r.Accounts {
		a.IsActive = i == r.ActiveIndex
		out[i] = a
	}
	return out
}

// IndexOf returns the index of the account whose cache namespace matches displayName, or -1.
func (r Registry) IndexOf(displayName string) int {
	ns := CacheNamespace(displayName)
	for i, a := range r.Accounts {
		if a.Namespace() == ns {
			return i
		}
	}
	return -1
}

// Append adds a to the end of the list and returns its index.
//
// Accounts whose cache namespaces collide are rejected with [shared.ErrDuplicateAccount]: "My Account" and
// "My_Account" would share one cache blob.
func (r *Registry) Append(a Account) (int, error) {
	if err := a.Validate(); err != nil {
		return -1, err
	}
	if existing := r.IndexOf(a.DisplayName); existing >= 0 {
		return -1, fmt.Errorf("%w: %q collides with %q", shared.ErrDuplicateAccount, a.DisplayName, r.Accounts[existing].DisplayName)
	}
	a.IsActive = false
	r.Accounts = append(r.Accounts, a)
	return len(r.Accounts) - 1, nil
}

// RemoveAt deletes the account at i and re-normalizes the active index.
//
// Removing the active account falls back to index 0, or [NoActiveAccount] when the list becomes empty.
// Removing an account before the active one shifts the index down. activeReplaced reports whether the active
// account changed identity, meaning the credential projection must be rebuilt or invalidated.
func (r *Registry) RemoveAt(i int) (removed Account, activeReplaced bool, ok bool) {
	if !r.InRange(i) {
		return Account{}, false, false
	}

	removed = r.Accounts[i]
	r.Accounts = append(r.Accounts[:i:i], r.Accounts[i+1:]...)

	switch {
	case r.ActiveIndex == i:
		activeReplaced = true
		if len(r.Accounts) == 0 {
			r.ActiveIndex = NoActiveAccount
		} else {
			r.ActiveIndex = 0
		}
	case r.ActiveIndex > i:
		r.ActiveIndex--
	}

	return removed, activeReplaced, true
}
