// Package models defines the domain entities shared by the account store, session switcher, and download orchestrator.
//
//   - [Account] : one set of third-party API credentials plus its isolated cache
//   - [Registry] : the ordered account list with its active index pointer
//
// An account's display name doubles as its cache namespace key. [CacheNamespace] derives the namespace by replacing
// spaces with underscores, which must stay byte-for-byte stable so caches written by earlier installs remain reachable.
//
// [Registry] enforces the active index invariant: the index is either [NoActiveAccount] or a valid position in the list.
package models
