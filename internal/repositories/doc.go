// Package repositories implements SQLite persistence for the preference area.
//
// The preference area is a scoped key-value store. Each scope plays the role of one named preference file, so
// the account registry lives under [AccountsScope] and the converter server selection under [ServerScope].
//
// Key Implementations:
//   - [PreferenceRepository] : scoped key-value reads and writes, with [PreferenceRepository.SetMany] committing
//     several keys in a single transaction so readers never observe a partial update
//   - [ServerPreferences] : typed accessors for the persisted converter server selection
package repositories
