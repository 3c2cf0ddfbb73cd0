package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/desertthunder/songbird/internal/shared"
)

const (
	// AccountsScope holds the account registry.
	AccountsScope = "spotify_accounts"
	// ServerScope holds the converter server selection.
	ServerScope = "server_config"

	KeyAccounts      = "accounts"
	KeyActiveAccount = "active_account"
	KeyUseCloud      = "use_cloud_server"
	KeyCustomURL     = "custom_url"
)

// PreferenceRepository reads and writes keys within a single preference scope.
type PreferenceRepository struct {
	db    *sql.DB
	scope string
}

// NewPreferenceRepository creates a new PreferenceRepository bound to scope.
func NewPreferenceRepository(db *sql.DB, scope string) *PreferenceRepository {
	return &PreferenceRepository{db: db, scope: scope}
}

// Scope returns the preference scope this repository is bound to.
func (r *PreferenceRepository) Scope() string {
	return r.scope
}

// Get returns the value stored under key and whether it was present.
func (r *PreferenceRepository) Get(key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow(
		`SELECT value FROM preferences WHERE scope = ? AND key = ?`,
		r.scope, key,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: failed to read %s/%s: %v", shared.ErrStorage, r.scope, key, err)
	}
	return value, true, nil
}

// GetString returns the value under key, or fallback when absent.
func (r *PreferenceRepository) GetString(key, fallback string) (string, error) {
	value, ok, err := r.Get(key)
	if err != nil {
		return fallback, err
	}
	if !ok {
		return fallback, nil
	}
	return value, nil
}

// GetInt returns the integer under key, or fallback when absent or unparseable.
func (r *PreferenceRepository) GetInt(key string, fallback int) (int, error) {
	value, ok, err := r.Get(key)
	if err != nil || !ok {
		return fallback, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}

// GetBool returns the boolean under key, or fallback when absent or unparseable.
func (r *PreferenceRepository) GetBool(key string, fallback bool) (bool, error) {
	value, ok, err := r.Get(key)
	if err != nil || !ok {
		return fallback, err
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, nil
	}
	return b, nil
}

// Set stores value under key, replacing any previous value.
func (r *PreferenceRepository) Set(key, value string) error {
	return r.SetMany(map[string]string{key: value})
}

// SetMany stores every key/value pair in one transaction.
//
// Either all values are written or none are.
func (r *PreferenceRepository) SetMany(values map[string]string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", shared.ErrStorage, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO preferences (scope, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare statement: %v", shared.ErrStorage, err)
	}
	defer stmt.Close()

	now := time.Now()
	for key, value := range values {
		if _, err := stmt.Exec(r.scope, key, value, now); err != nil {
			return fmt.Errorf("%w: failed to write %s/%s: %v", shared.ErrStorage, r.scope, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit %s: %v", shared.ErrStorage, r.scope, err)
	}
	return nil
}

// Delete removes key from the scope. Missing keys are not an error.
func (r *PreferenceRepository) Delete(key string) error {
	if _, err := r.db.Exec(`DELETE FROM preferences WHERE scope = ? AND key = ?`, r.scope, key); err != nil {
		return fmt.Errorf("%w: failed to delete %s/%s: %v", shared.ErrStorage, r.scope, key, err)
	}
	return nil
}

// All returns every key/value pair in the scope.
func (r *PreferenceRepository) All() (map[string]string, error) {
	rows, err := r.db.Query(`SELECT key, value FROM preferences WHERE scope = ? ORDER BY key`, r.scope)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list %s: %v", shared.ErrStorage, r.scope, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("%w: failed to scan %s: %v", shared.ErrStorage, r.scope, err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to list %s: %v", shared.ErrStorage, r.scope, err)
	}
	return out, nil
}

// ServerPreferences persists the converter server selection.
type ServerPreferences struct {
	repo *PreferenceRepository
}

// NewServerPreferences creates ServerPreferences over the [ServerScope].
func NewServerPreferences(db *sql.DB) *ServerPreferences {
	return &ServerPreferences{repo: NewPreferenceRepository(db, ServerScope)}
}

// Apply overlays the persisted selection onto config. Keys never written leave config untouched.
func (p *ServerPreferences) Apply(config *shared.Config) error {
	values, err := p.repo.All()
	if err != nil {
		return err
	}
	if v, ok := values[KeyUseCloud]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Server.UseCloud = b
		}
	}
	if v, ok := values[KeyCustomURL]; ok {
		config.Server.CustomURL = v
	}
	return nil
}

// Save persists the selection in one transaction.
func (p *ServerPreferences) Save(useCloud bool, customURL string) error {
	return p.repo.SetMany(map[string]string{
		KeyUseCloud:  strconv.FormatBool(useCloud),
		KeyCustomURL: customURL,
	})
}
