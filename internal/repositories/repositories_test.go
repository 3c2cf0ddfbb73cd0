package repositories

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/desertthunder/songbird/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestPreferenceRepository(t *testing.T) {
	t.Run("Get Missing", func(t *testing.T) {
		repo := NewPreferenceRepository(setupTestDB(t), AccountsScope)

		value, ok, err := repo.Get(KeyAccounts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok || value != "" {
			t.Errorf("expected missing key, got %q (ok=%v)", value, ok)
		}
	})

	t.Run("Set And Get", func(t *testing.T) {
		repo := NewPreferenceRepository(setupTestDB(t), AccountsScope)

		if err := repo.Set(KeyAccounts, "[]"); err != nil {
			t.Fatalf("failed to set: %v", err)
		}
		if err := repo.Set(KeyAccounts, `[{"displayName":"A"}]`); err != nil {
			t.Fatalf("failed to overwrite: %v", err)
		}

		value, ok, err := repo.Get(KeyAccounts)
		if err != nil || !ok {
			t.Fatalf("Get() = %q, %v, %v", value, ok, err)
		}
		if value != `[{"displayName":"A"}]` {
			t.Errorf("expected overwritten value, got %q", value)
		}
	})

	t.Run("Scopes Are Isolated", func(t *testing.T) {
		db := setupTestDB(t)
		accounts := NewPreferenceRepository(db, AccountsScope)
		server := NewPreferenceRepository(db, ServerScope)

		if err := accounts.Set("shared_key", "accounts"); err != nil {
			t.Fatalf("failed to set: %v", err)
		}
		if _, ok, _ := server.Get("shared_key"); ok {
			t.Error("key leaked across scopes")
		}
		if server.Scope() != ServerScope {
			t.Errorf("Scope() = %q", server.Scope())
		}
	})

	t.Run("SetMany", func(t *testing.T) {
		repo := NewPreferenceRepository(setupTestDB(t), AccountsScope)

		err := repo.SetMany(map[string]string{
			KeyAccounts:      "[]",
			KeyActiveAccount: "-1",
		})
		if err != nil {
			t.Fatalf("SetMany failed: %v", err)
		}

		all, err := repo.All()
		if err != nil {
			t.Fatalf("All failed: %v", err)
		}
		if len(all) != 2 || all[KeyActiveAccount] != "-1" {
			t.Errorf("unexpected contents: %v", all)
		}
	})

	t.Run("Typed Getters", func(t *testing.T) {
		repo := NewPreferenceRepository(setupTestDB(t), ServerScope)

		if n, err := repo.GetInt(KeyActiveAccount, -1); err != nil || n != -1 {
			t.Errorf("GetInt() fallback = %d, %v", n, err)
		}
		repo.Set(KeyActiveAccount, "2")
		if n, _ := repo.GetInt(KeyActiveAccount, -1); n != 2 {
			t.Errorf("GetInt() = %d, want 2", n)
		}
		repo.Set(KeyActiveAccount, "garbage")
		if n, _ := repo.GetInt(KeyActiveAccount, -1); n != -1 {
			t.Errorf("GetInt() on garbage = %d, want fallback", n)
		}

		if b, _ := repo.GetBool(KeyUseCloud, true); !b {
			t.Error("GetBool() fallback should be true")
		}
		repo.Set(KeyUseCloud, "false")
		if b, _ := repo.GetBool(KeyUseCloud, true); b {
			t.Error("GetBool() should read stored false")
		}

		if s, _ := repo.GetString(KeyCustomURL, "none"); s != "none" {
			t.Errorf("GetString() fallback = %q", s)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := NewPreferenceRepository(setupTestDB(t), AccountsScope)

		if err := repo.Delete("missing"); err != nil {
			t.Errorf("deleting a missing key should not error: %v", err)
		}
		repo.Set(KeyAccounts, "[]")
		if err := repo.Delete(KeyAccounts); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if _, ok, _ := repo.Get(KeyAccounts); ok {
			t.Error("key should be gone")
		}
	})

	t.Run("Closed Database", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewPreferenceRepository(db, AccountsScope)
		db.Close()

		if _, _, err := repo.Get(KeyAccounts); !errors.Is(err, shared.ErrStorage) {
			t.Errorf("expected ErrStorage from Get, got %v", err)
		}
		if err := repo.SetMany(map[string]string{KeyAccounts: "[]"}); !errors.Is(err, shared.ErrStorage) {
			t.Errorf("expected ErrStorage from SetMany, got %v", err)
		}
		if shared.KindOf(repo.Delete(KeyAccounts)) != shared.KindStorage {
			t.Error("expected storage kind from Delete")
		}
	})
}

func TestServerPreferences(t *testing.T) {
	t.Run("Apply Without Saved Values", func(t *testing.T) {
		prefs := NewServerPreferences(setupTestDB(t))
		config := shared.DefaultConfig()
		before := config.ConverterURL()

		if err := prefs.Apply(config); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if config.ConverterURL() != before {
			t.Errorf("config changed without saved values: %q -> %q", before, config.ConverterURL())
		}
	})

	t.Run("Save Then Apply", func(t *testing.T) {
		prefs := NewServerPreferences(setupTestDB(t))
		if err := prefs.Save(false, "http://10.0.0.5:3000/"); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		config := shared.DefaultConfig()
		config.Server.UseCloud = true
		if err := prefs.Apply(config); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if config.Server.UseCloud {
			t.Error("expected use_cloud to be overridden to false")
		}
		if got := config.ConverterURL(); got != "http://10.0.0.5:3000" {
			t.Errorf("ConverterURL() = %q", got)
		}
	})
}
