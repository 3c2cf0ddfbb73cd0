package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Storage.Database != "./data/songbird.db" {
			t.Errorf("expected database path ./data/songbird.db, got %s", config.Storage.Database)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.Server.RedirectURI != "http://localhost:8080" {
			t.Errorf("expected redirect uri http://localhost:8080, got %s", config.Server.RedirectURI)
		}

		if config.Converter.Timeout.Duration != 30*time.Second {
			t.Errorf("expected converter timeout 30s, got %v", config.Converter.Timeout)
		}

		if config.Converter.MaxBodyBytes != 50*1024*1024 {
			t.Errorf("expected 50MB body cap, got %d", config.Converter.MaxBodyBytes)
		}

		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Storage.Database != defaultConfig.Storage.Database {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[storage]
data_dir = "/custom/data"
database = "/custom/path.db"

[server]
port = 8080
use_cloud = false
local_url = "http://10.0.0.2:3000/"

[converter]
timeout = "45s"
bitrate = "256k"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Storage.Database != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Storage.Database)
		}

		if config.Server.Port != 8080 {
			t.Errorf("expected server port 8080, got %d", config.Server.Port)
		}

		if config.Converter.Timeout.Duration != 45*time.Second {
			t.Errorf("expected converter timeout 45s, got %v", config.Converter.Timeout)
		}

		if config.Converter.Codec != "libmp3lame" {
			t.Errorf("expected unset codec to keep default, got %s", config.Converter.Codec)
		}

		if got := config.ConverterURL(); got != "http://10.0.0.2:3000" {
			t.Errorf("expected local converter url without trailing slash, got %s", got)
		}
	})

	t.Run("LoadConfig Missing File", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
		if !errors.Is(err, ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})

	t.Run("LoadConfig Bad Duration", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[prober]\ntimeout = \"soon\"\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		if _, err := LoadConfig(configPath); !errors.Is(err, ErrConfig) {
			t.Errorf("expected config error, got %v", err)
		}
	})

	t.Run("SaveConfig Round Trip", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nested", "config.toml")
		config := DefaultConfig()
		config.Server.CustomURL = "https://example.test"
		config.Prober.Timeout = NewDuration(90 * time.Second)

		if err := SaveConfig(configPath, config); err != nil {
			t.Fatalf("failed to save config: %v", err)
		}

		loaded, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load saved config: %v", err)
		}
		if loaded.ConverterURL() != "https://example.test" {
			t.Errorf("expected custom url to win, got %s", loaded.ConverterURL())
		}
		if loaded.Prober.Timeout.Duration != 90*time.Second {
			t.Errorf("expected prober timeout 90s, got %v", loaded.Prober.Timeout)
		}
	})

	t.Run("ConverterURL", func(t *testing.T) {
		tc := []struct {
			name   string
			server ServerConfig
			want   string
		}{
			{
				name:   "cloud",
				server: ServerConfig{UseCloud: true, CloudURL: "https://cloud.test/", LocalURL: "http://local.test"},
				want:   "https://cloud.test",
			},
			{
				name:   "local",
				server: ServerConfig{UseCloud: false, CloudURL: "https://cloud.test", LocalURL: "http://local.test"},
				want:   "http://local.test",
			},
			{
				name:   "custom overrides",
				server: ServerConfig{UseCloud: true, CloudURL: "https://cloud.test", CustomURL: " http://custom.test "},
				want:   "http://custom.test",
			},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				c := &Config{Server: tt.server}
				if got := c.ConverterURL(); got != tt.want {
					t.Errorf("ConverterURL() = %v, want %v", got, tt.want)
				}
			})
		}
	})

	t.Run("Validate", func(t *testing.T) {
		config := DefaultConfig()
		config.Storage.DataDir = ""
		if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}
