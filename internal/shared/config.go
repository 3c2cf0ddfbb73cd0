package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Server     ServerConfig     `toml:"server"`
	Converter  ConverterConfig  `toml:"converter"`
	Prober     ProberConfig     `toml:"prober"`
	Downloader DownloaderConfig `toml:"downloader"`
	Log        LogConfig        `toml:"log"`
}

// StorageConfig locates the app's private storage and preference database.
type StorageConfig struct {
	DataDir      string `toml:"data_dir"`
	Database     string `toml:"database"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains conversion server settings for both the serving and calling sides.
type ServerConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	UseCloud    bool   `toml:"use_cloud"`
	CloudURL    string `toml:"cloud_url"`
	LocalURL    string `toml:"local_url"`
	CustomURL   string `toml:"custom_url"`
	RedirectURI string `toml:"redirect_uri"`
}

// ConverterConfig contains transcoder settings for the conversion endpoint.
type ConverterConfig struct {
	FFmpegPath        string   `toml:"ffmpeg_path"`
	TempDir           string   `toml:"temp_dir"`
	Timeout           Duration `toml:"timeout"`
	Codec             string   `toml:"codec"`
	Bitrate           string   `toml:"bitrate"`
	MaxBodyBytes      int64    `toml:"max_body_bytes"`
	MaxConcurrent     int64    `toml:"max_concurrent"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
}

// ProberConfig contains the readiness probe budget.
type ProberConfig struct {
	Timeout        Duration `toml:"timeout"`
	AttemptTimeout Duration `toml:"attempt_timeout"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
	HealthPath     string   `toml:"health_path"`
}

// DownloaderConfig describes the external downloader process.
type DownloaderConfig struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	WorkDir        string   `toml:"work_dir"`
	DownloadFolder string   `toml:"download_folder"`
	GuaranteeLock  string   `toml:"guarantee_lock"`
	GuaranteeTTL   Duration `toml:"guarantee_ttl"`
}

// LogConfig controls the logger level and the rotating user-visible log file.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Duration is a [time.Duration] that reads and writes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("%w: bad duration %q: %v", ErrInvalidConfig, string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ConverterURL resolves the base URL of the conversion server.
//
// A custom URL wins; otherwise the cloud or local URL is chosen by UseCloud.
func (c *Config) ConverterURL() string {
	url := c.Server.LocalURL
	if c.Server.UseCloud {
		url = c.Server.CloudURL
	}
	if custom := strings.TrimSpace(c.Server.CustomURL); custom != "" {
		url = custom
	}
	return strings.TrimRight(url, "/")
}

// ListenAddr returns the host:port the conversion server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks the fields every command relies on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("%w: storage.data_dir is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Storage.Database) == "" {
		return fmt.Errorf("%w: storage.database is required", ErrInvalidConfig)
	}
	if c.Converter.Timeout.Duration <= 0 {
		return fmt.Errorf("%w: converter.timeout must be positive", ErrInvalidConfig)
	}
	if c.Converter.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: converter.max_body_bytes must be positive", ErrInvalidConfig)
	}
	if c.Prober.Timeout.Duration <= 0 {
		return fmt.Errorf("%w: prober.timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrMissingConfig, err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// SaveConfig writes config to path as TOML.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
