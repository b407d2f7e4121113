package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// PanelCount is the number of synchronized map panels
const PanelCount = 4

// UserSettings represents persistent user preferences
type UserSettings struct {
	// Server settings
	ServerURL         string `yaml:"server_url" json:"serverUrl"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec" json:"requestTimeoutSec"`

	// Model run polling
	PollIntervalMs  int `yaml:"poll_interval_ms" json:"pollIntervalMs"`
	SettleDelayMs   int `yaml:"settle_delay_ms" json:"settleDelayMs"`
	MaxPollFailures int `yaml:"max_poll_failures" json:"maxPollFailures"`

	// Layer display
	DefaultOpacity float64  `yaml:"default_opacity" json:"defaultOpacity"`
	ReferenceLayer string   `yaml:"reference_layer" json:"referenceLayer"`
	PanelDefaults  []string `yaml:"panel_defaults" json:"panelDefaults"`

	// Cache settings
	ColorbarCacheEntries int `yaml:"colorbar_cache_entries" json:"colorbarCacheEntries"`
	CacheMaxSizeMB       int `yaml:"cache_max_size_mb" json:"cacheMaxSizeMB"`
	CacheTTLDays         int `yaml:"cache_ttl_days" json:"cacheTTLDays"`

	CatalogRetries int    `yaml:"catalog_retries" json:"catalogRetries"`
	LogLevel       string `yaml:"log_level" json:"logLevel"`

	// Analytics
	InstallID        string `yaml:"install_id" json:"installId"`
	AnalyticsEnabled bool   `yaml:"analytics_enabled" json:"analyticsEnabled"`

	// Session persistence
	LastCenterLat float64 `yaml:"last_center_lat" json:"lastCenterLat"`
	LastCenterLon float64 `yaml:"last_center_lon" json:"lastCenterLon"`
	LastZoom      float64 `yaml:"last_zoom" json:"lastZoom"`
	LastDataset   string  `yaml:"last_dataset" json:"lastDataset"`
}

// DefaultSettings returns default user settings
func DefaultSettings() *UserSettings {
	return &UserSettings{
		ServerURL:            "http://127.0.0.1:5000",
		RequestTimeoutSec:    30,
		PollIntervalMs:       3000,
		SettleDelayMs:        1000,
		MaxPollFailures:      3,
		DefaultOpacity:       0.7,
		ReferenceLayer:       "QPE_target",
		PanelDefaults:        []string{"LESNet-A", "LESNet-B", "QPE_hrrr", "QPE_target"},
		ColorbarCacheEntries: 64,
		CacheMaxSizeMB:       500,
		CacheTTLDays:         7,
		CatalogRetries:       3,
		LogLevel:             "info",
		AnalyticsEnabled:     true,
		LastCenterLat:        45, // Great Lakes
		LastCenterLon:        -84,
		LastZoom:             6,
	}
}

// PollInterval returns the model status poll period
func (s *UserSettings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// SettleDelay returns the pause between run completion and dataset auto-load
func (s *UserSettings) SettleDelay() time.Duration {
	return time.Duration(s.SettleDelayMs) * time.Millisecond
}

// RequestTimeout returns the HTTP client timeout
func (s *UserSettings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSec) * time.Second
}

// GetSettingsDir returns the base directory for settings and cache
func GetSettingsDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".lesnet-viewer")
}

// GetSettingsPath returns the OS-specific settings file path
func GetSettingsPath() string {
	baseDir := filepath.Join(GetSettingsDir(), "settings")

	// Ensure directory exists
	os.MkdirAll(baseDir, 0755)

	return filepath.Join(baseDir, "settings.yaml")
}

// LoadSettings loads user settings from the default location
func LoadSettings() (*UserSettings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// LoadSettingsFrom loads user settings from path
func LoadSettingsFrom(path string) (*UserSettings, error) {
	// If file doesn't exist, return defaults
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	// Absent keys keep their defaults. Explicit zeros are kept where zero
	// is a usable value (settle delay, opacity, retries).
	defaults := DefaultSettings()
	settings := *defaults
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	// Zero or empty values that cannot be used fall back to the defaults
	if settings.ServerURL == "" {
		settings.ServerURL = defaults.ServerURL
	}
	if settings.RequestTimeoutSec == 0 {
		settings.RequestTimeoutSec = defaults.RequestTimeoutSec
	}
	if settings.PollIntervalMs == 0 {
		settings.PollIntervalMs = defaults.PollIntervalMs
	}
	if settings.MaxPollFailures == 0 {
		settings.MaxPollFailures = defaults.MaxPollFailures
	}
	if settings.ReferenceLayer == "" {
		settings.ReferenceLayer = defaults.ReferenceLayer
	}
	if len(settings.PanelDefaults) == 0 {
		settings.PanelDefaults = defaults.PanelDefaults
	}
	if settings.ColorbarCacheEntries == 0 {
		settings.ColorbarCacheEntries = defaults.ColorbarCacheEntries
	}
	if settings.CacheMaxSizeMB == 0 {
		settings.CacheMaxSizeMB = defaults.CacheMaxSizeMB
	}
	if settings.CacheTTLDays == 0 {
		settings.CacheTTLDays = defaults.CacheTTLDays
	}
	if settings.LogLevel == "" {
		settings.LogLevel = defaults.LogLevel
	}
	if settings.LastZoom == 0 {
		settings.LastCenterLat = defaults.LastCenterLat
		settings.LastCenterLon = defaults.LastCenterLon
		settings.LastZoom = defaults.LastZoom
	}

	return &settings, nil
}

// SaveSettings saves user settings to the default location
func SaveSettings(settings *UserSettings) error {
	return SaveSettingsTo(GetSettingsPath(), settings)
}

// SaveSettingsTo saves user settings to path
func SaveSettingsTo(path string, settings *UserSettings) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// Validate checks the settings for values the application cannot run with
func (s *UserSettings) Validate() error {
	var errs []error

	u, err := url.Parse(s.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server_url %q is not an absolute URL", s.ServerURL))
	}
	if s.RequestTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout_sec must be positive"))
	}
	if s.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval_ms must be positive"))
	}
	if s.SettleDelayMs < 0 {
		errs = append(errs, fmt.Errorf("settle_delay_ms cannot be negative"))
	}
	if s.MaxPollFailures <= 0 {
		errs = append(errs, fmt.Errorf("max_poll_failures must be positive"))
	}
	if s.DefaultOpacity < 0 || s.DefaultOpacity > 1 {
		errs = append(errs, fmt.Errorf("default_opacity must be between 0 and 1"))
	}
	if s.ReferenceLayer == "" {
		errs = append(errs, fmt.Errorf("reference_layer cannot be empty"))
	}
	if len(s.PanelDefaults) > PanelCount {
		errs = append(errs, fmt.Errorf("panel_defaults lists %d layers for %d panels", len(s.PanelDefaults), PanelCount))
	}
	if s.CacheMaxSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("cache size must be positive"))
	}
	if s.CacheTTLDays <= 0 {
		errs = append(errs, fmt.Errorf("cache TTL must be positive"))
	}
	if s.CatalogRetries < 0 {
		errs = append(errs, fmt.Errorf("catalog_retries cannot be negative"))
	}
	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	return errors.Join(errs...)
}

// EnsureInstallID assigns a random install id if none is set and reports
// whether the settings changed.
func (s *UserSettings) EnsureInstallID() bool {
	if s.InstallID != "" {
		return false
	}
	s.InstallID = uuid.NewString()
	return true
}
