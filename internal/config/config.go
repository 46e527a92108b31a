package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"grocery_list/internal/grocery"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	BackendAppScript = "appscript"
	BackendSheets    = "sheets"

	CacheFile   = "file"
	CacheSQLite = "sqlite"

	// Values shipped in the example .env; treated the same as unset.
	PlaceholderAppsScriptURL = "your_apps_script_url_here"
	PlaceholderImgBBKey      = "your_imgbb_api_key_here"

	DefaultImgBBUploadURL = "https://api.imgbb.com/1/upload"
)

// Error reports a missing, placeholder or invalid configuration value.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Key, e.Reason)
}

// IsConfigError reports whether err is, or wraps, a configuration error.
func IsConfigError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr)
}

type Config struct {
	StoreBackend  string
	AppsScriptURL string
	Targeting     grocery.Targeting

	SpreadsheetID   string
	SheetName       string
	CredentialsFile string

	ImgBBAPIKey    string
	ImgBBUploadURL string

	HTTPTimeout time.Duration

	CacheBackend string
	CachePath    string

	Ntfy NtfyConfig
}

type NtfyConfig struct {
	Enabled  bool
	URL      string
	Topic    string
	Priority string
}

// Load reads configuration from the environment and, when configFile is not
// empty, from that file. Environment variables win over file values.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Loaded config file")
	}

	backend := strings.ToLower(strings.TrimSpace(v.GetString("store_backend")))
	cacheBackend := strings.ToLower(strings.TrimSpace(v.GetString("cache_backend")))

	cfg := &Config{
		StoreBackend:    backend,
		AppsScriptURL:   strings.TrimSpace(v.GetString("apps_script_url")),
		Targeting:       grocery.Targeting(strings.ToLower(strings.TrimSpace(v.GetString("store_targeting")))),
		SpreadsheetID:   strings.TrimSpace(v.GetString("spreadsheet_id")),
		SheetName:       sheetName(v.GetString("spreadsheet_range")),
		CredentialsFile: v.GetString("google_credentials_file"),
		ImgBBAPIKey:     strings.TrimSpace(v.GetString("imgbb_api_key")),
		ImgBBUploadURL:  v.GetString("imgbb_upload_url"),
		HTTPTimeout:     v.GetDuration("http_timeout"),
		CacheBackend:    cacheBackend,
		CachePath:       v.GetString("cache_path"),
		Ntfy: NtfyConfig{
			Enabled:  v.GetBool("ntfy_enabled"),
			URL:      v.GetString("ntfy_url"),
			Topic:    v.GetString("ntfy_topic"),
			Priority: v.GetString("ntfy_priority"),
		},
	}
	if cfg.CachePath == "" {
		cfg.CachePath = defaultCachePath(cacheBackend)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("store_backend", cfg.StoreBackend).
		Str("targeting", string(cfg.Targeting)).
		Str("cache_backend", cfg.CacheBackend).
		Str("cache_path", cfg.CachePath).
		Bool("image_upload", cfg.ImageUploadConfigured()).
		Bool("ntfy", cfg.Ntfy.Enabled).
		Msg("Configuration loaded")
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store_backend", BackendAppScript)
	v.SetDefault("apps_script_url", "")
	v.SetDefault("store_targeting", string(grocery.TargetByID))
	v.SetDefault("spreadsheet_id", "")
	v.SetDefault("spreadsheet_range", "Sheet1")
	v.SetDefault("google_credentials_file", "credentials.json")
	v.SetDefault("imgbb_api_key", "")
	v.SetDefault("imgbb_upload_url", DefaultImgBBUploadURL)
	v.SetDefault("http_timeout", 15*time.Second)
	v.SetDefault("cache_backend", CacheFile)
	v.SetDefault("cache_path", "")
	v.SetDefault("ntfy_enabled", false)
	v.SetDefault("ntfy_url", "https://ntfy.sh")
	v.SetDefault("ntfy_topic", "groceries")
	v.SetDefault("ntfy_priority", "default")
}

// Validate fails fast on anything that would otherwise surface as a network
// error later. The image host key is deliberately not required here: a missing
// key only disables uploads.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendAppScript:
		if c.AppsScriptURL == "" || c.AppsScriptURL == PlaceholderAppsScriptURL {
			return &Error{Key: "APPS_SCRIPT_URL", Reason: "is not configured"}
		}
	case BackendSheets:
		if c.SpreadsheetID == "" {
			return &Error{Key: "SPREADSHEET_ID", Reason: "is required for the sheets backend"}
		}
		if c.CredentialsFile == "" {
			return &Error{Key: "GOOGLE_CREDENTIALS_FILE", Reason: "is required for the sheets backend"}
		}
	default:
		return &Error{Key: "STORE_BACKEND", Reason: fmt.Sprintf("has unknown value %q", c.StoreBackend)}
	}

	switch c.Targeting {
	case grocery.TargetByID, grocery.TargetByRow:
	default:
		return &Error{Key: "STORE_TARGETING", Reason: fmt.Sprintf("has unknown value %q", c.Targeting)}
	}

	switch c.CacheBackend {
	case CacheFile, CacheSQLite:
	default:
		return &Error{Key: "CACHE_BACKEND", Reason: fmt.Sprintf("has unknown value %q", c.CacheBackend)}
	}

	if c.HTTPTimeout <= 0 {
		return &Error{Key: "HTTP_TIMEOUT", Reason: "must be positive"}
	}
	if c.Ntfy.Enabled && c.Ntfy.Topic == "" {
		return &Error{Key: "NTFY_TOPIC", Reason: "is required when notifications are enabled"}
	}
	return nil
}

// ImageUploadConfigured reports whether an image host key is usable.
func (c *Config) ImageUploadConfigured() bool {
	return c.ImgBBAPIKey != "" && c.ImgBBAPIKey != PlaceholderImgBBKey
}

// sheetName accepts either a bare tab name or a range such as "Groceries!A1".
func sheetName(sheetRange string) string {
	name := strings.Split(strings.TrimSpace(sheetRange), "!")[0]
	if name == "" {
		return "Sheet1"
	}
	return name
}

func defaultCachePath(backend string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = "."
	}
	if backend == CacheSQLite {
		return filepath.Join(dir, "groceries", "groceries.db")
	}
	return filepath.Join(dir, "groceries")
}
