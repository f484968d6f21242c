package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds application configuration.
type Config struct {
	// ImageAPIBase is the prompt endpoint of the image generation service.
	ImageAPIBase string `json:"image_api_base,omitempty" env:"ATELIER_IMAGE_API_BASE"`

	// TextAPIBase is the OpenAI-compatible base URL used by the prompt enhancer.
	TextAPIBase string `json:"text_api_base,omitempty" env:"ATELIER_TEXT_API_BASE"`

	// TextModel is the chat model requested from the text service.
	TextModel string `json:"text_model,omitempty" env:"ATELIER_TEXT_MODEL"`

	// TextAPIKey is optional; the public text service accepts anonymous calls.
	TextAPIKey string `json:"text_api_key,omitempty" env:"ATELIER_TEXT_API_KEY"`

	// CloudinaryCloudName enables cloud upload when set. Empty keeps the
	// generation-service URL as the canonical image URL.
	CloudinaryCloudName string `json:"cloudinary_cloud_name,omitempty" env:"CLOUDINARY_CLOUD_NAME"`

	// CloudinaryUploadPreset names the unsigned upload preset.
	CloudinaryUploadPreset string `json:"cloudinary_upload_preset,omitempty" env:"CLOUDINARY_UPLOAD_PRESET"`

	// CloudinaryFolder is the destination folder for uploads.
	CloudinaryFolder string `json:"cloudinary_folder,omitempty" env:"CLOUDINARY_FOLDER"`

	// DefaultModel and DefaultSize are used when a generate call omits them.
	DefaultModel string `json:"default_model,omitempty" env:"ATELIER_DEFAULT_MODEL"`
	DefaultSize  string `json:"default_size,omitempty" env:"ATELIER_DEFAULT_SIZE"`

	// CacheVersion names the active asset cache generation ("atelier-<version>").
	// Changing it purges every older generation on the next activation.
	CacheVersion string `json:"cache_version,omitempty" env:"ATELIER_CACHE_VERSION"`

	// Origin is the deployment the asset cache fronts (e.g. https://studio.example.com).
	// Empty disables manifest installation; requests then go straight to the network.
	Origin string `json:"origin,omitempty" env:"ATELIER_ORIGIN"`

	// CacheManifest lists the assets installed with each generation. Relative
	// entries resolve against Origin. Empty uses the built-in studio shell.
	CacheManifest []string `json:"cache_manifest,omitempty" env:"ATELIER_CACHE_MANIFEST" envSeparator:","`

	// DynamicHosts are never cached; matching is exact host or subdomain.
	DynamicHosts []string `json:"dynamic_hosts,omitempty" env:"ATELIER_DYNAMIC_HOSTS" envSeparator:","`

	// AllowedHosts are cross-origin hosts whose successful responses may be cached.
	AllowedHosts []string `json:"allowed_hosts,omitempty" env:"ATELIER_ALLOWED_HOSTS" envSeparator:","`

	// HTTPTimeoutSeconds bounds every outbound request. 0 means use the default.
	HTTPTimeoutSeconds int `json:"http_timeout_seconds,omitempty" env:"ATELIER_HTTP_TIMEOUT_SECONDS"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty" env:"ATELIER_LOG_LEVEL"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" env:"ATELIER_DB_MAX_OPEN_CONNS"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" env:"ATELIER_DB_MAX_IDLE_CONNS"`

	// AllowedPaths is an allowlist of directories for exports and downloads.
	// Paths outside ~/.atelier/exports and ~/.atelier/downloads require either
	// being in this list or AllowUnsafePaths=true.
	AllowedPaths []string `json:"allowed_paths,omitempty" env:"ATELIER_ALLOWED_PATHS" envSeparator:","`

	// AllowUnsafePaths disables directory restrictions for exports and downloads.
	// Symlink checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty" env:"ATELIER_ALLOW_UNSAFE_PATHS"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty" env:"ATELIER_DISABLED_TOOLS" envSeparator:","`

	// DisabledTypes disables every MCP tool of a type ("gallery", "image", "prompt", "cache").
	DisabledTypes []string `json:"disabled_types,omitempty" env:"ATELIER_DISABLED_TYPES" envSeparator:","`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ImageAPIBase:       "https://image.pollinations.ai/prompt",
		TextAPIBase:        "https://text.pollinations.ai/openai",
		TextModel:          "openai",
		CloudinaryFolder:   "ai-gallery",
		DefaultModel:       "flux",
		DefaultSize:        "1024x1024",
		CacheVersion:       "v1",
		DynamicHosts:       []string{"pollinations.ai"},
		AllowedHosts:       []string{"fonts.googleapis.com"},
		HTTPTimeoutSeconds: 120,
		LogLevel:           "info",
	}
}

// HTTPTimeout returns the outbound request timeout.
func (c *Config) HTTPTimeout() time.Duration {
	if c.HTTPTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// Load loads configuration from baseDir/config.json, then applies environment
// overrides. Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.atelier.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}

	overlay, err := ParseEnv()
	if err != nil {
		return nil, err
	}
	return Merge(cfg, overlay), nil
}

// ParseEnv reads overrides from the environment. Unset variables stay zero.
func ParseEnv() (*Config, error) {
	overlay := &Config{}
	if err := env.Parse(overlay); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return overlay, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		ImageAPIBase:           pick(overlay.ImageAPIBase, base.ImageAPIBase),
		TextAPIBase:            pick(overlay.TextAPIBase, base.TextAPIBase),
		TextModel:              pick(overlay.TextModel, base.TextModel),
		TextAPIKey:             pick(overlay.TextAPIKey, base.TextAPIKey),
		CloudinaryCloudName:    pick(overlay.CloudinaryCloudName, base.CloudinaryCloudName),
		CloudinaryUploadPreset: pick(overlay.CloudinaryUploadPreset, base.CloudinaryUploadPreset),
		CloudinaryFolder:       pick(overlay.CloudinaryFolder, base.CloudinaryFolder),
		DefaultModel:           pick(overlay.DefaultModel, base.DefaultModel),
		DefaultSize:            pick(overlay.DefaultSize, base.DefaultSize),
		CacheVersion:           pick(overlay.CacheVersion, base.CacheVersion),
		Origin:                 pick(overlay.Origin, base.Origin),
		LogLevel:               pick(overlay.LogLevel, base.LogLevel),
	}

	result.HTTPTimeoutSeconds = overlay.HTTPTimeoutSeconds
	if result.HTTPTimeoutSeconds == 0 {
		result.HTTPTimeoutSeconds = base.HTTPTimeoutSeconds
	}

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// A manifest is replaced as a whole.
	result.CacheManifest = base.CacheManifest
	if len(overlay.CacheManifest) > 0 {
		result.CacheManifest = overlay.CacheManifest
	}

	result.DynamicHosts = mergeStringSlice(base.DynamicHosts, overlay.DynamicHosts)
	result.AllowedHosts = mergeStringSlice(base.AllowedHosts, overlay.AllowedHosts)
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pick(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return strings.TrimSpace(overlay)
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
