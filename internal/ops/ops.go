package ops

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/hpungsan/atelier/internal/assetcache"
	"github.com/hpungsan/atelier/internal/cloud"
	"github.com/hpungsan/atelier/internal/config"
	"github.com/hpungsan/atelier/internal/db"
	"github.com/hpungsan/atelier/internal/enhance"
	"github.com/hpungsan/atelier/internal/gallery"
	"github.com/hpungsan/atelier/internal/generate"
	"github.com/hpungsan/atelier/internal/logger"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = gallery.MaxItems
)

// MaxPromptChars bounds a generation prompt.
const MaxPromptChars = 500

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// PromptEnhancer rewrites prompts (see enhance.Enhancer).
type PromptEnhancer interface {
	Enhance(ctx context.Context, prompt string) (string, error)
}

// Studio bundles the collaborators every operation works against.
type Studio struct {
	Config  *config.Config
	BaseDir string

	Gallery  *gallery.Store
	Images   *generate.Client
	Uploader cloud.Uploader // nil disables cloud upload
	Enhancer PromptEnhancer

	// Cache routes every outbound request. CacheStorage and Network back the
	// proxies it registers.
	Cache        *assetcache.Registration
	CacheStorage assetcache.Storage
	Network      http.RoundTripper

	Log *slog.Logger
}

// Open wires a Studio over an initialized database. The gallery is loaded and,
// when an origin is configured and its generation is already installed, the
// asset cache takes control without touching the network.
func Open(ctx context.Context, database *sql.DB, cfg *config.Config, baseDir string, log *slog.Logger) (*Studio, error) {
	if log == nil {
		log = slog.Default()
	}

	network := http.DefaultTransport.(*http.Transport).Clone()
	storage := db.NewCacheStorage(database)
	reg := assetcache.NewRegistration(storage, network, log.With("component", "assetcache"))
	hc := &http.Client{Transport: reg, Timeout: cfg.HTTPTimeout()}

	s := &Studio{
		Config:       cfg,
		BaseDir:      baseDir,
		Gallery:      gallery.NewStore(db.NewKV(database), log),
		Images:       generate.NewClient(cfg.ImageAPIBase, hc),
		Cache:        reg,
		CacheStorage: storage,
		Network:      network,
		Log:          log,
	}
	s.Enhancer = enhance.New(enhance.Config{
		BaseURL: cfg.TextAPIBase,
		Model:   cfg.TextModel,
		APIKey:  cfg.TextAPIKey,
	}, hc)

	if cfg.CloudinaryCloudName != "" {
		up, err := cloud.NewCloudinary(cloud.Config{
			CloudName:    cfg.CloudinaryCloudName,
			UploadPreset: cfg.CloudinaryUploadPreset,
			Folder:       cfg.CloudinaryFolder,
		}, hc)
		if err != nil {
			return nil, err
		}
		s.Uploader = up
	}

	s.Gallery.Load(ctx)

	if cfg.Origin != "" {
		installed, err := storage.Installed(ctx, assetcache.CachePrefix+cfg.CacheVersion)
		if err != nil {
			log.Warn("cannot inspect asset cache", logger.Err(err))
		} else if installed {
			if _, err := CacheInstall(ctx, s, CacheInstallInput{}); err != nil {
				log.Warn("asset cache not active", logger.Err(err))
			}
		}
	}

	return s, nil
}

// ExportsDir is the default export destination.
func (s *Studio) ExportsDir() string {
	return filepath.Join(s.BaseDir, "exports")
}

// DownloadsDir is the default download destination.
func (s *Studio) DownloadsDir() string {
	return filepath.Join(s.BaseDir, "downloads")
}

func (s *Studio) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, max(offset, 0)
}
