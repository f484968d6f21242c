package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/atelier/internal/assetcache"
	"github.com/hpungsan/atelier/internal/errors"
)

// CacheStatus reports the asset cache registration.
func CacheStatus(ctx context.Context, s *Studio) (*assetcache.Status, error) {
	if s.Cache == nil {
		return nil, errors.NewInvalidRequest("asset cache is not configured")
	}
	return s.Cache.Status(ctx)
}

// CacheMessageInput contains parameters for the CacheMessage operation.
type CacheMessageInput struct {
	Type string
}

// CacheMessage delivers a control message (SKIP_WAITING) to the registration.
func CacheMessage(ctx context.Context, s *Studio, input CacheMessageInput) (*assetcache.Status, error) {
	if s.Cache == nil {
		return nil, errors.NewInvalidRequest("asset cache is not configured")
	}
	msg := assetcache.Message{Type: strings.ToUpper(strings.TrimSpace(input.Type))}
	if err := s.Cache.PostMessage(ctx, msg); err != nil {
		return nil, err
	}
	return s.Cache.Status(ctx)
}

// CacheInstallInput contains parameters for the CacheInstall operation.
type CacheInstallInput struct {
	Version        string // default: config cache_version
	WaitForControl bool   // leave the new version waiting for SKIP_WAITING
}

// CacheInstall registers a proxy for the configured origin. A version that is
// already installed is adopted without refetching.
func CacheInstall(ctx context.Context, s *Studio, input CacheInstallInput) (*assetcache.Status, error) {
	if s.Cache == nil || s.CacheStorage == nil {
		return nil, errors.NewInvalidRequest("asset cache is not configured")
	}
	if strings.TrimSpace(s.Config.Origin) == "" {
		return nil, errors.NewInvalidRequest("origin is not configured (set origin in config.json or ATELIER_ORIGIN)")
	}

	version := strings.TrimSpace(input.Version)
	if version == "" {
		version = s.Config.CacheVersion
	}

	p, err := assetcache.New(assetcache.Options{
		Version:        version,
		Origin:         s.Config.Origin,
		Manifest:       s.Config.CacheManifest,
		DynamicHosts:   s.Config.DynamicHosts,
		AllowedHosts:   s.Config.AllowedHosts,
		WaitForControl: input.WaitForControl,
		Storage:        s.CacheStorage,
		Network:        s.Network,
		Logger:         s.logger().With("component", "assetcache"),
	})
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Register(ctx, p); err != nil {
		return nil, err
	}
	return s.Cache.Status(ctx)
}
