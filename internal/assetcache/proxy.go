package assetcache

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/hpungsan/atelier/internal/errors"
	"github.com/hpungsan/atelier/internal/logger"
)

// CachePrefix prefixes every generation name.
const CachePrefix = "atelier-"

// DefaultManifest lists the shell assets of the studio plus its font stylesheet.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/styles.css",
	"/app.js",
	"/manifest.json",
	"https://fonts.googleapis.com/css2?family=Inter:wght@300;400;500;600;700;800&display=swap",
}

// State is the lifecycle position of a Proxy.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed" // waiting to activate
	StateActivating State = "activating"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

// Options configures a Proxy.
type Options struct {
	// Version names the cache generation (CachePrefix + Version). Required.
	Version string
	// Origin resolves same-origin manifest paths and decides cache eligibility. Required.
	Origin string
	// Manifest is installed atomically. Defaults to DefaultManifest.
	Manifest []string
	// DynamicHosts are passed through unconditionally (exact host or subdomain).
	DynamicHosts []string
	// AllowedHosts are cross-origin hosts eligible for opportunistic caching.
	// Hosts of absolute manifest URLs are always allowed.
	AllowedHosts []string
	// ShellPath is served to navigations when the network is unreachable.
	ShellPath string
	// WaitForControl disables superseding the active instance right after install;
	// the instance then waits for a SkipWaiting message.
	WaitForControl bool
	// Storage holds cache generations. Required.
	Storage Storage
	// Network performs real fetches. Defaults to http.DefaultTransport.
	Network http.RoundTripper
	// Logger receives absorbed failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Proxy is one versioned instance of the asset cache.
type Proxy struct {
	version      string
	name         string
	origin       *url.URL
	manifest     []string
	dynamicHosts []string
	allowedHosts map[string]bool
	shellKey     string
	storage      Storage
	network      http.RoundTripper
	log          *slog.Logger

	mu          sync.RWMutex
	state       State
	skipWaiting bool
	cache       Cache
}

// New validates opts and returns a Proxy in StateParsed.
func New(opts Options) (*Proxy, error) {
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		return nil, errors.NewInvalidRequest("cache version is required")
	}
	if opts.Storage == nil {
		return nil, errors.NewInvalidRequest("cache storage is required")
	}
	origin, err := url.Parse(strings.TrimSpace(opts.Origin))
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("origin must be an absolute URL, got %q", opts.Origin))
	}

	manifest := opts.Manifest
	if len(manifest) == 0 {
		manifest = DefaultManifest
	}
	shellPath := opts.ShellPath
	if shellPath == "" {
		shellPath = "/index.html"
	}
	network := opts.Network
	if network == nil {
		network = http.DefaultTransport
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &Proxy{
		version:      version,
		name:         CachePrefix + version,
		origin:       origin,
		dynamicHosts: normalizeHosts(opts.DynamicHosts),
		allowedHosts: make(map[string]bool),
		storage:      opts.Storage,
		network:      network,
		state:        StateParsed,
		skipWaiting:  !opts.WaitForControl,
	}
	p.log = log.With("cache", p.name)

	for _, h := range normalizeHosts(opts.AllowedHosts) {
		p.allowedHosts[h] = true
	}
	for _, ref := range manifest {
		u, err := p.resolve(ref)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("manifest entry %q: %v", ref, err))
		}
		p.manifest = append(p.manifest, u.String())
		if u.Host != origin.Host {
			p.allowedHosts[strings.ToLower(u.Hostname())] = true
		}
	}
	shell, err := p.resolve(shellPath)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("shell path %q: %v", shellPath, err))
	}
	p.shellKey = KeyFor(http.MethodGet, shell.String())

	return p, nil
}

// Version returns the proxy version.
func (p *Proxy) Version() string { return p.version }

// CacheName returns the name of the proxy's cache generation.
func (p *Proxy) CacheName() string { return p.name }

// Manifest returns the resolved manifest URLs.
func (p *Proxy) Manifest() []string { return append([]string(nil), p.manifest...) }

// State returns the current lifecycle state.
func (p *Proxy) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Proxy) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// SkipWaiting asks the proxy to supersede the active instance as soon as it is installed.
func (p *Proxy) SkipWaiting() {
	p.mu.Lock()
	p.skipWaiting = true
	p.mu.Unlock()
}

func (p *Proxy) wantsSkipWaiting() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.skipWaiting
}

// Install populates the proxy's generation with every manifest asset. Any failed
// fetch fails the installation and leaves no entries behind. A generation that was
// already installed by an earlier run is adopted without refetching.
func (p *Proxy) Install(ctx context.Context) error {
	p.setState(StateInstalling)

	if ok, err := p.storage.Installed(ctx, p.name); err == nil && ok {
		cache, err := p.storage.Open(ctx, p.name)
		if err == nil {
			p.mu.Lock()
			p.cache = cache
			p.state = StateInstalled
			p.mu.Unlock()
			p.log.Debug("adopted installed cache generation")
			return nil
		}
	}

	entries := make([]Entry, 0, len(p.manifest))
	for _, rawURL := range p.manifest {
		resp, err := p.fetchManifestEntry(ctx, rawURL)
		if err != nil {
			p.setState(StateRedundant)
			return errors.NewInstallFailed(p.version, err)
		}
		entries = append(entries, Entry{Key: KeyFor(http.MethodGet, rawURL), Response: resp})
	}

	cache, err := p.storage.Open(ctx, p.name)
	if err == nil {
		err = cache.PutAll(ctx, entries)
	}
	if err == nil {
		err = p.storage.MarkInstalled(ctx, p.name)
	}
	if err != nil {
		if _, delErr := p.storage.Delete(ctx, p.name); delErr != nil {
			p.log.Warn("failed to discard incomplete generation", logger.Err(delErr))
		}
		p.setState(StateRedundant)
		return errors.NewInstallFailed(p.version, err)
	}

	p.mu.Lock()
	p.cache = cache
	p.state = StateInstalled
	p.mu.Unlock()
	p.log.Info("caching app assets", "entries", len(entries))
	return nil
}

func (p *Proxy) fetchManifestEntry(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.network.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return capture(resp)
}

// Activate deletes every generation other than this proxy's own. The proxy only
// becomes active once all deletions succeeded.
func (p *Proxy) Activate(ctx context.Context) error {
	if st := p.State(); st != StateInstalled {
		return errors.NewInvalidRequest(fmt.Sprintf("cannot activate %s proxy", st))
	}
	p.setState(StateActivating)

	names, err := p.storage.Keys(ctx)
	if err != nil {
		p.setState(StateInstalled)
		return fmt.Errorf("list cache generations: %w", err)
	}

	var result *multierror.Error
	for _, name := range names {
		if name == p.name {
			continue
		}
		if _, err := p.storage.Delete(ctx, name); err != nil {
			result = multierror.Append(result, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		p.log.Info("deleted old cache generation", "old", name)
	}
	if err := result.ErrorOrNil(); err != nil {
		p.setState(StateInstalled)
		return err
	}

	p.setState(StateActive)
	return nil
}

// RoundTrip implements http.RoundTripper. Only an active proxy consults the
// cache; any other state passes requests straight to the network.
func (p *Proxy) RoundTrip(req *http.Request) (*http.Response, error) {
	p.mu.RLock()
	state, cache := p.state, p.cache
	p.mu.RUnlock()

	if state != StateActive || cache == nil {
		return p.network.RoundTrip(req)
	}

	// 1. Dynamic service: never cached, never served from cache.
	if p.isDynamic(req.URL) {
		return p.network.RoundTrip(req)
	}

	ctx := req.Context()
	key := Key(req)

	// 2. Cache first, no revalidation.
	if cached, ok, err := cache.Match(ctx, key); err != nil {
		p.log.Warn("cache match failed", "key", key, logger.Err(err))
	} else if ok {
		return cached.toHTTP(req), nil
	}

	// 3. Network, caching successful responses as a side effect.
	resp, err := p.network.RoundTrip(req)
	if err == nil && resp.StatusCode == http.StatusOK && p.cacheable(req) {
		stored, capErr := capture(resp)
		if capErr != nil {
			p.log.Warn("cache capture failed", "key", key, logger.Err(capErr))
		} else if putErr := cache.Put(ctx, key, stored); putErr != nil {
			p.log.Warn("cache put failed", "key", key, logger.Err(putErr))
		}
		return resp, nil
	}
	if err == nil {
		return resp, nil
	}

	// 4. Offline: navigations get the shell document.
	if IsNavigation(req) {
		if shell, ok, matchErr := cache.Match(ctx, p.shellKey); matchErr == nil && ok {
			p.log.Debug("serving offline shell", "url", req.URL.String(), logger.Err(err))
			return shell.toHTTP(req), nil
		}
	}
	return nil, err
}

// IsNavigation reports whether req loads a top-level document.
func IsNavigation(req *http.Request) bool {
	return req.Header.Get("Sec-Fetch-Dest") == "document" || req.Header.Get("Sec-Fetch-Mode") == "navigate"
}

func (p *Proxy) isDynamic(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, d := range p.dynamicHosts {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (p *Proxy) cacheable(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if req.URL.Scheme == p.origin.Scheme && req.URL.Host == p.origin.Host {
		return true
	}
	return p.allowedHosts[strings.ToLower(req.URL.Hostname())]
}

func (p *Proxy) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	u = p.origin.ResolveReference(u)
	u.Fragment = ""
	return u, nil
}

func normalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(h, ".")
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}
