package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/atelier/internal/assetcache"
	"github.com/hpungsan/atelier/internal/errors"
	"github.com/hpungsan/atelier/internal/ops"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// shellFiles are served at the root so their URLs match the asset cache manifest.
var shellFiles = []string{"index.html", "styles.css", "app.js", "manifest.json"}

// Options configures the web server.
type Options struct {
	Bind    string
	Port    int
	Version string
	// Origin, when set, mirrors a remote deployment through the studio's asset
	// cache instead of serving the embedded shell.
	Origin string
}

// NewServer creates and configures the HTTP server for the studio web UI.
func NewServer(s *ops.Studio, opts Options) (*http.Server, error) {
	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	h := &Handlers{
		studio:   s,
		renderer: NewRenderer(templateSub, opts.Version, log),
		log:      log.With("component", "web"),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /gallery", h.HandleGallery)
	mux.HandleFunc("POST /gallery/clear", h.HandleGalleryClear)

	mux.HandleFunc("GET /api/gallery", h.HandleAPIGalleryList)
	mux.HandleFunc("DELETE /api/gallery", h.HandleAPIGalleryClear)
	mux.HandleFunc("GET /api/gallery/{index}", h.HandleAPIGalleryItem)
	mux.HandleFunc("POST /api/generate", h.HandleAPIGenerate)
	mux.HandleFunc("POST /api/enhance", h.HandleAPIEnhance)
	mux.HandleFunc("GET /api/cache", h.HandleAPICacheStatus)
	mux.HandleFunc("POST /api/cache/message", h.HandleAPICacheMessage)

	if opts.Origin != "" {
		origin, err := url.Parse(opts.Origin)
		if err != nil || origin.Scheme == "" || origin.Host == "" {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("origin must be an absolute URL, got %q", opts.Origin))
		}
		if s.Cache == nil {
			return nil, errors.NewInvalidRequest("asset cache is not configured")
		}
		mux.Handle("/", assetcache.Handler(s.Cache, origin, h.log))
	} else {
		mux.Handle("GET /{$}", shellFile(staticSub, "index.html"))
		for _, name := range shellFiles {
			mux.Handle("GET /"+name, shellFile(staticSub, name))
		}
	}

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Bind, opts.Port),
		Handler:           securityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// shellFile serves one embedded file without http.FileServer's index.html
// redirect, so /index.html answers 200 like every other manifest entry.
func shellFile(fsys fs.FS, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if path.Ext(name) == ".json" {
			w.Header().Set("Content-Type", "application/manifest+json")
		}
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	})
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; script-src 'self'; style-src 'self' https://fonts.googleapis.com; "+
				"font-src 'self' https://fonts.gstatic.com; img-src 'self' https: data:; connect-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info("atelier UI running", "url", "http://"+srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
