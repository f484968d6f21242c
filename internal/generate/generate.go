// Package generate builds image generation requests against the image service
// and fetches the results.
package generate

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/atelier/internal/errors"
)

// QualitySuffix is appended to every prompt sent to the image service.
const QualitySuffix = ", high quality, detailed"

// maxSeed bounds random seeds to [0, maxSeed).
const maxSeed = 1_000_000

var modelNames = map[string]string{
	"flux":   "Flux Schnell",
	"zimage": "Z-Image Turbo",
}

// ModelName returns the display name of a model id. Unknown ids are returned as-is.
func ModelName(id string) string {
	if name, ok := modelNames[id]; ok {
		return name
	}
	return id
}

// Models lists the known model ids.
func Models() []string {
	return []string{"flux", "zimage"}
}

// Options controls one generation request.
type Options struct {
	Model   string
	Style   string
	Width   int
	Height  int
	Enhance bool
	NoLogo  bool
	// Seed 0 picks a random seed.
	Seed int
}

// Size returns "WIDTHxHEIGHT".
func (o Options) Size() string {
	return fmt.Sprintf("%dx%d", o.Width, o.Height)
}

// ParseSize parses "WIDTHxHEIGHT". The multiplication sign is accepted too.
func ParseSize(s string) (int, int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "×", "x")
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, errors.NewInvalidRequest(fmt.Sprintf("size must be WIDTHxHEIGHT, got %q", s))
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, errors.NewInvalidRequest(fmt.Sprintf("invalid width in size %q", s))
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, errors.NewInvalidRequest(fmt.Sprintf("invalid height in size %q", s))
	}
	return width, height, nil
}

// BuildPrompt appends the optional style and the quality suffix to prompt.
func BuildPrompt(prompt, style string) string {
	full := prompt
	if style = strings.TrimSpace(style); style != "" {
		full += ", " + style + " style"
	}
	return full + QualitySuffix
}

// Client talks to the image service.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient returns a Client for the service at base (the prompt endpoint).
// A nil hc uses http.DefaultClient.
func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), hc: hc}
}

// URL returns the image URL for prompt. The URL itself is the request: fetching
// it makes the service render the image.
func (c *Client) URL(prompt string, opts Options) string {
	seed := opts.Seed
	if seed == 0 {
		seed = rand.IntN(maxSeed)
	}
	params := url.Values{}
	params.Set("model", opts.Model)
	params.Set("width", strconv.Itoa(opts.Width))
	params.Set("height", strconv.Itoa(opts.Height))
	params.Set("enhance", strconv.FormatBool(opts.Enhance))
	params.Set("nologo", strconv.FormatBool(opts.NoLogo))
	params.Set("seed", strconv.Itoa(seed))

	full := BuildPrompt(prompt, opts.Style)
	return c.base + "/" + url.PathEscape(full) + "?" + params.Encode()
}

// Preload fetches imageURL and discards the body, so the image is rendered
// before it is recorded anywhere.
func (c *Client) Preload(ctx context.Context, imageURL string) error {
	resp, err := c.get(ctx, imageURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return errors.NewUpstream("image", err)
	}
	return nil
}

// Download saves imageURL into dir as ai-image-<epoch ms>.png and returns the path.
func (c *Client) Download(ctx context.Context, imageURL, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", errors.NewInternal(err)
	}

	resp, err := c.get(ctx, imageURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	path := filepath.Join(dir, FileName(time.Now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", errors.NewUpstream("image", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", errors.NewInternal(err)
	}
	return path, nil
}

// FileName returns the download file name for an image saved at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("ai-image-%d.png", t.UnixMilli())
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid image URL: %v", err))
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.NewUpstream("image", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.NewUpstream("image", fmt.Errorf("status %d", resp.StatusCode))
	}
	return resp, nil
}
