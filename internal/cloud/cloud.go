// Package cloud uploads generated images to Cloudinary so gallery entries point
// at a durable copy instead of the regenerating service URL.
package cloud

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/atelier/internal/errors"
	"github.com/hpungsan/atelier/internal/logger"
)

// DefaultAPIBase is the Cloudinary upload API root.
const DefaultAPIBase = "https://api.cloudinary.com/v1_1"

// Uploader stores an image under a durable URL.
type Uploader interface {
	Upload(ctx context.Context, imageURL, prompt string) (string, error)
}

// Config configures a Cloudinary uploader.
type Config struct {
	CloudName    string
	UploadPreset string
	Folder       string
	// APIBase overrides DefaultAPIBase.
	APIBase string
}

// Cloudinary performs unsigned uploads by remote URL.
type Cloudinary struct {
	cfg Config
	hc  *http.Client
}

// NewCloudinary returns a Cloudinary uploader. A nil hc uses http.DefaultClient.
func NewCloudinary(cfg Config, hc *http.Client) (*Cloudinary, error) {
	if strings.TrimSpace(cfg.CloudName) == "" {
		return nil, errors.NewInvalidRequest("cloudinary cloud name is required")
	}
	if strings.TrimSpace(cfg.UploadPreset) == "" {
		return nil, errors.NewInvalidRequest("cloudinary upload preset is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Cloudinary{cfg: cfg, hc: hc}, nil
}

// UploadURL returns the endpoint uploads are posted to.
func (c *Cloudinary) UploadURL() string {
	return fmt.Sprintf("%s/%s/image/upload", c.cfg.APIBase, c.cfg.CloudName)
}

type uploadResult struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Upload asks Cloudinary to fetch imageURL and returns the stored copy's secure URL.
func (c *Cloudinary) Upload(ctx context.Context, imageURL, prompt string) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", errors.NewInternal(err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := []struct{ name, value string }{
		{"file", imageURL},
		{"upload_preset", c.cfg.UploadPreset},
		{"public_id", strings.ToLower(id.String())},
		{"context", "prompt=" + escapeContext(prompt)},
	}
	if c.cfg.Folder != "" {
		fields = append(fields, struct{ name, value string }{"folder", c.cfg.Folder})
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return "", errors.NewInternal(err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", errors.NewInternal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.UploadURL(), &body)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", errors.NewUpstream("cloudinary", err)
	}
	defer resp.Body.Close()

	var result uploadResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return "", errors.NewUpstream("cloudinary", fmt.Errorf("status %d: decode response: %w", resp.StatusCode, err))
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if result.Error != nil && result.Error.Message != "" {
			msg += ": " + result.Error.Message
		}
		return "", errors.NewUpstream("cloudinary", fmt.Errorf("%s", msg))
	}
	if result.SecureURL == "" {
		return "", errors.NewUpstream("cloudinary", fmt.Errorf("response has no secure_url"))
	}
	return result.SecureURL, nil
}

// escapeContext escapes the separators of Cloudinary's key=value|key=value context syntax.
func escapeContext(s string) string {
	return strings.NewReplacer(`|`, `\|`, `=`, `\=`).Replace(s)
}

// Resolve uploads imageURL and returns the durable URL. Upload is never fatal:
// with no uploader or on any failure the original URL is returned.
func Resolve(ctx context.Context, up Uploader, imageURL, prompt string, log *slog.Logger) string {
	if up == nil {
		return imageURL
	}
	if log == nil {
		log = slog.Default()
	}
	stored, err := up.Upload(ctx, imageURL, prompt)
	if err != nil {
		log.Warn("cloud upload failed, keeping original url", logger.Err(err))
		return imageURL
	}
	return stored
}
