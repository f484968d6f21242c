package ops

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hpungsan/atelier/internal/errors"
)

// DownloadInput contains parameters for the Download operation.
// Exactly one of Index or URL addresses the image.
type DownloadInput struct {
	Index *int   // gallery position
	URL   string // any image URL
	Dir   string // optional, default: ~/.atelier/downloads
}

// DownloadOutput contains the result of the Download operation.
type DownloadOutput struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Download saves an image as ai-image-<epoch ms>.png.
func Download(ctx context.Context, s *Studio, input DownloadInput) (*DownloadOutput, error) {
	imageURL := strings.TrimSpace(input.URL)
	switch {
	case input.Index != nil && imageURL != "":
		return nil, errors.NewInvalidRequest("specify either index or url, not both")
	case input.Index != nil:
		item, ok := s.Gallery.Get(*input.Index)
		if !ok {
			return nil, errors.NewNotFound(fmt.Sprintf("gallery item %d", *input.Index))
		}
		imageURL = item.URL
	case imageURL == "":
		return nil, errors.NewInvalidRequest("must specify either index or url")
	}

	dir := input.Dir
	if dir == "" {
		dir = s.DownloadsDir()
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.NewInternal(err)
		}
	}
	if err := ValidateDir(dir, s.DownloadsDir(), s.Config); err != nil {
		return nil, err
	}

	path, err := s.Images.Download(ctx, imageURL, dir)
	if err != nil {
		return nil, err
	}
	s.logger().Info("image downloaded", "path", path)
	return &DownloadOutput{Path: path, URL: imageURL}, nil
}
