package ops

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hpungsan/atelier/internal/cloud"
	"github.com/hpungsan/atelier/internal/errors"
	"github.com/hpungsan/atelier/internal/gallery"
	"github.com/hpungsan/atelier/internal/generate"
)

// GenerateInput contains parameters for the Generate operation.
type GenerateInput struct {
	Prompt  string // required, at most MaxPromptChars
	Model   string // default: config default_model
	Style   string // optional
	Size    string // "WIDTHxHEIGHT", default: config default_size
	Enhance bool   // ask the image service to expand the prompt
	NoLogo  bool
	Seed    int // 0 = random
}

// GenerateOutput contains the result of the Generate operation.
type GenerateOutput struct {
	Item        gallery.Item `json:"item"`
	ModelName   string       `json:"model_name"`
	Uploaded    bool         `json:"uploaded"`
	GallerySize int          `json:"gallery_size"`
}

// Generate renders an image, stores a durable copy when cloud upload is
// configured, and records the result at the top of the gallery.
func Generate(ctx context.Context, s *Studio, input GenerateInput) (*GenerateOutput, error) {
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return nil, errors.NewInvalidRequest("prompt is required")
	}
	if n := utf8.RuneCountInString(prompt); n > MaxPromptChars {
		return nil, errors.NewPromptTooLong(MaxPromptChars, n)
	}

	model := strings.TrimSpace(input.Model)
	if model == "" {
		model = s.Config.DefaultModel
	}
	size := input.Size
	if strings.TrimSpace(size) == "" {
		size = s.Config.DefaultSize
	}
	width, height, err := generate.ParseSize(size)
	if err != nil {
		return nil, err
	}

	opts := generate.Options{
		Model:   model,
		Style:   input.Style,
		Width:   width,
		Height:  height,
		Enhance: input.Enhance,
		NoLogo:  input.NoLogo,
		Seed:    input.Seed,
	}
	imageURL := s.Images.URL(prompt, opts)

	if err := s.Images.Preload(ctx, imageURL); err != nil {
		return nil, err
	}

	stored := cloud.Resolve(ctx, s.Uploader, imageURL, prompt, s.logger())

	item := gallery.Item{
		URL:         stored,
		OriginalURL: imageURL,
		Prompt:      prompt,
		Model:       model,
		Size:        opts.Size(),
		Timestamp:   time.Now().UnixMilli(),
	}
	g := s.Gallery.Add(ctx, item)
	s.logger().Info("image generated", "model", model, "size", item.Size, "uploaded", stored != imageURL)

	return &GenerateOutput{
		Item:        item,
		ModelName:   generate.ModelName(model),
		Uploaded:    stored != imageURL,
		GallerySize: len(g),
	}, nil
}
