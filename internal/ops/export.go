package ops

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/atelier/internal/errors"
	"github.com/hpungsan/atelier/internal/gallery"
	"github.com/hpungsan/atelier/internal/generate"
)

// ExportFormat selects the export file format.
type ExportFormat string

const (
	ExportMarkdown ExportFormat = "md"
	ExportHTML     ExportFormat = "html"
)

// ExportInput contains parameters for the ExportGallery operation.
type ExportInput struct {
	Path   string       // optional, default: ~/.atelier/exports/gallery-<timestamp>.<format>
	Format ExportFormat // default: md, or inferred from Path's extension
}

// ExportOutput contains the result of the ExportGallery operation.
type ExportOutput struct {
	Path       string       `json:"path"`
	Format     ExportFormat `json:"format"`
	Count      int          `json:"count"`
	ExportedAt int64        `json:"exported_at"`
}

// ExportGallery writes the gallery as a Markdown or HTML document.
func ExportGallery(ctx context.Context, s *Studio, input ExportInput) (*ExportOutput, error) {
	now := time.Now()

	format, err := resolveFormat(input)
	if err != nil {
		return nil, err
	}

	exportPath := input.Path
	if exportPath == "" {
		exportPath = filepath.Join(s.ExportsDir(), fmt.Sprintf("gallery-%s.%s", now.Format("2006-01-02T150405"), format))
	}
	if err := os.MkdirAll(s.ExportsDir(), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}
	// Validate ALL paths, default ones included
	if err := ValidateWritePath(exportPath, []string{"." + string(format)}, s.ExportsDir(), s.Config); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	items := s.Gallery.Items()
	md := GalleryMarkdown(items, now)
	content := []byte(md)
	if format == ExportHTML {
		content, err = galleryHTML(md)
		if err != nil {
			return nil, err
		}
	}

	if err := writeFileAtomic(exportPath, content); err != nil {
		return nil, err
	}

	return &ExportOutput{
		Path:       exportPath,
		Format:     format,
		Count:      len(items),
		ExportedAt: now.Unix(),
	}, nil
}

func resolveFormat(input ExportInput) (ExportFormat, error) {
	format := ExportFormat(strings.ToLower(strings.TrimSpace(string(input.Format))))
	if format == "" && input.Path != "" {
		format = ExportFormat(strings.TrimPrefix(strings.ToLower(filepath.Ext(input.Path)), "."))
	}
	switch format {
	case "", ExportMarkdown, "markdown":
		return ExportMarkdown, nil
	case ExportHTML:
		return ExportHTML, nil
	}
	return "", errors.NewInvalidRequest(fmt.Sprintf("unsupported export format %q (use md or html)", input.Format))
}

// GalleryMarkdown renders items as a Markdown document, newest first.
func GalleryMarkdown(items gallery.Gallery, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Atelier gallery\n\n")
	fmt.Fprintf(&b, "_%d images, exported %s_\n", len(items), now.UTC().Format(time.RFC3339))

	for i, it := range items {
		fmt.Fprintf(&b, "\n## %d. %s\n\n", i+1, generate.ModelName(it.Model))
		fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(it.Prompt, "\n", " "))
		fmt.Fprintf(&b, "![%s](%s)\n\n", markdownAlt(it.Prompt), it.URL)
		fmt.Fprintf(&b, "- Size: %s\n", it.Size)
		fmt.Fprintf(&b, "- Created: %s\n", time.UnixMilli(it.Timestamp).UTC().Format(time.RFC3339))
		if it.OriginalURL != "" && it.OriginalURL != it.URL {
			fmt.Fprintf(&b, "- [Original](%s)\n", it.OriginalURL)
		}
	}
	return b.String()
}

func markdownAlt(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}

const htmlDocument = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>body{font-family:Inter,system-ui,sans-serif;max-width:960px;margin:2rem auto;padding:0 1rem;background:#0f0f17;color:#e8e8f0}img{max-width:100%;border-radius:12px}a{color:#a78bfa}blockquote{border-left:3px solid #7c3aed;margin:0;padding-left:1rem;color:#c4c4d4}</style>
</head>
<body>
{{.Body}}
</body>
</html>
`

var htmlDocumentTmpl = template.Must(template.New("export").Parse(htmlDocument))

func galleryHTML(md string) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(md), &body); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("render markdown: %w", err))
	}
	var out bytes.Buffer
	err := htmlDocumentTmpl.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{"Atelier gallery", template.HTML(body.String())})
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return out.Bytes(), nil
}

// writeFileAtomic writes to a temp file first, then renames it into place so an
// existing file survives a failed write.
func writeFileAtomic(path string, content []byte) error {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(content); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; overwriting is not supported on Windows (choose a new path or delete the existing file)")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return nil
}
