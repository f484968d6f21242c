package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/atelier/internal/errors"
	"github.com/hpungsan/atelier/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	studio *ops.Studio
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(s *ops.Studio) *Handlers {
	return &Handlers{studio: s}
}

// Request types for each tool

// GalleryListRequest represents the arguments for gallery_list.
type GalleryListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// GalleryGetRequest represents the arguments for gallery_get.
type GalleryGetRequest struct {
	Index *int `json:"index"`
}

// GalleryExportRequest represents the arguments for gallery_export.
type GalleryExportRequest struct {
	Path   string `json:"path,omitempty"`
	Format string `json:"format,omitempty"`
}

// ImageGenerateRequest represents the arguments for image_generate.
type ImageGenerateRequest struct {
	Prompt  string `json:"prompt"`
	Model   string `json:"model,omitempty"`
	Style   string `json:"style,omitempty"`
	Size    string `json:"size,omitempty"`
	Enhance bool   `json:"enhance,omitempty"`
	NoLogo  bool   `json:"nologo,omitempty"`
	Seed    int    `json:"seed,omitempty"`
}

// ImageDownloadRequest represents the arguments for image_download.
type ImageDownloadRequest struct {
	Index *int   `json:"index,omitempty"`
	URL   string `json:"url,omitempty"`
	Dir   string `json:"dir,omitempty"`
}

// PromptEnhanceRequest represents the arguments for prompt_enhance.
type PromptEnhanceRequest struct {
	Prompt string `json:"prompt"`
}

// CacheMessageRequest represents the arguments for cache_message.
type CacheMessageRequest struct {
	Type string `json:"type"`
}

// Handler implementations

// HandleGalleryList handles the gallery_list tool call.
func (h *Handlers) HandleGalleryList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GalleryListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return successResult(ops.ListGallery(h.studio, ops.ListInput{
		Limit:  input.Limit,
		Offset: input.Offset,
	}))
}

// HandleGalleryGet handles the gallery_get tool call.
func (h *Handlers) HandleGalleryGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GalleryGetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Index == nil {
		return errorResult(errors.NewInvalidRequest("index is required")), nil
	}

	result, err := ops.GalleryItem(h.studio, *input.Index)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleGalleryClear handles the gallery_clear tool call.
func (h *Handlers) HandleGalleryClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.ClearGallery(ctx, h.studio))
}

// HandleGalleryExport handles the gallery_export tool call.
func (h *Handlers) HandleGalleryExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GalleryExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ExportGallery(ctx, h.studio, ops.ExportInput{
		Path:   input.Path,
		Format: ops.ExportFormat(input.Format),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleImageGenerate handles the image_generate tool call.
func (h *Handlers) HandleImageGenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImageGenerateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Generate(ctx, h.studio, ops.GenerateInput{
		Prompt:  input.Prompt,
		Model:   input.Model,
		Style:   input.Style,
		Size:    input.Size,
		Enhance: input.Enhance,
		NoLogo:  input.NoLogo,
		Seed:    input.Seed,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleImageDownload handles the image_download tool call.
func (h *Handlers) HandleImageDownload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImageDownloadRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Download(ctx, h.studio, ops.DownloadInput{
		Index: input.Index,
		URL:   input.URL,
		Dir:   input.Dir,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePromptEnhance handles the prompt_enhance tool call.
func (h *Handlers) HandlePromptEnhance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PromptEnhanceRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Enhance(ctx, h.studio, ops.EnhanceInput{Prompt: input.Prompt})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCacheStatus handles the cache_status tool call.
func (h *Handlers) HandleCacheStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.CacheStatus(ctx, h.studio)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCacheMessage handles the cache_message tool call.
func (h *Handlers) HandleCacheMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CacheMessageRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.CacheMessage(ctx, h.studio, ops.CacheMessageInput{Type: input.Type})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var aErr *errors.AtelierError
	if stderrors.As(err, &aErr) {
		// Keep wrapper context ("index 3: not found: ...") ahead of the message.
		msg := aErr.Message
		if outer := err.Error(); outer != aErr.Error() {
			msg = strings.TrimSuffix(outer, aErr.Error()) + aErr.Message
		}
		errorObj := map[string]any{
			"code":    aErr.Code,
			"message": msg,
			"status":  aErr.Status,
		}
		if aErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if aErr.Details != nil {
			errorObj["details"] = aErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
