package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/atelier/internal/gallery"
	genmodels "github.com/hpungsan/atelier/internal/generate"
	"github.com/hpungsan/atelier/internal/ops"
)

var galleryListToolDef = mcp.NewTool(
	"gallery_list",
	mcp.WithDescription("List generated images, newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Page size (default 20)"),
		mcp.Min(1),
		mcp.Max(float64(gallery.MaxItems)),
	),
	mcp.WithNumber("offset",
		mcp.Description("Items to skip"),
		mcp.Min(0),
	),
)

var galleryGetToolDef = mcp.NewTool(
	"gallery_get",
	mcp.WithDescription("Get one gallery image by position (0 = newest)."),
	mcp.WithNumber("index",
		mcp.Required(),
		mcp.Description("Gallery position"),
		mcp.Min(0),
	),
)

var galleryClearToolDef = mcp.NewTool(
	"gallery_clear",
	mcp.WithDescription("Remove every image from the gallery. Clearing an empty gallery changes nothing."),
	mcp.WithDestructiveHintAnnotation(true),
)

var galleryExportToolDef = mcp.NewTool(
	"gallery_export",
	mcp.WithDescription("Export the gallery as a Markdown or HTML document."),
	mcp.WithString("path",
		mcp.Description("Destination file; default ~/.atelier/exports/gallery-<timestamp>.<format>"),
	),
	mcp.WithString("format",
		mcp.Description("Document format"),
		mcp.Enum(string(ops.ExportMarkdown), string(ops.ExportHTML)),
	),
)

var imageGenerateToolDef = mcp.NewTool(
	"image_generate",
	mcp.WithDescription("Generate an image from a prompt and add it to the gallery."),
	mcp.WithString("prompt",
		mcp.Required(),
		mcp.Description("What to draw (at most 500 characters)"),
	),
	mcp.WithString("model",
		mcp.Description("Image model"),
		mcp.Enum(genmodels.Models()...),
	),
	mcp.WithString("style",
		mcp.Description("Optional style, e.g. anime or oil painting"),
	),
	mcp.WithString("size",
		mcp.Description("WIDTHxHEIGHT, e.g. 1024x768"),
	),
	mcp.WithBoolean("enhance",
		mcp.Description("Let the image service expand the prompt"),
	),
	mcp.WithBoolean("nologo",
		mcp.Description("Hide the service watermark"),
	),
	mcp.WithNumber("seed",
		mcp.Description("Fixed seed for reproducible output; 0 picks one at random"),
		mcp.Min(0),
	),
)

var imageDownloadToolDef = mcp.NewTool(
	"image_download",
	mcp.WithDescription("Save an image to disk as ai-image-<ms>.png. Give either index or url."),
	mcp.WithNumber("index",
		mcp.Description("Gallery position"),
		mcp.Min(0),
	),
	mcp.WithString("url",
		mcp.Description("Image URL"),
	),
	mcp.WithString("dir",
		mcp.Description("Destination directory; default ~/.atelier/downloads"),
	),
)

var promptEnhanceToolDef = mcp.NewTool(
	"prompt_enhance",
	mcp.WithDescription("Rewrite a prompt with more visual detail."),
	mcp.WithString("prompt",
		mcp.Required(),
		mcp.Description("Prompt to enhance"),
	),
)

var cacheStatusToolDef = mcp.NewTool(
	"cache_status",
	mcp.WithDescription("Report the asset cache: active and waiting versions plus stored generations."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var cacheMessageToolDef = mcp.NewTool(
	"cache_message",
	mcp.WithDescription("Send a control message to the asset cache. SKIP_WAITING activates a waiting version."),
	mcp.WithString("type",
		mcp.Required(),
		mcp.Enum("SKIP_WAITING"),
	),
)
