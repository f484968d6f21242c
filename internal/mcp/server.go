package mcp

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/atelier/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"gallery", "image", "prompt", "cache"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"gallery_list": {
		def:     galleryListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGalleryList },
	},
	"gallery_get": {
		def:     galleryGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGalleryGet },
	},
	"gallery_clear": {
		def:     galleryClearToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGalleryClear },
	},
	"gallery_export": {
		def:     galleryExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGalleryExport },
	},
	"image_generate": {
		def:     imageGenerateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleImageGenerate },
	},
	"image_download": {
		def:     imageDownloadToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleImageDownload },
	},
	"prompt_enhance": {
		def:     promptEnhanceToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePromptEnhance },
	},
	"cache_status": {
		def:     cacheStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCacheStatus },
	},
	"cache_message": {
		def:     cacheMessageToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCacheMessage },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "gallery_list" → "gallery").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates a new MCP server with the studio tools registered.
// Tools listed in DisabledTools or belonging to DisabledTypes are excluded.
func NewServer(s *ops.Studio, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"atelier",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(s)

	// Build set of disabled tools: first expand types, then add individual tools
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(s.Config.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range s.Config.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		srv.AddTool(entry.def, entry.handler(h))
	}

	return srv
}

// Run starts the MCP server using stdio transport.
func Run(s *ops.Studio, version string) error {
	return server.ServeStdio(NewServer(s, version))
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
