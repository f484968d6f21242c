package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hpungsan/atelier/internal/errors"
	"github.com/hpungsan/atelier/internal/ops"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	studio   *ops.Studio
	renderer *Renderer
	log      *slog.Logger
}

// HandleGallery handles GET /gallery, the server-rendered gallery page.
func (h *Handlers) HandleGallery(w http.ResponseWriter, r *http.Request) {
	result := ops.ListGallery(h.studio, ops.ListInput{
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})

	h.renderer.renderPage(w, "gallery", GalleryPageData{
		PageData: PageData{
			Title:   "Gallery",
			Version: h.renderer.version,
		},
		Items:      result.Items,
		Pagination: result.Pagination,
		Cleared:    parseBoolParam(r, "cleared"),
	})
}

// HandleGalleryClear handles POST /gallery/clear from the gallery page form.
func (h *Handlers) HandleGalleryClear(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	if r.FormValue("confirm") != "true" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("confirm parameter must be \"true\""))
		return
	}

	result := ops.ClearGallery(r.Context(), h.studio)

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		renderJSON(w, http.StatusOK, result)
		return
	}
	http.Redirect(w, r, "/gallery?cleared=true", http.StatusFound)
}

// HandleAPIGalleryList handles GET /api/gallery.
func (h *Handlers) HandleAPIGalleryList(w http.ResponseWriter, r *http.Request) {
	result := ops.ListGallery(h.studio, ops.ListInput{
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	renderJSON(w, http.StatusOK, result)
}

// HandleAPIGalleryClear handles DELETE /api/gallery.
func (h *Handlers) HandleAPIGalleryClear(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, ops.ClearGallery(r.Context(), h.studio))
}

// HandleAPIGalleryItem handles GET /api/gallery/{index}.
func (h *Handlers) HandleAPIGalleryItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		renderAPIError(w, errors.NewInvalidRequest("index must be an integer"))
		return
	}
	entry, err := ops.GalleryItem(h.studio, index)
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, entry)
}

type generateRequest struct {
	Prompt  string `json:"prompt"`
	Model   string `json:"model"`
	Style   string `json:"style"`
	Size    string `json:"size"`
	Enhance bool   `json:"enhance"`
	NoLogo  bool   `json:"nologo"`
	Seed    int    `json:"seed"`
}

// HandleAPIGenerate handles POST /api/generate.
func (h *Handlers) HandleAPIGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeBody(w, r, &req); err != nil {
		renderAPIError(w, err)
		return
	}

	out, err := ops.Generate(r.Context(), h.studio, ops.GenerateInput{
		Prompt:  req.Prompt,
		Model:   req.Model,
		Style:   req.Style,
		Size:    req.Size,
		Enhance: req.Enhance,
		NoLogo:  req.NoLogo,
		Seed:    req.Seed,
	})
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAPIEnhance handles POST /api/enhance.
func (h *Handlers) HandleAPIEnhance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		renderAPIError(w, err)
		return
	}

	out, err := ops.Enhance(r.Context(), h.studio, ops.EnhanceInput{Prompt: req.Prompt})
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAPICacheStatus handles GET /api/cache.
func (h *Handlers) HandleAPICacheStatus(w http.ResponseWriter, r *http.Request) {
	st, err := ops.CacheStatus(r.Context(), h.studio)
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, st)
}

// HandleAPICacheMessage handles POST /api/cache/message with {"type":"SKIP_WAITING"}.
func (h *Handlers) HandleAPICacheMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		renderAPIError(w, err)
		return
	}

	st, err := ops.CacheMessage(r.Context(), h.studio, ops.CacheMessageInput{Type: req.Type})
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, st)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
