package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hpungsan/atelier/internal/config"
	"github.com/hpungsan/atelier/internal/db"
	"github.com/hpungsan/atelier/internal/logger"
	"github.com/hpungsan/atelier/internal/ops"
)

// newUpstream fakes the image and text services plus a remote deployment.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/prompt/"):
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpeg"))
		case r.URL.Path == "/openai/chat/completions":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"\"a cat in golden light\""}}]}`))
		default:
			w.Write([]byte("remote " + r.URL.Path))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupTest(t *testing.T, opts Options) (http.Handler, *ops.Studio) {
	t.Helper()
	upstream := newUpstream(t)
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.ImageAPIBase = upstream.URL + "/prompt"
	cfg.TextAPIBase = upstream.URL + "/openai"

	s, err := ops.Open(context.Background(), database, cfg, tmpDir, logger.Discard())
	if err != nil {
		t.Fatalf("ops.Open: %v", err)
	}

	if opts.Origin == "upstream" {
		opts.Origin = upstream.URL
	}
	opts.Version = "test"
	srv, err := NewServer(s, opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv.Handler, s
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeJSON(t, rec, &body)
	return body.Error.Code
}

func seed(t *testing.T, h http.Handler, prompt string) {
	t.Helper()
	rec := do(t, h, "POST", "/api/generate", `{"prompt":`+quote(prompt)+`,"seed":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// --- shell ---

func TestShell_ServesEmbeddedFiles(t *testing.T) {
	h, _ := setupTest(t, Options{})

	for _, path := range []string{"/", "/index.html", "/styles.css", "/app.js", "/manifest.json"} {
		rec := do(t, h, "GET", path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}

	rec := do(t, h, "GET", "/", "")
	if !strings.Contains(rec.Body.String(), `id="promptInput"`) {
		t.Error("expected studio shell at /")
	}
	if ct := do(t, h, "GET", "/manifest.json", "").Header().Get("Content-Type"); ct != "application/manifest+json" {
		t.Errorf("manifest Content-Type = %q", ct)
	}
	if rec := do(t, h, "GET", "/nope.js", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown asset status = %d, want 404", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h, _ := setupTest(t, Options{})
	rec := do(t, h, "GET", "/", "")

	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if !strings.Contains(rec.Header().Get("Content-Security-Policy"), "default-src 'self'") {
		t.Error("missing CSP")
	}
}

func TestShell_MirrorsOrigin(t *testing.T) {
	h, _ := setupTest(t, Options{Origin: "upstream"})

	rec := do(t, h, "GET", "/app.js", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "remote /app.js" {
		t.Errorf("body = %q, want mirrored asset", rec.Body.String())
	}

	// API routes stay local.
	if rec := do(t, h, "GET", "/api/gallery", ""); rec.Code != http.StatusOK {
		t.Errorf("api status = %d", rec.Code)
	}
}

func TestNewServer_InvalidOrigin(t *testing.T) {
	_, s := setupTest(t, Options{})
	if _, err := NewServer(s, Options{Origin: "not a url"}); err == nil {
		t.Fatal("expected error for relative origin")
	}
}

// --- API ---

func TestAPIGenerate(t *testing.T) {
	h, s := setupTest(t, Options{})

	rec := do(t, h, "POST", "/api/generate", `{"prompt":"a cat","model":"zimage","size":"512x512","nologo":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out ops.GenerateOutput
	decodeJSON(t, rec, &out)
	if out.Item.Prompt != "a cat" || out.ModelName != "Z-Image Turbo" || out.Item.Size != "512x512" {
		t.Errorf("unexpected output %+v", out)
	}
	if s.Gallery.Len() != 1 {
		t.Errorf("gallery len = %d, want 1", s.Gallery.Len())
	}
}

func TestAPIGenerate_Errors(t *testing.T) {
	h, s := setupTest(t, Options{})

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"empty prompt", `{"prompt":"  "}`, 400, "INVALID_REQUEST"},
		{"too long", `{"prompt":` + quote(strings.Repeat("x", 501)) + `}`, 413, "PROMPT_TOO_LONG"},
		{"bad json", `{"prompt":`, 400, "INVALID_REQUEST"},
		{"unknown field", `{"prompt":"x","colour":"red"}`, 400, "INVALID_REQUEST"},
		{"bad size", `{"prompt":"x","size":"big"}`, 400, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, "POST", "/api/generate", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Errorf("code = %q, want %q", code, tt.code)
			}
		})
	}
	if s.Gallery.Len() != 0 {
		t.Errorf("gallery len = %d, want 0", s.Gallery.Len())
	}
}

func TestAPIGallery_ListGetClear(t *testing.T) {
	h, _ := setupTest(t, Options{})
	seed(t, h, "first")
	seed(t, h, "second")

	rec := do(t, h, "GET", "/api/gallery?limit=1", "")
	var list ops.ListOutput
	decodeJSON(t, rec, &list)
	if len(list.Items) != 1 || list.Items[0].Prompt != "second" {
		t.Fatalf("list = %+v, want newest first", list.Items)
	}
	if !list.Pagination.HasMore || list.Pagination.Total != 2 {
		t.Errorf("pagination = %+v", list.Pagination)
	}

	rec = do(t, h, "GET", "/api/gallery/1", "")
	var entry ops.GalleryEntry
	decodeJSON(t, rec, &entry)
	if entry.Prompt != "first" || entry.Index != 1 {
		t.Errorf("entry = %+v", entry)
	}

	if rec := do(t, h, "GET", "/api/gallery/7", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing index status = %d, want 404", rec.Code)
	}
	if rec := do(t, h, "GET", "/api/gallery/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad index status = %d, want 400", rec.Code)
	}

	rec = do(t, h, "DELETE", "/api/gallery", "")
	var cleared ops.ClearOutput
	decodeJSON(t, rec, &cleared)
	if !cleared.Cleared || cleared.Removed != 2 {
		t.Errorf("clear = %+v", cleared)
	}

	rec = do(t, h, "DELETE", "/api/gallery", "")
	decodeJSON(t, rec, &cleared)
	if cleared.Cleared {
		t.Error("clearing an empty gallery should report no change")
	}
}

func TestAPIEnhance(t *testing.T) {
	h, _ := setupTest(t, Options{})

	rec := do(t, h, "POST", "/api/enhance", `{"prompt":"a cat"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out ops.EnhanceOutput
	decodeJSON(t, rec, &out)
	if out.Prompt != "a cat in golden light" {
		t.Errorf("prompt = %q, want quotes stripped", out.Prompt)
	}
}

func TestAPICache(t *testing.T) {
	h, _ := setupTest(t, Options{})

	rec := do(t, h, "GET", "/api/cache", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st struct {
		Active      any   `json:"active"`
		Generations []any `json:"generations"`
	}
	decodeJSON(t, rec, &st)
	if st.Active != nil || len(st.Generations) != 0 {
		t.Errorf("status = %+v, want nothing registered", st)
	}

	rec = do(t, h, "POST", "/api/cache/message", `{"type":"skip_waiting"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("SKIP_WAITING with nothing waiting: status = %d", rec.Code)
	}
	rec = do(t, h, "POST", "/api/cache/message", `{"type":"RELOAD"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown message status = %d, want 400", rec.Code)
	}
}

// --- pages ---

func TestGalleryPage(t *testing.T) {
	h, _ := setupTest(t, Options{})
	seed(t, h, "a **bold** fox")
	seed(t, h, "<script>alert(1)</script>")

	rec := do(t, h, "GET", "/gallery", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>bold</strong>") {
		t.Error("expected prompt rendered as markdown")
	}
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("raw HTML in a prompt must not reach the page")
	}
	if !strings.Contains(body, "2 images") {
		t.Error("expected total count")
	}
}

func TestGalleryPage_Empty(t *testing.T) {
	h, _ := setupTest(t, Options{})
	rec := do(t, h, "GET", "/gallery", "")
	if !strings.Contains(rec.Body.String(), "No images yet") {
		t.Error("expected empty state")
	}
}

func TestGalleryClearForm(t *testing.T) {
	h, s := setupTest(t, Options{})
	seed(t, h, "x")

	form := url.Values{"confirm": {"false"}}
	req := httptest.NewRequest("POST", "/gallery/clear", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unconfirmed status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "confirm parameter") {
		t.Error("expected error page message")
	}

	form.Set("confirm", "true")
	req = httptest.NewRequest("POST", "/gallery/clear", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/gallery?cleared=true" {
		t.Errorf("Location = %q", loc)
	}
	if s.Gallery.Len() != 0 {
		t.Error("gallery not cleared")
	}
}

func TestFormatTime(t *testing.T) {
	if got := formatTime(0); got != "1970-01-01 00:00" {
		t.Errorf("formatTime(0) = %q", got)
	}
}
