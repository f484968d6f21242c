package cloud

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/atelier/internal/errors"
	"github.com/hpungsan/atelier/internal/logger"
)

func TestNewCloudinary_Validation(t *testing.T) {
	_, err := NewCloudinary(Config{UploadPreset: "ai_gallery"}, nil)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = NewCloudinary(Config{CloudName: "demo"}, nil)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	c, err := NewCloudinary(Config{CloudName: "demo", UploadPreset: "ai_gallery"}, nil)
	require.NoError(t, err)
	require.Equal(t, "https://api.cloudinary.com/v1_1/demo/image/upload", c.UploadURL())
}

func TestUpload(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		got = r
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"secure_url":"https://res.cloudinary.com/demo/image/upload/ai-gallery/x.png"}`))
	}))
	defer srv.Close()

	c, err := NewCloudinary(Config{
		CloudName: "demo", UploadPreset: "ai_gallery", Folder: "ai-gallery", APIBase: srv.URL,
	}, srv.Client())
	require.NoError(t, err)

	stored, err := c.Upload(context.Background(), "https://image.pollinations.ai/prompt/cat", "a cat | a=b")
	require.NoError(t, err)
	require.Equal(t, "https://res.cloudinary.com/demo/image/upload/ai-gallery/x.png", stored)

	require.NotNil(t, got)
	require.Equal(t, http.MethodPost, got.Method)
	require.Equal(t, "/demo/image/upload", got.URL.Path)
	require.Equal(t, "https://image.pollinations.ai/prompt/cat", got.FormValue("file"))
	require.Equal(t, "ai_gallery", got.FormValue("upload_preset"))
	require.Equal(t, "ai-gallery", got.FormValue("folder"))
	require.Equal(t, `prompt=a cat \| a\=b`, got.FormValue("context"))
	require.Len(t, got.FormValue("public_id"), 26)
}

func TestUpload_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rejected", http.StatusBadRequest, `{"error":{"message":"Upload preset not found"}}`},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`},
		{"no url", http.StatusOK, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewCloudinary(Config{CloudName: "demo", UploadPreset: "p", APIBase: srv.URL}, srv.Client())
			require.NoError(t, err)
			_, err = c.Upload(context.Background(), "https://example.com/a.png", "p")
			require.True(t, errors.Is(err, errors.ErrUpstream))
		})
	}
}

type stubUploader struct {
	url string
	err error
}

func (s stubUploader) Upload(context.Context, string, string) (string, error) {
	return s.url, s.err
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	original := "https://image.pollinations.ai/prompt/cat"

	require.Equal(t, original, Resolve(ctx, nil, original, "cat", logger.Discard()))
	require.Equal(t, "https://cdn/x.png", Resolve(ctx, stubUploader{url: "https://cdn/x.png"}, original, "cat", logger.Discard()))
	require.Equal(t, original, Resolve(ctx, stubUploader{err: stderrors.New("quota")}, original, "cat", logger.Discard()))
}
