package ocrcapability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsURL(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, DefaultURL, c.url)
}

func TestNewHonorsExplicitURL(t *testing.T) {
	c := New(Config{URL: "http://example.internal/ocr"})
	assert.Equal(t, "http://example.internal/ocr", c.url)
}

func TestNewFallsBackToEnvVar(t *testing.T) {
	t.Setenv("RAPIDOCR_API_URL", "http://from-env/ocr")
	c := New(Config{})
	assert.Equal(t, "http://from-env/ocr", c.url)
}

func TestRecognizeUploadsMultipartAndParsesText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		file, _, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello from ocr"}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	imgPath := filepath.Join(dir, "frame.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("not-a-real-png"), 0o644))

	c := New(Config{URL: srv.URL})
	text, err := c.Recognize(context.Background(), imgPath)
	require.NoError(t, err)
	assert.Equal(t, "hello from ocr", text)
}

func TestRecognizeNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	imgPath := filepath.Join(dir, "frame.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("x"), 0o644))

	c := New(Config{URL: srv.URL})
	_, err := c.Recognize(context.Background(), imgPath)
	assert.Error(t, err)
}

func TestRecognizeMissingImage(t *testing.T) {
	c := New(Config{URL: "http://127.0.0.1:1/ocr"})
	_, err := c.Recognize(context.Background(), "/nonexistent/path.png")
	assert.Error(t, err)
}

func TestIsAvailableProbesDocsEndpoint(t *testing.T) {
	var probed string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probed = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL + "/ocr"})
	assert.True(t, c.IsAvailable(context.Background()))
	assert.Equal(t, "/docs", probed)
}

func TestIsAvailableUnreachable(t *testing.T) {
	c := New(Config{URL: "http://127.0.0.1:1/ocr"})
	assert.False(t, c.IsAvailable(context.Background()))
}
