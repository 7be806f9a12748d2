// Package ocrcapability implements the external OCR capability C6 calls
// into (§4.6: "invoke the external OCR capability with the image"). Ported
// from original_source's rapidocr.rs: a multipart-upload HTTP client
// against a local OCR HTTP server, generalized to any OpenAI-style local
// service URL instead of hardcoding RapidOCR's default port.
package ocrcapability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultURL matches the original implementation's RapidOCR default
// endpoint, overridable via Config.URL or the RAPIDOCR_API_URL env var.
const DefaultURL = "http://127.0.0.1:9003/ocr"

// Config configures the HTTP OCR client.
type Config struct {
	URL string
}

// Client calls a local or remote OCR HTTP service that accepts a
// multipart-form image upload and returns recognized text as JSON.
type Client struct {
	url        string
	httpClient *http.Client
}

// New constructs an OCR Client. An empty cfg.URL falls back to the
// RAPIDOCR_API_URL environment variable, then DefaultURL.
func New(cfg Config) *Client {
	url := cfg.URL
	if url == "" {
		url = os.Getenv("RAPIDOCR_API_URL")
	}
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type recognizeResponse struct {
	Text string `json:"text"`
}

// Recognize implements ocrworker.Capability: uploads the image at
// imagePath as multipart form data and returns the recognized text. The
// caller (OCR Worker) wraps this call in its own 30s timeout and a circuit
// breaker, per §4.6/§5.
func (c *Client) Recognize(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return "", fmt.Errorf("create multipart field: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ocr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr service returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed recognizeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse ocr response: %w", err)
	}
	return parsed.Text, nil
}

// IsAvailable performs a cheap liveness probe against the service's docs
// endpoint, mirroring the original's is_service_available check, used by
// `memflow doctor`.
func (c *Client) IsAvailable(ctx context.Context) bool {
	probeURL := c.url
	if len(probeURL) > len("/ocr") && probeURL[len(probeURL)-4:] == "/ocr" {
		probeURL = probeURL[:len(probeURL)-4] + "/docs"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
