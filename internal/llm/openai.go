package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Retry settings for OpenAI-compatible chat requests, matching the
// embedding package's retry posture for the same provider family.
const (
	openAIChatMaxRetries = 3
	openAIChatRetryBase  = 2 * time.Second
)

// openAIClientConfig configures an OpenAI or OpenAI-compatible chat client.
type openAIClientConfig struct {
	Provider string // "openai" or "openai-compatible"
	Model    string
	BaseURL  string
	APIKey   string
}

// openAIClient implements Client against the OpenAI chat-completions API
// and any endpoint that speaks the same wire format (LM Studio, vLLM, etc).
type openAIClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
	provider   string
}

func newOpenAIClient(cfg openAIClientConfig) (Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	isOpenAI := baseURL == "https://api.openai.com"
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if isOpenAI && apiKey == "" {
		return nil, fmt.Errorf("openai chat provider requires an API key (set MEMFLOW_CHAT_API_KEY or OPENAI_API_KEY)")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		if isOpenAI {
			model = "gpt-4o-mini"
		} else {
			return nil, fmt.Errorf("openai-compatible chat provider requires a model name (set MEMFLOW_CHAT_MODEL)")
		}
	}

	provider := "openai"
	if !isOpenAI {
		provider = "openai-compatible"
	}

	return &openAIClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		model:      model,
		apiKey:     apiKey,
		provider:   provider,
	}, nil
}

func (c *openAIClient) Provider() string { return c.provider }

func (c *openAIClient) PickBestModel() (string, error) {
	return c.model, nil
}

func (c *openAIClient) Generate(model, prompt string) (string, error) {
	return c.chat(model, prompt, "")
}

func (c *openAIClient) GenerateJSON(model, prompt string) (string, error) {
	return c.chat(model, prompt, "json_object")
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIChatError struct {
	StatusCode int
	Message    string
}

func (e *openAIChatError) Error() string {
	return fmt.Sprintf("chat provider returned %d: %s", e.StatusCode, e.Message)
}

func (e *openAIChatError) isRetryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (c *openAIClient) chat(model, prompt, format string) (string, error) {
	if model == "" {
		model = c.model
	}

	req := chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}
	if format == "json_object" {
		req.ResponseFormat = map[string]any{"type": "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < openAIChatMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * openAIChatRetryBase
			fmt.Fprintf(os.Stderr, "memflow: chat request failed, retrying in %s... (attempt %d/%d)\n",
				delay, attempt+1, openAIChatMaxRetries)
			time.Sleep(delay)
		}

		result, err := c.doChatRequest(body)
		if err == nil {
			return result, nil
		}
		if ce, ok := err.(*openAIChatError); ok && !ce.isRetryable() {
			return "", ce
		}
		lastErr = err
	}
	return "", fmt.Errorf("chat request failed after %d attempts: %w", openAIChatMaxRetries, lastErr)
}

func (c *openAIClient) doChatRequest(body []byte) (string, error) {
	httpReq, err := http.NewRequest("POST", c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &openAIChatError{StatusCode: 0, Message: sanitizeChatError(err.Error(), c.apiKey)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &openAIChatError{StatusCode: resp.StatusCode, Message: sanitizeChatError(string(respBody), c.apiKey)}
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("chat provider error: %s", sanitizeChatError(result.Error.Message, c.apiKey))
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty chat response")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func sanitizeChatError(msg, apiKey string) string {
	if apiKey == "" {
		return msg
	}
	return strings.ReplaceAll(msg, apiKey, "[REDACTED]")
}
