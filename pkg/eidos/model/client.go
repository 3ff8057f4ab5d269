// Package model implements the LLM collaborator: a chat-completion and
// embedding client speaking the OpenAI-compatible API format, which
// works with OpenAI, OpenRouter, GLM, Groq and any compatible endpoint.
// The runtime consumes it through narrow interfaces (UseModel, Embed)
// and never retries transport failures itself.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/provolt/eidos/pkg/eidos/runtime"
)

// DefaultCallTimeout is the safety-net timeout for one API call. It
// only catches hung connections; the run-level timeout in the
// orchestrator is the primary bound.
const DefaultCallTimeout = 2 * time.Minute

// Config configures the model client.
type Config struct {
	// BaseURL is the API endpoint (default: https://api.openai.com/v1).
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests. Resolved through secrets lookup
	// before the client is built.
	APIKey string `yaml:"api_key"`

	// SmallModel handles routing decisions (should-respond, reflection).
	SmallModel string `yaml:"small_model"`

	// LargeModel handles reply generation.
	LargeModel string `yaml:"large_model"`

	// EmbeddingModel generates retrieval vectors. Empty disables API
	// embeddings (the store falls back to its local embedder).
	EmbeddingModel string `yaml:"embedding_model"`

	// CallTimeoutSeconds caps a single API call (default: 120).
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://api.openai.com/v1",
		SmallModel:         "gpt-4o-mini",
		LargeModel:         "gpt-4o",
		CallTimeoutSeconds: int(DefaultCallTimeout / time.Second),
	}
}

// Client talks to an OpenAI-compatible API. It implements
// runtime.ModelCaller and runtime.Embedder.
type Client struct {
	baseURL        string
	apiKey         string
	smallModel     string
	largeModel     string
	embeddingModel string
	callTimeout    time.Duration
	httpClient     *http.Client
	logger         *slog.Logger
}

// New creates a model client from config.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.SmallModel == "" {
		cfg.SmallModel = def.SmallModel
	}
	if cfg.LargeModel == "" {
		cfg.LargeModel = def.LargeModel
	}
	timeout := DefaultCallTimeout
	if cfg.CallTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.CallTimeoutSeconds) * time.Second
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		smallModel:     cfg.SmallModel,
		largeModel:     cfg.LargeModel,
		embeddingModel: cfg.EmbeddingModel,
		callTimeout:    timeout,
		httpClient: &http.Client{
			// Per-call context timeouts control cancellation; the
			// transport timeouts only guard connection setup.
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 90 * time.Second,
			},
		},
		logger: logger.With("component", "model"),
	}
}

// modelFor maps a model class to the configured model name.
func (c *Client) modelFor(class runtime.ModelClass) string {
	if class == runtime.ModelSmall {
		return c.smallModel
	}
	return c.largeModel
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// UseModel sends prompt as a single user message and returns the text
// completion.
func (c *Client) UseModel(ctx context.Context, class runtime.ModelClass, prompt string) (string, error) {
	model := c.modelFor(class)
	start := time.Now()

	body, err := c.post(ctx, "/chat/completions", chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("api error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}

	c.logger.Debug("model call complete",
		"model", model,
		"prompt_len", len(prompt),
		"llm_ms", time.Since(start).Milliseconds(),
	)
	return resp.Choices[0].Message.Content, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

// Embed generates an embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embeddingModel == "" {
		return nil, fmt.Errorf("no embedding model configured")
	}

	body, err := c.post(ctx, "/embeddings", embeddingRequest{
		Model: c.embeddingModel,
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("api error: %s", resp.Error.Message)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding returned no data")
	}
	return resp.Data[0].Embedding, nil
}

// post sends a JSON request with auth and the per-call timeout.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(string(body), 300))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
