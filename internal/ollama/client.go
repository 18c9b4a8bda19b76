// Package ollama is the HTTP client for the local inference engine. It is the
// only place the process talks to an external model capability; everything
// above it depends on narrow interfaces so a different provider can be
// substituted.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bizpilot/bizpilot/internal/faults"
)

// Message represents a chat message in the Ollama API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output structure for structured chat responses.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Items       *SchemaProperty `json:"items,omitempty"`
}

// ChatResult is the assistant response plus the token accounting the model
// call logger records.
type ChatResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens returns prompt plus completion tokens.
func (r ChatResult) TotalTokens() int { return r.PromptTokens + r.CompletionTokens }

// Client communicates with a local Ollama instance over HTTP.
type Client struct {
	baseURL     string
	callTimeout time.Duration
	httpClient  *http.Client
}

// New creates a Client targeting the given Ollama base URL. callTimeout bounds
// each individual Chat and Embed call; zero means the caller's context is the
// only deadline. The underlying http.Client has none so the per-call bound is
// the single source of truth.
func New(baseURL string, callTimeout time.Duration) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		callTimeout: callTimeout,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout > 0 {
		return context.WithTimeout(ctx, c.callTimeout)
	}
	return ctx, func() {}
}

// IsRunning returns true if the server responds to GET /api/tags with 200.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   any       `json:"format,omitempty"`
}

// chatResponse is the JSON returned by POST /api/chat (non-streaming).
type chatResponse struct {
	Message         Message `json:"message"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

// Chat sends messages to the given model and returns the assistant's response
// with token counts. When jsonSchema is non-nil the schema is passed as the
// format to request structured output.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (ChatResult, error) {
	cr := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	}
	if jsonSchema != nil {
		cr.Format = jsonSchema
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return ChatResult{}, err
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return ChatResult{}, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ChatResult{}, faults.Provider(fmt.Errorf("chat request: %w", err))
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "chat"); err != nil {
		return ChatResult{}, err
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ChatResult{}, faults.Provider(fmt.Errorf("decoding chat response: %w", err))
	}

	return ChatResult{
		Content:          result.Message.Content,
		PromptTokens:     result.PromptEvalCount,
		CompletionTokens: result.EvalCount,
	}, nil
}

// embedRequest is the JSON body for POST /api/embed.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the JSON returned by POST /api/embed.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding vector for the given text using the specified model.
func (c *Client) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: model, Input: text})
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, faults.Provider(fmt.Errorf("embed request: %w", err))
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "embed"); err != nil {
		return nil, err
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, faults.Provider(fmt.Errorf("decoding embed response: %w", err))
	}

	if len(result.Embeddings) == 0 {
		return nil, faults.Provider(fmt.Errorf("embed: empty embeddings array"))
	}
	return result.Embeddings[0], nil
}

// checkStatus maps non-200 responses to faults. 429 carries the provider's
// Retry-After hint when present.
func checkStatus(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return faults.RateLimited(fmt.Errorf("%s: rate limited", op), retryAfter(resp))
	default:
		return faults.Provider(fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode))
	}
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
