package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Default Anthropic configuration values
const (
	DefaultAnthropicModel     = "claude-sonnet-4-0"
	DefaultAnthropicMaxTokens = 64000
	DefaultAnthropicBaseURL   = "https://api.anthropic.com"
)

// Anthropic generates completions through the Anthropic Messages API.
type Anthropic struct {
	cfg clientConfig
}

// NewAnthropic creates an Anthropic client. The API key comes from
// ANTHROPIC_API_KEY unless overridden with WithAPIKey.
func NewAnthropic(opts ...Option) *Anthropic {
	return &Anthropic{cfg: newClientConfig("ANTHROPIC_API_KEY", DefaultAnthropicBaseURL, opts)}
}

type anthropicRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature"`
	Messages    []anthropicMsg `json:"messages"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the prompt as a single user message and returns the text
// content of the reply.
func (a *Anthropic) Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	if a.cfg.apiKey == "" {
		return "", fmt.Errorf("anthropic: %w (set ANTHROPIC_API_KEY)", ErrMissingAPIKey)
	}

	req := anthropicRequest{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Messages:    []anthropicMsg{{Role: "user", Content: prompt}},
	}
	if req.Model == "" {
		req.Model = DefaultAnthropicModel
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultAnthropicMaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.cfg.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := a.cfg.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic: http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("anthropic: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic: API error %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp anthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("anthropic: unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("anthropic: %s", resp.Error.Message)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
