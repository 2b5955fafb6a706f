package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Default OpenAI configuration values
const (
	DefaultOpenAIModel     = "gpt-4"
	DefaultOpenAIMaxTokens = 4096
	DefaultOpenAIBaseURL   = "https://api.openai.com"
)

// OpenAI generates completions through the chat completions API.
type OpenAI struct {
	cfg clientConfig
}

// NewOpenAI creates an OpenAI client. The API key comes from OPENAI_API_KEY
// unless overridden with WithAPIKey.
func NewOpenAI(opts ...Option) *OpenAI {
	return &OpenAI{cfg: newClientConfig("OPENAI_API_KEY", DefaultOpenAIBaseURL, opts)}
}

type openaiRequest struct {
	Model       string      `json:"model"`
	Messages    []openaiMsg `json:"messages"`
	Temperature float64     `json:"temperature"`
	MaxTokens   int         `json:"max_tokens"`
}

type openaiMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	if o.cfg.apiKey == "" {
		return "", fmt.Errorf("openai: %w (set OPENAI_API_KEY)", ErrMissingAPIKey)
	}

	req := openaiRequest{
		Model:       cfg.Model,
		Messages:    []openaiMsg{{Role: "user", Content: prompt}},
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	if req.Model == "" {
		req.Model = DefaultOpenAIModel
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultOpenAIMaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.cfg.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.apiKey)

	httpResp, err := o.cfg.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai: http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai: API error %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp openaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("openai: unmarshal response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
