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

// Default Gemini configuration values
const (
	DefaultGeminiModel     = "gemini-2.5-flash"
	DefaultGeminiMaxTokens = 2048
	DefaultGeminiBaseURL   = "https://generativelanguage.googleapis.com"
)

// Gemini generates completions through the Google generative language API.
type Gemini struct {
	cfg clientConfig
}

// NewGemini creates a Gemini client. The API key comes from GEMINI_API_KEY
// unless overridden with WithAPIKey.
func NewGemini(opts ...Option) *Gemini {
	return &Gemini{cfg: newClientConfig("GEMINI_API_KEY", DefaultGeminiBaseURL, opts)}
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	if g.cfg.apiKey == "" {
		return "", fmt.Errorf("gemini: %w (set GEMINI_API_KEY)", ErrMissingAPIKey)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultGeminiMaxTokens
	}

	req := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenConfig{
			Temperature:     cfg.Temperature,
			MaxOutputTokens: maxTokens,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.cfg.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.cfg.apiKey)

	httpResp, err := g.cfg.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini: http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini: API error %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp geminiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("gemini: unmarshal response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini: empty response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}
