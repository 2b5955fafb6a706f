// Package llm provides single-shot text generation backends.
//
// Each backend implements Generator: one prompt in, one completion out.
// Tool use is expressed in-band (the caller embeds tool descriptions in the
// prompt and parses tool requests out of the completion), so the backends
// stay plain HTTP clients with no provider-specific tool plumbing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error)
}

// ModelConfig selects the model and sampling parameters for one request.
// Zero values fall back to backend defaults.
type ModelConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ErrMissingAPIKey is returned when a backend has no API key configured.
var ErrMissingAPIKey = errors.New("llm: missing API key")

// DefaultTimeout bounds a single generation request.
const DefaultTimeout = 5 * time.Minute

// Option configures a backend client.
type Option func(*clientConfig)

type clientConfig struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// WithAPIKey sets the API key, overriding the environment.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) {
		c.apiKey = key
	}
}

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

func newClientConfig(envKey, defaultBaseURL string, opts []Option) clientConfig {
	c := clientConfig{
		apiKey:     os.Getenv(envKey),
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// New returns the Generator for a provider name.
func New(provider string, opts ...Option) (Generator, error) {
	switch provider {
	case "anthropic":
		return NewAnthropic(opts...), nil
	case "openai":
		return NewOpenAI(opts...), nil
	case "google", "gemini":
		return NewGemini(opts...), nil
	case "mock":
		return NewMock(), nil
	}
	return nil, fmt.Errorf("llm: unknown provider %q", provider)
}
